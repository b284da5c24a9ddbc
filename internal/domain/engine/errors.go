package engine

import "errors"

var (
	// ErrBuildContext wraps every failure of the context building stage.
	ErrBuildContext = errors.New("build context")
	// ErrPersist is returned when the recommendation could not be stored.
	ErrPersist = errors.New("persist recommendation")
)
