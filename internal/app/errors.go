package service

import "errors"

var (
	// ErrNotStarted is returned by operations called before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrJourneySeed is returned for unreadable or invalid journey seed files.
	ErrJourneySeed = errors.New("invalid journey seed")
)
