package ingest

import "errors"

var (
	// ErrUnknownScope is returned for scopes missing from configuration.
	ErrUnknownScope = errors.New("unknown scope")
	// ErrInvalidRange is returned when since is after until.
	ErrInvalidRange = errors.New("invalid time range")
)
