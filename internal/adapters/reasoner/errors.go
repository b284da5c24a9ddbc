package reasoner

import "errors"

var (
	// ErrMalformed is returned when the reasoning response cannot be used.
	ErrMalformed = errors.New("malformed reasoning response")
	// ErrDisabled is returned by a client built without reasoning enabled.
	ErrDisabled = errors.New("reasoning disabled")
)
