package scoring

import "errors"

// ErrInvalidWeights is returned when factor weights are negative or do not sum to 1.0.
var ErrInvalidWeights = errors.New("invalid scoring weights")
