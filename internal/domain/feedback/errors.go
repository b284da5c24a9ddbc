package feedback

import "errors"

// Sentinel kinds for rejected submissions.
var (
	ErrInvalidScore           = errors.New("feedback score must be -1, 0 or 1")
	ErrInvalidOutcome         = errors.New("unknown outcome")
	ErrInvalidDuration        = errors.New("time to complete must not be negative")
	ErrInvalidWindow          = errors.New("stats window must be positive")
	ErrRecommendationNotFound = errors.New("recommendation not found")
)
