package queue

import "errors"

// ErrFull is returned by callers whose job the queue rejected.
var ErrFull = errors.New("queue full")
