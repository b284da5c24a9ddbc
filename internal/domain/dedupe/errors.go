package dedupe

import "errors"

// ErrPending is returned by callers that reject work whose key is still in flight.
var ErrPending = errors.New("already pending")
