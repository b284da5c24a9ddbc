package ctxbuild

import "errors"

// ErrNoActiveJourney is returned when the scope has no active journey.
var ErrNoActiveJourney = errors.New("no active journey")
