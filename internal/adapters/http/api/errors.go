package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/ctxbuild"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/feedback"
	"github.com/okian/pulse/internal/domain/ingest"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBackpressure = errors.New("backpressure")
	ErrInternal     = errors.New("internal error")
)

// KindError tags an operation failure with one of the sentinel kinds.
type KindError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind reports a kind without a cause.
func NewKind(op string, kind error) error {
	return &KindError{Op: op, Kind: kind}
}

// WrapKind tags err with kind.
func WrapKind(op string, kind, err error) error {
	return &KindError{Op: op, Kind: kind, Err: err}
}

// classify maps a dependency error to its API kind.
func classify(op string, err error) error {
	var ke *KindError
	if errors.As(err, &ke) {
		return err
	}
	switch {
	case errors.Is(err, ingest.ErrInvalidRange),
		errors.Is(err, feedback.ErrInvalidScore),
		errors.Is(err, feedback.ErrInvalidOutcome),
		errors.Is(err, feedback.ErrInvalidDuration),
		errors.Is(err, feedback.ErrInvalidWindow),
		errors.Is(err, repository.ErrInvalidQuery):
		return WrapKind(op, ErrBadRequest, err)
	case errors.Is(err, ingest.ErrUnknownScope),
		errors.Is(err, ctxbuild.ErrNoActiveJourney),
		errors.Is(err, feedback.ErrRecommendationNotFound),
		errors.Is(err, repository.ErrNotFound):
		return WrapKind(op, ErrNotFound, err)
	case errors.Is(err, dedupe.ErrPending):
		return WrapKind(op, ErrConflict, err)
	case errors.Is(err, queue.ErrFull):
		return WrapKind(op, ErrBackpressure, err)
	default:
		return WrapKind(op, ErrInternal, err)
	}
}

// statusFor returns the HTTP status and error code of a classified error.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
