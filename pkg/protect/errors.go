package protect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrCircuitOpen is matched by errors.Is on every *CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitOpenError is returned without calling upstream while a breaker rejects calls.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("protect: circuit open: %s", e.Name)
}

// Is makes errors.Is(err, ErrCircuitOpen) work.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// StatusError carries an upstream HTTP status.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Transient reports whether retrying may succeed.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == 429
}

type markedError struct {
	err       error
	transient bool
}

func (e *markedError) Error() string   { return e.err.Error() }
func (e *markedError) Unwrap() error   { return e.err }
func (e *markedError) Transient() bool { return e.transient }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, transient: true}
}

// Permanent marks err as not retryable regardless of its type.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, transient: false}
}

// IsTransient classifies err: network failures, timeouts, 5xx and 429 are
// transient; everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var marked interface{ Transient() bool }
	if errors.As(err, &marked) {
		return marked.Transient()
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
