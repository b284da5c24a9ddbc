package pulsectl

import (
	"errors"
	"fmt"
)

var (
	// ErrUsage reports a bad command line.
	ErrUsage = errors.New("usage")
	// ErrUnexpectedStatus reports a non-2xx reply without an error document.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// APIError is the error document returned by the pulse API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}
