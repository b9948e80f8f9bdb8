package relay

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand  = errors.New("relay: unknown command")
	ErrUnknownEndpoint = errors.New("relay: no endpoint for record class")
	ErrNoBaseURL       = errors.New("relay: base url required")
	ErrSpoolCorrupt    = errors.New("relay: spool corrupt")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: unexpected status %d", e.Code)
}

// Retriable reports whether the request may succeed if repeated.
func (e *StatusError) Retriable() bool {
	return e.Code >= 500 || e.Code == 429
}
