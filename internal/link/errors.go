package link

import (
	"errors"
	"fmt"
)

var (
	ErrExhausted   = errors.New("link: send retries exhausted")
	ErrTimeout     = errors.New("link: send attempt exceeded timeout")
	ErrRadioAsleep = errors.New("link: radio is asleep")
)

type ErrorKind int

const (
	KindExhausted ErrorKind = iota
	KindTimeout
)

func (k ErrorKind) String() string {
	if k == KindTimeout {
		return "timeout"
	}
	return "exhausted"
}

// TransportError reports a send that failed after every retry. Kind is
// KindTimeout only when every attempt hit the deadline.
type TransportError struct {
	Kind     ErrorKind
	Attempts int
	Timeouts int
	Last     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link: send %s after %d attempts (timeouts=%d): %v", e.Kind, e.Attempts, e.Timeouts, e.Last)
}

// Unwrap exposes ErrExhausted for every exhausted send, ErrTimeout when every
// attempt timed out, and the last attempt's error.
func (e *TransportError) Unwrap() []error {
	out := []error{ErrExhausted}
	if e.Kind == KindTimeout {
		out = append(out, ErrTimeout)
	}
	if e.Last != nil {
		out = append(out, e.Last)
	}
	return out
}
