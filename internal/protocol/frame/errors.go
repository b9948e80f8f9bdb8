package frame

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTag     = errors.New("frame: unknown tag")
	ErrFrameOverflow  = errors.New("frame: frame exceeds buffer limit")
	ErrNoTerminators  = errors.New("frame: terminator set is empty")
	ErrBodyTerminated = errors.New("frame: body contains terminator")
)

// UnknownTagError keeps the discarded frame for diagnostics.
type UnknownTagError struct {
	Frame string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("%v: frame=%q", ErrUnknownTag, e.Frame)
}

func (e *UnknownTagError) Unwrap() error {
	return ErrUnknownTag
}
