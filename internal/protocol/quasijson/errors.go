package quasijson

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPayload  = errors.New("quasijson: malformed payload")
	ErrFieldTypeMismatch = errors.New("quasijson: field type mismatch")
	ErrMissingField      = errors.New("quasijson: missing field")
)

// MalformedPayloadError keeps the offending body for diagnostics.
type MalformedPayloadError struct {
	Raw      string
	Repaired string
	Err      error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("%v: raw=%q: %v", ErrMalformedPayload, e.Raw, e.Err)
}

func (e *MalformedPayloadError) Unwrap() []error {
	return []error{ErrMalformedPayload, e.Err}
}

// FieldTypeMismatchError names the first field that could not be coerced.
type FieldTypeMismatchError struct {
	Field string
	Want  Kind
	Got   string
}

func (e *FieldTypeMismatchError) Error() string {
	return fmt.Sprintf("%v: field=%s want=%s got=%s", ErrFieldTypeMismatch, e.Field, e.Want, e.Got)
}

func (e *FieldTypeMismatchError) Unwrap() error {
	return ErrFieldTypeMismatch
}
