package bus

import "errors"

var (
	ErrQueueFull      = errors.New("bus: queue full")
	ErrRecordTooLarge = errors.New("bus: record too large")
	ErrEmptyToken     = errors.New("bus: empty command token")
	ErrClosed         = errors.New("bus: closed")
)
