// Package link owns the half-duplex radio transport: bounded-retry sends with
// a per-attempt deadline, radio power-state transitions and inbound polling.
package link

import (
	"context"
	"fmt"
)

// Mode is the radio's power state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSleep
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSleep:
		return "sleep"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Radio is the physical driver. The physical layer provides packet
// boundaries: one Transmit is one packet, one Poll result is one packet.
type Radio interface {
	// Transmit sends one packet. Drivers may ignore ctx and block past it.
	Transmit(ctx context.Context, packet []byte) error
	// Poll returns a pending inbound packet without blocking.
	Poll() ([]byte, bool)
	SetMode(m Mode) error
}

// Indicator is toggled once per successful send.
type Indicator interface {
	Toggle()
}

// IndicatorFunc adapts a function to Indicator.
type IndicatorFunc func()

func (f IndicatorFunc) Toggle() { f() }

type nopIndicator struct{}

func (nopIndicator) Toggle() {}
