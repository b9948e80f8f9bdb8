// Package stub provides an in-memory radio for host-side tests and loopback
// simulation.
package stub

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/agrilink/internal/link"
)

// TransmitFunc scripts the outcome of the n-th transmit (0-based).
type TransmitFunc func(n int, packet []byte) error

// Radio is a mock radio. Transmitted packets land in the tx log and, when
// paired, in the peer's receive buffer.
type Radio struct {
	mu       sync.Mutex
	rx       ringBuffer
	tx       [][]byte
	modes    []link.Mode
	mode     link.Mode
	sent     int
	peer     *Radio
	script   TransmitFunc
	airtime  time.Duration
	advance  func(time.Duration)
	dropNext int
}

var _ link.Radio = (*Radio)(nil)

func New() *Radio {
	return &Radio{}
}

// Pair returns two radios that deliver to each other.
func Pair() (*Radio, *Radio) {
	a, b := New(), New()
	a.peer = b
	b.peer = a
	return a, b
}

// Script sets the per-transmit outcome hook.
func (r *Radio) Script(fn TransmitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = fn
}

// Airtime makes every transmit take d; advance is called with d instead of
// sleeping when set, so a fake clock can move forward.
func (r *Radio) Airtime(d time.Duration, advance func(time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.airtime = d
	r.advance = advance
}

// DropNext silently loses the next n packets in flight to the peer.
func (r *Radio) DropNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropNext = n
}

func (r *Radio) Transmit(ctx context.Context, data []byte) error {
	r.mu.Lock()
	n := r.sent
	r.sent++
	script := r.script
	airtime, advance := r.airtime, r.advance
	asleep := r.mode == link.ModeSleep
	r.mu.Unlock()

	if asleep {
		return link.ErrRadioAsleep
	}
	if airtime > 0 {
		if advance != nil {
			advance(airtime)
		} else {
			time.Sleep(airtime)
		}
	}
	if script != nil {
		if err := script(n, data); err != nil {
			return err
		}
	}

	frame := make([]byte, len(data))
	copy(frame, data)

	r.mu.Lock()
	r.tx = append(r.tx, frame)
	peer := r.peer
	drop := r.dropNext > 0
	if drop {
		r.dropNext--
	}
	r.mu.Unlock()

	if peer != nil && !drop {
		peer.InjectRx(frame)
	}
	return nil
}

func (r *Radio) Poll() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frame, ok := r.rx.pop()
	if !ok {
		return nil, false
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, true
}

func (r *Radio) SetMode(m link.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
	r.modes = append(r.modes, m)
	return nil
}

func (r *Radio) InjectRx(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frame := make([]byte, len(data))
	copy(frame, data)
	r.rx.push(frame)
}

// TxLog returns copies of every successfully transmitted packet.
func (r *Radio) TxLog() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.tx))
	for i, p := range r.tx {
		cp := make([]byte, len(p))
		copy(cp, p)
		out[i] = cp
	}
	return out
}

// Transmits counts every Transmit call, failed or not.
func (r *Radio) Transmits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Modes returns the power-state transitions in order.
func (r *Radio) Modes() []link.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]link.Mode, len(r.modes))
	copy(out, r.modes)
	return out
}

const ringCapacity = 256

type ringBuffer struct {
	data       [ringCapacity][]byte
	head, tail int
	count      int
}

// push overwrites the oldest packet when full to keep memory bounded.
func (rb *ringBuffer) push(frame []byte) {
	if rb.count == ringCapacity {
		rb.data[rb.head] = nil
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = frame
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) pop() ([]byte, bool) {
	if rb.count == 0 {
		return nil, false
	}
	frame := rb.data[rb.head]
	rb.data[rb.head] = nil
	rb.head = (rb.head + 1) % ringCapacity
	rb.count--
	return frame, true
}
