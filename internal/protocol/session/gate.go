package session

import (
	"context"
	"sync/atomic"
	"time"
)

// Gate is the "transfer in progress" flag over the single radio. Only the
// transfer worker acquires it; every other worker reads it through a GateView.
type Gate struct {
	busy  atomic.Bool
	owner atomic.Value
}

// GateView is the read-only side of a Gate.
type GateView interface {
	InProgress() bool
}

func NewGate() *Gate {
	g := &Gate{}
	g.owner.Store("")
	return g
}

// TryAcquire sets the flag for owner if it is clear.
func (g *Gate) TryAcquire(owner string) bool {
	if !g.busy.CompareAndSwap(false, true) {
		return false
	}
	g.owner.Store(owner)
	return true
}

func (g *Gate) Release() {
	g.owner.Store("")
	g.busy.Store(false)
}

func (g *Gate) InProgress() bool {
	return g.busy.Load()
}

// Owner names the current holder, empty when the gate is clear.
func (g *Gate) Owner() string {
	s, _ := g.owner.Load().(string)
	return s
}

// View hides the write side of the gate.
func (g *Gate) View() GateView {
	return gateView{g: g}
}

type gateView struct{ g *Gate }

func (v gateView) InProgress() bool { return v.g.InProgress() }

// WaitIdle yields in poll-sized sleeps until no transfer is in progress.
func WaitIdle(ctx context.Context, view GateView, poll time.Duration) error {
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	for view.InProgress() {
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
