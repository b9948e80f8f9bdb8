package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/agrilink/internal/protocol"
	"github.com/rs/zerolog/log"
)

const reportHistory = 32

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithNow replaces the clock used for outbox timestamps and requeue backoff.
func WithNow(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRand seeds requeue jitter.
func WithRand(rng *rand.Rand) CoordinatorOption {
	return func(c *Coordinator) {
		c.rng = rng
	}
}

// WithPacketObserver receives every data packet event of every session.
func WithPacketObserver(fn func(PacketEvent)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onPacket = fn
	}
}

// Coordinator serializes transfers over one Sender. At most one session is
// active at a time; resources submitted meanwhile wait in the outbox.
type Coordinator struct {
	cfg      Config
	sender   Sender
	gate     *Gate
	outbox   *ResourceOutbox
	now      func() time.Time
	onPacket func(PacketEvent)

	mu      sync.Mutex
	rng     *rand.Rand
	reports []Report
}

func NewCoordinator(sender Sender, cfg Config, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		sender: sender,
		gate:   NewGate(),
		outbox: NewResourceOutbox(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Gate() GateView {
	return c.gate.View()
}

// Submit defers res until the transfer slot is free. Duplicates are ignored.
func (c *Coordinator) Submit(res Resource) bool {
	ok := c.outbox.Enqueue(res, c.now())
	if ok {
		log.Debug().Msgf("session.Coordinator.Submit queued id=%s size=%d pending=%d", res.ID, res.Size, c.outbox.Len())
	}
	return ok
}

func (c *Coordinator) Pending() []PendingResource {
	return c.outbox.List()
}

// Reports returns the most recent session reports, oldest first.
func (c *Coordinator) Reports() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Report, len(c.reports))
	copy(out, c.reports)
	return out
}

// Transfer runs one session immediately, or fails with ErrTransferActive
// when another transfer holds the gate.
func (c *Coordinator) Transfer(ctx context.Context, res Resource) (Report, error) {
	s := NewSession(res, c.cfg)
	if !c.gate.TryAcquire(s.ID) {
		return Report{ResourceID: res.ID, Name: res.Name, State: StateIdle.String(), Error: ErrTransferActive.Error()}, ErrTransferActive
	}
	defer c.gate.Release()
	s.OnPacket = c.onPacket
	report, err := s.Run(ctx, c.sender)
	c.record(report)
	return report, err
}

// Drain tries each ready outbox entry once, in discovery order, stopping
// early when the gate is taken or ctx ends. Successful resources leave the
// outbox; failed ones are requeued with backoff until MaxTransferAttempts.
func (c *Coordinator) Drain(ctx context.Context) []Report {
	var out []Report
	for _, item := range c.outbox.List() {
		if ctx.Err() != nil {
			break
		}
		if !item.ready(c.now()) {
			continue
		}
		report, err := c.Transfer(ctx, item.Resource)
		if errors.Is(err, ErrTransferActive) {
			break
		}
		out = append(out, report)
		if err == nil {
			c.outbox.Remove(item.ID)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		c.requeue(item, err)
	}
	return out
}

func (c *Coordinator) requeue(item PendingResource, cause error) {
	permanent := errors.Is(cause, ErrResourceTooLarge) || errors.Is(cause, ErrSourceOpen) || errors.Is(cause, ErrInvalidConfig) ||
		errors.Is(cause, protocol.ErrNameTooLong)
	attempts := item.Attempts + 1
	if permanent || (c.cfg.MaxTransferAttempts > 0 && attempts >= c.cfg.MaxTransferAttempts) {
		c.outbox.Remove(item.ID)
		log.Warn().Err(cause).Msgf("session.Coordinator.requeue dropped id=%s attempts=%d", item.ID, attempts)
		return
	}
	c.mu.Lock()
	delay := RequeueDelay(c.cfg.Requeue, attempts, c.rng)
	c.mu.Unlock()
	now := c.now()
	c.outbox.MarkAttempt(item.ID, now, now.Add(delay), cause.Error())
	log.Info().Msgf("session.Coordinator.requeue id=%s attempts=%d retry_in=%s", item.ID, attempts, delay)
}

func (c *Coordinator) record(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	if len(c.reports) > reportHistory {
		c.reports = c.reports[len(c.reports)-reportHistory:]
	}
}
