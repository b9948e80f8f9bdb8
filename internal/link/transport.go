package link

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/agrilink/internal/observability"
	"github.com/danmuck/agrilink/internal/protocol"
	"github.com/rs/zerolog/log"
)

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Option func(*Transport)

func WithIndicator(ind Indicator) Option {
	return func(t *Transport) {
		if ind != nil {
			t.indicator = ind
		}
	}
}

// WithClock replaces wall-clock reads and sleeps; tests use it to observe
// backoff without waiting.
func WithClock(now func() time.Time, sleep SleepFunc) Option {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// Transport serializes access to one half-duplex radio.
type Transport struct {
	radio     Radio
	cfg       Config
	indicator Indicator
	now       func() time.Time
	sleep     SleepFunc

	mu       sync.Mutex
	activity atomic.Uint64
}

func NewTransport(radio Radio, cfg Config, opts ...Option) *Transport {
	t := &Transport{
		radio:     radio,
		cfg:       cfg.WithDefaults(),
		indicator: nopIndicator{},
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Config() Config {
	return t.cfg
}

// Send transmits one packet using the configured retries and timeout.
func (t *Transport) Send(ctx context.Context, p protocol.Packet) error {
	return t.SendWith(ctx, p, t.cfg.MaxRetries, t.cfg.Timeout)
}

// SendWith transmits one packet with explicit retry and timeout bounds.
func (t *Transport) SendWith(ctx context.Context, p protocol.Packet, maxRetries int, timeout time.Duration) error {
	if p.Size() > t.cfg.Limits.MaxPacketBytes {
		return fmt.Errorf("%w: %d > %d", protocol.ErrPacketTooLarge, p.Size(), t.cfg.Limits.MaxPacketBytes)
	}
	return t.transmit(ctx, p.Encode(), maxRetries, timeout)
}

// SendFrame transmits a pre-encoded text frame under the same discipline.
func (t *Transport) SendFrame(ctx context.Context, b []byte) error {
	if len(b) > t.cfg.Limits.MaxPacketBytes {
		return fmt.Errorf("%w: %d > %d", protocol.ErrPacketTooLarge, len(b), t.cfg.Limits.MaxPacketBytes)
	}
	return t.transmit(ctx, b, t.cfg.MaxRetries, t.cfg.Timeout)
}

func (t *Transport) transmit(ctx context.Context, data []byte, maxRetries int, timeout time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if timeout <= 0 {
		timeout = t.cfg.Timeout
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	started := t.now()
	var (
		last     error
		timeouts int
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := t.attempt(ctx, data, timeout)
		if err == nil {
			observability.RecordSendAttempt("ok")
			observability.RecordSend(true, t.now().Sub(started))
			t.activity.Add(1)
			t.indicator.Toggle()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		last = err
		outcome := "error"
		if errors.Is(err, ErrTimeout) {
			timeouts++
			outcome = "timeout"
		}
		observability.RecordSendAttempt(outcome)

		delay := RetryDelay(t.cfg.BaseDelay, attempt)
		log.Debug().
			Int("attempt", attempt+1).
			Int("max", maxRetries).
			Dur("delay", delay).
			Err(err).
			Msg("link.Transport.transmit attempt failed")
		if err := t.sleep(ctx, delay); err != nil {
			return err
		}
	}

	observability.RecordSend(false, t.now().Sub(started))
	kind := KindExhausted
	if timeouts == maxRetries {
		kind = KindTimeout
	}
	return &TransportError{Kind: kind, Attempts: maxRetries, Timeouts: timeouts, Last: last}
}

// attempt runs one transmit. An attempt that outlives timeout is a failure
// even if the driver reported success; the radio is cycled through sleep to
// recover it.
func (t *Transport) attempt(ctx context.Context, data []byte, timeout time.Duration) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	start := t.now()
	err := t.radio.Transmit(actx, data)
	cancel()
	elapsed := t.now().Sub(start)

	if elapsed > timeout || (err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		t.recover(ctx)
		return fmt.Errorf("%w: elapsed=%s timeout=%s", ErrTimeout, elapsed, timeout)
	}
	return err
}

func (t *Transport) recover(ctx context.Context) {
	if err := t.radio.SetMode(ModeSleep); err != nil {
		log.Warn().Err(err).Msg("link.Transport.recover sleep transition failed")
	}
	_ = t.sleep(ctx, t.cfg.SettleDelay)
	if err := t.radio.SetMode(ModeIdle); err != nil {
		log.Warn().Err(err).Msg("link.Transport.recover idle transition failed")
	}
}

// Poll returns one pending inbound packet without blocking.
func (t *Transport) Poll() ([]byte, bool) {
	return t.radio.Poll()
}

// Receive yields inbound packets until ctx is done, sleeping PollInterval
// whenever nothing is pending.
func (t *Transport) Receive(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for ctx.Err() == nil {
			b, ok := t.radio.Poll()
			if !ok {
				if err := t.sleep(ctx, t.cfg.PollInterval); err != nil {
					return
				}
				continue
			}
			if !yield(b) {
				return
			}
		}
	}
}

// Activity counts successful sends.
func (t *Transport) Activity() uint64 {
	return t.activity.Load()
}
