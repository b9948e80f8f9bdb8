package link_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/agrilink/internal/link"
	"github.com/danmuck/agrilink/internal/link/stub"
	"github.com/danmuck/agrilink/internal/protocol"
	"github.com/danmuck/agrilink/internal/testutil/testlog"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func dataPacket(t *testing.T) protocol.Packet {
	t.Helper()
	p, err := protocol.MakeDataPacket(0, []byte("chunk"), protocol.DefaultLimits())
	if err != nil {
		t.Fatalf("data packet: %v", err)
	}
	return p
}

func TestSendExhaustedWithLinearBackoff(t *testing.T) {
	testlog.Start(t)
	radio := stub.New()
	boom := errors.New("tx fault")
	radio.Script(func(int, []byte) error { return boom })
	clock := newFakeClock()

	cfg := link.DefaultConfig()
	cfg.BaseDelay = 100 * time.Millisecond
	tr := link.NewTransport(radio, cfg, link.WithClock(clock.Now, clock.Sleep))

	err := tr.SendWith(context.Background(), dataPacket(t), 3, time.Second)
	if !errors.Is(err, link.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error in chain, got %v", err)
	}
	var te *link.TransportError
	if !errors.As(err, &te) || te.Kind != link.KindExhausted || te.Attempts != 3 {
		t.Fatalf("unexpected transport error: %+v", te)
	}
	if radio.Transmits() != 3 {
		t.Fatalf("transmits=%d want 3", radio.Transmits())
	}

	sleeps := clock.Sleeps()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps=%v", sleeps)
	}
	var total time.Duration
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("sleep[%d]=%v want %v", i, sleeps[i], want[i])
		}
		total += sleeps[i]
	}
	if total != 600*time.Millisecond {
		t.Fatalf("cumulative delay=%v", total)
	}
	if tr.Activity() != 0 {
		t.Fatalf("activity=%d", tr.Activity())
	}
}

func TestSendRecoversAfterFailure(t *testing.T) {
	testlog.Start(t)
	radio := stub.New()
	radio.Script(func(n int, _ []byte) error {
		if n == 0 {
			return errors.New("busy")
		}
		return nil
	})
	clock := newFakeClock()
	toggles := 0
	tr := link.NewTransport(radio, link.DefaultConfig(),
		link.WithClock(clock.Now, clock.Sleep),
		link.WithIndicator(link.IndicatorFunc(func() { toggles++ })),
	)
	if err := tr.Send(context.Background(), dataPacket(t)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if radio.Transmits() != 2 || len(radio.TxLog()) != 1 {
		t.Fatalf("transmits=%d logged=%d", radio.Transmits(), len(radio.TxLog()))
	}
	if toggles != 1 || tr.Activity() != 1 {
		t.Fatalf("toggles=%d activity=%d", toggles, tr.Activity())
	}
}

func TestLateSuccessCountsAsTimeout(t *testing.T) {
	testlog.Start(t)
	radio := stub.New()
	clock := newFakeClock()
	radio.Airtime(3*time.Second, clock.Advance)

	cfg := link.DefaultConfig()
	cfg.SettleDelay = 10 * time.Millisecond
	tr := link.NewTransport(radio, cfg, link.WithClock(clock.Now, clock.Sleep))

	err := tr.SendWith(context.Background(), dataPacket(t), 2, time.Second)
	if !errors.Is(err, link.ErrTimeout) || !errors.Is(err, link.ErrExhausted) {
		t.Fatalf("expected timeout exhaustion, got %v", err)
	}
	var te *link.TransportError
	if !errors.As(err, &te) || te.Kind != link.KindTimeout || te.Timeouts != 2 {
		t.Fatalf("unexpected transport error: %+v", te)
	}
	modes := radio.Modes()
	want := []link.Mode{link.ModeSleep, link.ModeIdle, link.ModeSleep, link.ModeIdle}
	if len(modes) != len(want) {
		t.Fatalf("modes=%v", modes)
	}
	for i := range want {
		if modes[i] != want[i] {
			t.Fatalf("mode[%d]=%v want %v", i, modes[i], want[i])
		}
	}
	if tr.Activity() != 0 {
		t.Fatalf("late success must not count as activity")
	}
}

func TestSendRejectsOversizedFrame(t *testing.T) {
	testlog.Start(t)
	cfg := link.DefaultConfig()
	cfg.Limits = protocol.Limits{MaxPacketBytes: 8}
	tr := link.NewTransport(stub.New(), cfg)
	if err := tr.SendFrame(context.Background(), make([]byte, 9)); !errors.Is(err, protocol.ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
}

func TestReceiveYieldsInboundPackets(t *testing.T) {
	testlog.Start(t)
	radio := stub.New()
	radio.InjectRx([]byte("one"))
	radio.InjectRx([]byte("two"))
	clock := newFakeClock()
	tr := link.NewTransport(radio, link.DefaultConfig(), link.WithClock(clock.Now, clock.Sleep))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []string
	for b := range tr.Receive(ctx) {
		got = append(got, string(b))
		if len(got) == 2 {
			break
		}
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("received=%v", got)
	}
	if _, ok := tr.Poll(); ok {
		t.Fatalf("expected nothing pending")
	}
}

func TestReceiveStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	tr := link.NewTransport(stub.New(), link.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for range tr.Receive(ctx) {
		t.Fatalf("no packets expected")
	}
}

func TestRetryDelay(t *testing.T) {
	if got := link.RetryDelay(50*time.Millisecond, 0); got != 50*time.Millisecond {
		t.Fatalf("attempt0=%v", got)
	}
	if got := link.RetryDelay(50*time.Millisecond, 3); got != 200*time.Millisecond {
		t.Fatalf("attempt3=%v", got)
	}
	if got := link.RetryDelay(0, 3); got != 0 {
		t.Fatalf("zero base=%v", got)
	}
}
