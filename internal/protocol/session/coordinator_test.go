package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/agrilink/internal/testutil/testlog"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCoordinatorRejectsSecondActiveTransfer(t *testing.T) {
	testlog.Start(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	sender := &scriptedSender{hook: func(call int) {
		if call == 0 {
			close(entered)
			<-release
		}
	}}
	c := NewCoordinator(sender, testConfig())

	done := make(chan error, 1)
	go func() {
		_, err := c.Transfer(context.Background(), BytesResource("a", "a", []byte("12345678")))
		done <- err
	}()
	<-entered
	if !c.Gate().InProgress() {
		t.Fatalf("gate should be held during a transfer")
	}
	if _, err := c.Transfer(context.Background(), BytesResource("b", "b", []byte("x"))); !errors.Is(err, ErrTransferActive) {
		t.Fatalf("expected ErrTransferActive, got %v", err)
	}
	if got := c.Drain(context.Background()); len(got) != 0 {
		t.Fatalf("drain must not run while gate is held: %+v", got)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if c.Gate().InProgress() {
		t.Fatalf("gate should be released")
	}
	if sender.Calls() != 3 {
		t.Fatalf("calls=%d", sender.Calls())
	}
}

func TestCoordinatorDrainsInDiscoveryOrderAndDedupes(t *testing.T) {
	testlog.Start(t)
	sender := &scriptedSender{}
	c := NewCoordinator(sender, testConfig())
	if !c.Submit(BytesResource("second", "b", []byte("bb"))) {
		t.Fatalf("submit second")
	}
	if !c.Submit(BytesResource("first", "a", []byte("aa"))) {
		t.Fatalf("submit first")
	}
	if c.Submit(BytesResource("second", "b", []byte("bb"))) {
		t.Fatalf("duplicate submit should be ignored")
	}
	reports := c.Drain(context.Background())
	if len(reports) != 2 || reports[0].ResourceID != "second" || reports[1].ResourceID != "first" {
		t.Fatalf("unexpected order: %+v", reports)
	}
	if len(c.Pending()) != 0 {
		t.Fatalf("pending=%d", len(c.Pending()))
	}
	// metadata, data, metadata, data; never interleaved.
	if len(sender.sent) != 4 || sender.sent[0].Metadata().Name != "b" || sender.sent[2].Metadata().Name != "a" {
		t.Fatalf("unexpected wire order")
	}
	if len(c.Reports()) != 2 {
		t.Fatalf("reports=%d", len(c.Reports()))
	}
}

func TestCoordinatorRequeuesAbortedTransferWithBackoff(t *testing.T) {
	testlog.Start(t)
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	sender := &scriptedSender{fail: map[int]bool{0: true}}
	cfg := testConfig()
	cfg.MaxTransferAttempts = 2
	c := NewCoordinator(sender, cfg, WithNow(clock.Now))
	c.Submit(BytesResource("r", "r", bytes.Repeat([]byte{1}, 8)))

	reports := c.Drain(context.Background())
	if len(reports) != 1 || reports[0].Error == "" {
		t.Fatalf("expected one failed report: %+v", reports)
	}
	pending := c.Pending()
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("pending=%+v", pending)
	}
	if want := clock.Now().Add(time.Second); !pending[0].NotBefore.Equal(want) {
		t.Fatalf("not_before=%v want=%v", pending[0].NotBefore, want)
	}
	if got := c.Drain(context.Background()); len(got) != 0 {
		t.Fatalf("backoff not honoured: %+v", got)
	}

	clock.Advance(time.Second)
	sender.mu.Lock()
	sender.fail = map[int]bool{1: true}
	sender.mu.Unlock()
	reports = c.Drain(context.Background())
	if len(reports) != 1 || reports[0].Error == "" {
		t.Fatalf("expected second failure: %+v", reports)
	}
	if len(c.Pending()) != 0 {
		t.Fatalf("resource should be dropped after max attempts")
	}
}

func TestWaitIdleYieldsUntilRelease(t *testing.T) {
	testlog.Start(t)
	g := NewGate()
	if !g.TryAcquire("s1") {
		t.Fatalf("acquire")
	}
	if g.TryAcquire("s2") {
		t.Fatalf("second acquire must fail")
	}
	if g.Owner() != "s1" {
		t.Fatalf("owner=%q", g.Owner())
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		g.Release()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := WaitIdle(ctx, g.View(), 5*time.Millisecond); err != nil {
		t.Fatalf("wait idle: %v", err)
	}

	g.TryAcquire("s3")
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := WaitIdle(short, g.View(), 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
