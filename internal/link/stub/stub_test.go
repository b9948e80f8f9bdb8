package stub

import (
	"bytes"
	"context"
	"testing"

	"github.com/danmuck/agrilink/internal/link"
)

func TestPairDeliversAndLogs(t *testing.T) {
	a, b := Pair()
	if err := a.Transmit(context.Background(), []byte("agrixM:1#")); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	got, ok := b.Poll()
	if !ok || !bytes.Equal(got, []byte("agrixM:1#")) {
		t.Fatalf("peer poll=%q ok=%v", got, ok)
	}
	if _, ok := b.Poll(); ok {
		t.Fatalf("expected empty buffer")
	}
	if len(a.TxLog()) != 1 {
		t.Fatalf("tx log=%d", len(a.TxLog()))
	}
}

func TestSleepingRadioRejectsTransmit(t *testing.T) {
	r := New()
	_ = r.SetMode(link.ModeSleep)
	if err := r.Transmit(context.Background(), []byte{1}); err != link.ErrRadioAsleep {
		t.Fatalf("expected ErrRadioAsleep, got %v", err)
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	r := New()
	for i := 0; i < ringCapacity+2; i++ {
		r.InjectRx([]byte{byte(i)})
	}
	got, ok := r.Poll()
	if !ok || got[0] != 2 {
		t.Fatalf("oldest retained=%v ok=%v", got, ok)
	}
}

func TestDropNextLosesPackets(t *testing.T) {
	a, b := Pair()
	a.DropNext(1)
	_ = a.Transmit(context.Background(), []byte{1})
	_ = a.Transmit(context.Background(), []byte{2})
	got, ok := b.Poll()
	if !ok || got[0] != 2 {
		t.Fatalf("poll=%v ok=%v", got, ok)
	}
}
