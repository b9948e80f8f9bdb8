package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/agrilink/internal/protocol"
	"github.com/danmuck/agrilink/internal/testutil/testlog"
)

func assemblerFor(clock *manualClock) *Assembler {
	return NewAssembler(AssemblerConfig{PacketSize: 4, MaxResourceBytes: 64, Timeout: 5 * time.Second}, clock.Now)
}

func TestAssemblerRebuildsSentResource(t *testing.T) {
	testlog.Start(t)
	sender := &scriptedSender{}
	payload := []byte("hello radio world")
	s := NewSession(BytesResource("r", "hello.txt", payload), testConfig())
	if _, err := s.Run(context.Background(), sender); err != nil {
		t.Fatalf("run: %v", err)
	}

	clock := &manualClock{now: time.Unix(1700000000, 0)}
	a := assemblerFor(clock)
	var done []Transfer
	for _, p := range sender.sent {
		decoded, err := protocol.DecodePacket(p.Encode(), protocol.Limits{MaxPacketBytes: 16})
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		finished, err := a.Accept(decoded)
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		done = append(done, finished...)
	}
	if len(done) != 1 || !done[0].Complete {
		t.Fatalf("expected one complete transfer, got %+v", done)
	}
	if done[0].Name != "hello.txt" || !bytes.Equal(done[0].Data, payload) {
		t.Fatalf("name=%q data=%q", done[0].Name, done[0].Data)
	}
	if _, ok := a.Active(); ok {
		t.Fatalf("no assembly should remain active")
	}
}

func TestAssemblerReportsMissingOnReplacement(t *testing.T) {
	testlog.Start(t)
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	a := assemblerFor(clock)
	mustAccept(t, a, protocol.Packet{Header: 10, Payload: []byte("one")})
	mustAccept(t, a, protocol.Packet{Header: 0, Payload: []byte("abcd")})
	mustAccept(t, a, protocol.Packet{Header: 2, Payload: []byte("ij")})

	// header 8 is no valid index for a 3 packet transfer: new metadata.
	finished := mustAccept(t, a, protocol.Packet{Header: 8, Payload: []byte("two")})
	if len(finished) != 1 || finished[0].Complete {
		t.Fatalf("expected displaced incomplete transfer, got %+v", finished)
	}
	if len(finished[0].Missing) != 1 || finished[0].Missing[0] != 1 {
		t.Fatalf("missing=%v", finished[0].Missing)
	}
	p, ok := a.Active()
	if !ok || p.Name != "two" || p.PacketsTotal != 2 {
		t.Fatalf("active=%+v ok=%v", p, ok)
	}
}

func TestAssemblerRejectsOversizedAndBadMetadata(t *testing.T) {
	testlog.Start(t)
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	a := assemblerFor(clock)
	if _, err := a.Accept(protocol.Packet{Header: 65, Payload: []byte("big")}); !errors.Is(err, ErrAssemblyTooLarge) {
		t.Fatalf("expected ErrAssemblyTooLarge, got %v", err)
	}
	if _, err := a.Accept(protocol.Packet{Header: 3, Payload: []byte{0x00, 0xff, 0x10}}); !errors.Is(err, ErrAssemblyBadName) {
		t.Fatalf("expected ErrAssemblyBadName, got %v", err)
	}
	mustAccept(t, a, protocol.Packet{Header: 6, Payload: []byte("ok")})
	if _, err := a.Accept(protocol.Packet{Header: 0, Payload: []byte{0xff, 0xd8}}); !errors.Is(err, ErrAssemblyBadChunk) {
		t.Fatalf("expected ErrAssemblyBadChunk, got %v", err)
	}
}

func TestAssemblerSmallTransferReplacesStalledOne(t *testing.T) {
	testlog.Start(t)
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	a := assemblerFor(clock)

	oldData := bytes.Repeat([]byte{0xab}, 40)
	oldSender := &scriptedSender{}
	if _, err := NewSession(BytesResource("old", "old.jpg", oldData), testConfig()).Run(context.Background(), oldSender); err != nil {
		t.Fatalf("run old: %v", err)
	}
	// only the metadata and the first chunk of old.jpg make it across
	mustAccept(t, a, oldSender.sent[0])
	mustAccept(t, a, oldSender.sent[1])

	newData := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46}
	newSender := &scriptedSender{}
	if _, err := NewSession(BytesResource("new", "new.jpg", newData), testConfig()).Run(context.Background(), newSender); err != nil {
		t.Fatalf("run new: %v", err)
	}
	if newSender.sent[0].Header >= 10 {
		t.Fatalf("metadata header %d does not collide with old indices", newSender.sent[0].Header)
	}

	var done []Transfer
	for _, p := range newSender.sent {
		done = append(done, mustAccept(t, a, p)...)
	}
	if len(done) != 2 {
		t.Fatalf("expected replaced and completed transfers, got %+v", done)
	}
	if done[0].Name != "old.jpg" || done[0].Complete || done[0].Received != 1 {
		t.Fatalf("old transfer=%+v", done[0])
	}
	if done[1].Name != "new.jpg" || !done[1].Complete || !bytes.Equal(done[1].Data, newData) {
		t.Fatalf("new transfer name=%q complete=%v data=%x", done[1].Name, done[1].Complete, done[1].Data)
	}
	if _, ok := a.Active(); ok {
		t.Fatalf("no assembly should remain active")
	}
}

func TestAssemblerExpiresStaleTransfer(t *testing.T) {
	testlog.Start(t)
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	a := assemblerFor(clock)
	mustAccept(t, a, protocol.Packet{Header: 8, Payload: []byte("slow")})
	if _, ok := a.Expire(); ok {
		t.Fatalf("fresh transfer must not expire")
	}
	clock.Advance(5 * time.Second)
	tr, ok := a.Expire()
	if !ok || tr.Complete || tr.Reason != "timed out" || len(tr.Missing) != 2 {
		t.Fatalf("expire=%+v ok=%v", tr, ok)
	}
}

func TestAssemblerEmptyResourceCompletesOnMetadata(t *testing.T) {
	testlog.Start(t)
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	a := assemblerFor(clock)
	finished := mustAccept(t, a, protocol.Packet{Header: 0, Payload: []byte("empty")})
	if len(finished) != 1 || !finished[0].Complete || len(finished[0].Data) != 0 {
		t.Fatalf("finished=%+v", finished)
	}
}

func mustAccept(t *testing.T, a *Assembler, p protocol.Packet) []Transfer {
	t.Helper()
	finished, err := a.Accept(p)
	if err != nil {
		t.Fatalf("accept header=%d: %v", p.Header, err)
	}
	return finished
}
