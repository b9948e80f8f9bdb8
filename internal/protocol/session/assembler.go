package session

import (
	"fmt"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/danmuck/agrilink/internal/observability"
	"github.com/danmuck/agrilink/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AssemblerConfig bounds receive-side reassembly.
type AssemblerConfig struct {
	PacketSize       int
	MaxResourceBytes uint32
	Timeout          time.Duration
}

func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		PacketSize:       protocol.DefaultPacketSize,
		MaxResourceBytes: 4 << 20,
		Timeout:          30 * time.Second,
	}
}

// Transfer is a finished receive-side assembly. Incomplete transfers keep
// the bytes that arrived and list the indices that did not.
type Transfer struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TotalSize    uint32    `json:"total_size"`
	PacketsTotal uint64    `json:"packets_total"`
	Received     uint64    `json:"received"`
	Missing      []uint32  `json:"missing,omitempty"`
	Complete     bool      `json:"complete"`
	Reason       string    `json:"reason,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Data         []byte    `json:"-"`
}

// Progress is a snapshot of the active assembly.
type Progress struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TotalSize    uint32    `json:"total_size"`
	PacketsTotal uint64    `json:"packets_total"`
	Received     uint64    `json:"received"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type assembly struct {
	id        string
	name      string
	total     uint32
	packets   uint64
	have      []bool
	received  uint64
	data      []byte
	startedAt time.Time
	updatedAt time.Time
}

// Assembler rebuilds resources from a metadata packet followed by data
// packets. The wire carries no session id, so packet meaning is positional:
// with no active assembly the next packet is metadata, and while one is
// active any packet whose header is not a valid index for it is taken as the
// metadata of a new transfer, which replaces the current one. A valid index
// whose payload does not fit the announced size is also read as metadata
// when it parses as one. A metadata packet whose name length equals the
// expected chunk length at a colliding index is indistinguishable from data.
type Assembler struct {
	cfg AssemblerConfig
	now func() time.Time

	mu  sync.Mutex
	cur *assembly
}

func NewAssembler(cfg AssemblerConfig, now func() time.Time) *Assembler {
	if cfg.PacketSize <= 0 {
		cfg.PacketSize = protocol.DefaultPacketSize
	}
	if now == nil {
		now = time.Now
	}
	return &Assembler{cfg: cfg, now: now}
}

// Accept consumes one binary packet. finished holds every transfer this
// packet completed or displaced, in that order.
func (a *Assembler) Accept(p protocol.Packet) (finished []Transfer, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()

	if t, ok := a.expireLocked(now); ok {
		finished = append(finished, t)
	}
	meta := p.Metadata()
	if a.cur != nil && uint64(p.Header) < a.cur.packets {
		err := a.placeLocked(p, now)
		if err == nil {
			observability.RecordTransferPacket("receive", "accepted")
			if a.cur.received == a.cur.packets {
				finished = append(finished, a.finishLocked(now, true, ""))
			}
			return finished, nil
		}
		// A small transfer's size can collide with an index of the current
		// one; a chunk that does not fit is retried as metadata.
		if a.checkMetadata(meta) != nil {
			observability.RecordTransferPacket("receive", "rejected")
			return finished, err
		}
	} else if err := a.checkMetadata(meta); err != nil {
		observability.RecordTransferPacket("receive", "rejected")
		return finished, err
	}
	if a.cur != nil {
		finished = append(finished, a.finishLocked(now, false, "replaced by new metadata"))
	}
	packets := protocol.PacketCount(uint64(meta.TotalSize), a.cfg.PacketSize)
	a.cur = &assembly{
		id:        uuid.NewString(),
		name:      meta.Name,
		total:     meta.TotalSize,
		packets:   packets,
		have:      make([]bool, packets),
		data:      make([]byte, meta.TotalSize),
		startedAt: now,
		updatedAt: now,
	}
	log.Info().Str("session_id", a.cur.id).Msgf("session.Assembler.Accept metadata name=%s size=%d packets=%d", meta.Name, meta.TotalSize, packets)
	if packets == 0 {
		finished = append(finished, a.finishLocked(now, true, ""))
	}
	return finished, nil
}

// Expire finishes the active assembly as incomplete when no packet arrived
// within the configured timeout.
func (a *Assembler) Expire() (Transfer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expireLocked(a.now())
}

func (a *Assembler) Active() (Progress, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil {
		return Progress{}, false
	}
	return Progress{
		ID:           a.cur.id,
		Name:         a.cur.name,
		TotalSize:    a.cur.total,
		PacketsTotal: a.cur.packets,
		Received:     a.cur.received,
		UpdatedAt:    a.cur.updatedAt,
	}, true
}

func (a *Assembler) checkMetadata(meta protocol.Metadata) error {
	if a.cfg.MaxResourceBytes > 0 && meta.TotalSize > a.cfg.MaxResourceBytes {
		return fmt.Errorf("%w: %d > %d", ErrAssemblyTooLarge, meta.TotalSize, a.cfg.MaxResourceBytes)
	}
	if meta.Name == "" || !utf8.ValidString(meta.Name) {
		return ErrAssemblyBadName
	}
	for _, r := range meta.Name {
		if !unicode.IsPrint(r) {
			return ErrAssemblyBadName
		}
	}
	return nil
}

func (a *Assembler) placeLocked(p protocol.Packet, now time.Time) error {
	cur := a.cur
	idx := uint64(p.Header)
	off := idx * uint64(a.cfg.PacketSize)
	want := uint64(a.cfg.PacketSize)
	if rem := uint64(cur.total) - off; rem < want {
		want = rem
	}
	if uint64(len(p.Payload)) != want {
		return fmt.Errorf("%w: index=%d len=%d want=%d", ErrAssemblyBadChunk, idx, len(p.Payload), want)
	}
	cur.updatedAt = now
	if cur.have[idx] {
		return nil
	}
	copy(cur.data[off:], p.Payload)
	cur.have[idx] = true
	cur.received++
	return nil
}

func (a *Assembler) expireLocked(now time.Time) (Transfer, bool) {
	if a.cur == nil || a.cfg.Timeout <= 0 || now.Sub(a.cur.updatedAt) < a.cfg.Timeout {
		return Transfer{}, false
	}
	return a.finishLocked(now, false, "timed out"), true
}

func (a *Assembler) finishLocked(now time.Time, complete bool, reason string) Transfer {
	cur := a.cur
	a.cur = nil
	t := Transfer{
		ID:           cur.id,
		Name:         cur.name,
		TotalSize:    cur.total,
		PacketsTotal: cur.packets,
		Received:     cur.received,
		Complete:     complete,
		Reason:       reason,
		StartedAt:    cur.startedAt,
		FinishedAt:   now,
		Data:         cur.data,
	}
	for i, ok := range cur.have {
		if !ok {
			t.Missing = append(t.Missing, uint32(i))
		}
	}
	outcome := "done"
	if !complete {
		outcome = "incomplete"
		log.Warn().Str("session_id", t.ID).Msgf("session.Assembler finished incomplete name=%s received=%d/%d reason=%s",
			t.Name, t.Received, t.PacketsTotal, reason)
	} else {
		log.Info().Str("session_id", t.ID).Msgf("session.Assembler finished name=%s size=%d", t.Name, t.TotalSize)
	}
	observability.RecordTransfer("receive", outcome)
	return t
}
