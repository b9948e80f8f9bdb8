package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/agrilink/internal/observability"
	"github.com/danmuck/agrilink/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sender transmits one packet with the link's retry discipline.
type Sender interface {
	Send(ctx context.Context, p protocol.Packet) error
}

// PacketEvent is reported after every data packet send.
type PacketEvent struct {
	SessionID           string
	Index               uint32
	Err                 error
	ConsecutiveFailures int
}

// Report summarizes a finished (or never started) session.
type Report struct {
	SessionID           string        `json:"session_id"`
	ResourceID          string        `json:"resource_id"`
	Name                string        `json:"name"`
	TotalSize           uint32        `json:"total_size"`
	State               string        `json:"state"`
	PacketsTotal        uint64        `json:"packets_total"`
	PacketsSent         uint64        `json:"packets_sent"`
	PacketsFailed       uint64        `json:"packets_failed"`
	FailureResets       int           `json:"failure_resets"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Duration            time.Duration `json:"duration"`
	Error               string        `json:"error,omitempty"`
}

// Session drives one resource through
// idle -> metadata_sent -> sending -> {done | aborted}.
// It is owned by a single goroutine and runs at most once.
type Session struct {
	ID       string
	Resource Resource
	OnPacket func(PacketEvent)

	cfg                 Config
	state               State
	packetsTotal        uint64
	nextIndex           uint32
	consecutiveFailures int
	sent                uint64
	failed              uint64
	resets              int
	ran                 bool
}

func NewSession(res Resource, cfg Config) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Resource:     res,
		cfg:          cfg,
		state:        StateIdle,
		packetsTotal: protocol.PacketCount(uint64(res.Size), cfg.PacketSize),
	}
}

func (s *Session) State() State { return s.state }

func (s *Session) ConsecutiveFailures() int { return s.consecutiveFailures }

func (s *Session) PacketsTotal() uint64 { return s.packetsTotal }

// NextIndex is the index of the next data packet to send.
func (s *Session) NextIndex() uint32 { return s.nextIndex }

// Run sends the metadata packet and then every data packet in index order.
// A failed metadata send leaves the session idle and returns
// ErrMetadataSendFailed. A failed data packet is skipped; the session aborts
// once MaxConsecutiveFailures sends in a row have failed. At most Size bytes
// are read, and a source shorter than Size aborts with ErrSourceRead.
func (s *Session) Run(ctx context.Context, sender Sender) (Report, error) {
	started := time.Now()
	if s.ran {
		return s.report(started, ErrSessionUsed), ErrSessionUsed
	}
	s.ran = true
	if err := s.cfg.Validate(); err != nil {
		return s.report(started, err), err
	}
	if s.cfg.MaxResourceBytes > 0 && s.Resource.Size > s.cfg.MaxResourceBytes {
		err := fmt.Errorf("%w: %d > %d", ErrResourceTooLarge, s.Resource.Size, s.cfg.MaxResourceBytes)
		return s.report(started, err), err
	}

	meta, err := protocol.MakeMetadataPacket(s.Resource.Size, []byte(s.Resource.Name), s.cfg.Limits)
	if err != nil {
		return s.report(started, err), err
	}
	if s.Resource.Open == nil {
		err := fmt.Errorf("%w: %s has no opener", ErrSourceOpen, s.Resource.ID)
		return s.report(started, err), err
	}
	src, err := s.Resource.Open()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSourceOpen, err)
		return s.report(started, err), err
	}
	defer src.Close()

	logger := log.With().Str("session_id", s.ID).Str("resource", s.Resource.Name).Logger()

	if err := sender.Send(ctx, meta); err != nil {
		err = fmt.Errorf("%w: %w", ErrMetadataSendFailed, err)
		logger.Warn().Err(err).Msg("session.Session.Run metadata send failed")
		observability.RecordTransfer("send", "metadata_failed")
		return s.report(started, err), err
	}
	s.state = StateMetadataSent
	logger.Info().Msgf("session.Session.Run metadata sent size=%d packets=%d", s.Resource.Size, s.packetsTotal)

	// The metadata announced Size; a source that grew since is cut there.
	splitter, err := protocol.NewSplitter(io.LimitReader(src, int64(s.Resource.Size)), s.cfg.PacketSize)
	if err != nil {
		s.state = StateAborted
		return s.report(started, err), err
	}
	s.state = StateSending

	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			s.state = StateAborted
			observability.RecordTransfer("send", "canceled")
			return s.report(started, err), err
		}
		chunk, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			if uint64(splitter.Emitted()) < s.packetsTotal {
				err = io.ErrUnexpectedEOF
			} else {
				break
			}
		} else if err == nil && len(chunk.Data) != s.chunkLen(chunk.Index) {
			err = fmt.Errorf("%w: index=%d len=%d want=%d", io.ErrUnexpectedEOF, chunk.Index, len(chunk.Data), s.chunkLen(chunk.Index))
		}
		if err != nil {
			s.state = StateAborted
			err = fmt.Errorf("%w: %w", ErrSourceRead, err)
			logger.Warn().Err(err).Msg("session.Session.Run source read failed")
			observability.RecordTransfer("send", "aborted")
			return s.report(started, err), err
		}
		pkt, err := protocol.MakeDataPacket(chunk.Index, chunk.Data, s.cfg.Limits)
		if err == nil {
			err = sender.Send(ctx, pkt)
		}
		s.nextIndex = chunk.Index + 1
		if err != nil {
			lastErr = err
			s.failed++
			s.consecutiveFailures++
			observability.RecordTransferPacket("send", "failed")
			logger.Warn().Err(err).Uint32("index", chunk.Index).Int("consecutive_failures", s.consecutiveFailures).
				Msg("session.Session.Run data packet failed; skipping")
			s.emit(chunk.Index, err)
			if s.consecutiveFailures >= s.cfg.MaxConsecutiveFailures {
				s.state = StateAborted
				err = fmt.Errorf("%w: %d consecutive failures at index %d: %w",
					ErrTransferAborted, s.consecutiveFailures, chunk.Index, lastErr)
				logger.Warn().Err(err).Msg("session.Session.Run aborted")
				observability.RecordTransfer("send", "aborted")
				return s.report(started, err), err
			}
			continue
		}
		if s.consecutiveFailures > 0 {
			s.resets++
		}
		s.consecutiveFailures = 0
		s.sent++
		observability.RecordTransferPacket("send", "sent")
		s.emit(chunk.Index, nil)
	}

	s.state = StateDone
	observability.RecordTransfer("send", "done")
	logger.Info().Msgf("session.Session.Run done sent=%d failed=%d", s.sent, s.failed)
	return s.report(started, nil), nil
}

// chunkLen is the payload length the receiver expects at index.
func (s *Session) chunkLen(index uint32) int {
	off := uint64(index) * uint64(s.cfg.PacketSize)
	if rem := uint64(s.Resource.Size) - off; rem < uint64(s.cfg.PacketSize) {
		return int(rem)
	}
	return s.cfg.PacketSize
}

func (s *Session) emit(index uint32, err error) {
	if s.OnPacket == nil {
		return
	}
	s.OnPacket(PacketEvent{
		SessionID:           s.ID,
		Index:               index,
		Err:                 err,
		ConsecutiveFailures: s.consecutiveFailures,
	})
}

func (s *Session) report(started time.Time, err error) Report {
	r := Report{
		SessionID:           s.ID,
		ResourceID:          s.Resource.ID,
		Name:                s.Resource.Name,
		TotalSize:           s.Resource.Size,
		State:               s.state.String(),
		PacketsTotal:        s.packetsTotal,
		PacketsSent:         s.sent,
		PacketsFailed:       s.failed,
		FailureResets:       s.resets,
		ConsecutiveFailures: s.consecutiveFailures,
		Duration:            time.Since(started),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
