// Package ground is the ground station runtime. It demultiplexes inbound
// radio traffic into text frames and resource packets, normalizes frames into
// records, archives reassembled resources, relays everything to the backend
// and sends operator commands back to the field node.
package ground

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/agrilink/internal/archive"
	"github.com/danmuck/agrilink/internal/link"
	"github.com/danmuck/agrilink/internal/observability"
	"github.com/danmuck/agrilink/internal/protocol"
	"github.com/danmuck/agrilink/internal/protocol/frame"
	"github.com/danmuck/agrilink/internal/protocol/quasijson"
	"github.com/danmuck/agrilink/internal/protocol/session"
	"github.com/danmuck/agrilink/internal/relay"
	"github.com/danmuck/agrilink/internal/status"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Publisher delivers normalized records to the backend.
type Publisher interface {
	Publish(ctx context.Context, rec quasijson.Record) error
}

// Deps are the collaborators a Service drives. Only Radio is required; a
// configured relay base URL supplies Publisher and Commands, and the archive
// config supplies Store.
type Deps struct {
	Radio     link.Radio
	Publisher Publisher
	Commands  relay.CommandSource
	Store     archive.Store
	Indicator link.Indicator
	Now       func() time.Time
}

// Service runs the ground station workers.
type Service struct {
	cfg       ServiceConfig
	transport *link.Transport
	decoder   *frame.Decoder
	asm       *session.Assembler
	store     archive.Store
	publisher Publisher
	commands  relay.CommandSource
	relay     *relay.Client
	outbound  chan quasijson.Record
	records   *recordRing
	transfers *transferLog
	status    *status.Server
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(ctx context.Context, cfg ServiceConfig, deps Deps) (*Service, error) {
	cfg.Link = cfg.Link.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Radio == nil {
		return nil, ErrNoRadio
	}
	if cfg.Commands == nil {
		cfg.Commands = relay.DefaultCommands()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	var opts []link.Option
	if deps.Indicator != nil {
		opts = append(opts, link.WithIndicator(deps.Indicator))
	}
	decoder, err := frame.NewDecoder(frame.Config{
		Mode:          cfg.FrameMode,
		Terminators:   cfg.DataTerminators,
		MaxFrameBytes: frame.DefaultMaxFrameBytes,
		Reveal:        true,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		transport: link.NewTransport(deps.Radio, cfg.Link, opts...),
		decoder:   decoder,
		asm:       session.NewAssembler(cfg.Assembler, now),
		store:     deps.Store,
		publisher: deps.Publisher,
		commands:  deps.Commands,
		outbound:  make(chan quasijson.Record, max(cfg.PublishBuffer, 1)),
		records:   newRecordRing(cfg.RecentRecords),
		transfers: newTransferLog(32),
		now:       now,
		logger:    observability.ComponentLogger("ground", cfg.StationID),
	}

	if strings.TrimSpace(cfg.Relay.BaseURL) != "" && (s.publisher == nil || s.commands == nil) {
		client, err := relay.New(cfg.Relay)
		if err != nil {
			return nil, err
		}
		s.relay = client
		if s.publisher == nil {
			s.publisher = client
		}
		if s.commands == nil {
			s.commands = client
		}
	}
	if s.store == nil {
		store, err := archive.Open(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	if strings.TrimSpace(cfg.StatusAddr) != "" {
		s.status = status.New(cfg.StationID, "ground", cfg.StatusAddr, cfg.CorsOrigins)
		s.registerRoutes()
	}
	return s, nil
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs every worker until ctx ends or one of them fails.
func (s *Service) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	s.logger.Info().Msgf("ground.Service.Serve start mode=%s max_resource=%d", s.cfg.FrameMode, s.cfg.Assembler.MaxResourceBytes)

	g.Go(func() error { return s.receiveLoop(ctx) })
	g.Go(func() error { return s.expireLoop(ctx) })
	if s.publisher != nil {
		g.Go(func() error { return s.publishLoop(ctx) })
	}
	if s.commands != nil {
		poller := &relay.Poller{
			Source:   s.commands,
			Table:    s.cfg.Commands,
			Interval: s.cfg.CommandPollInterval,
			Dispatch: s.sendToken,
		}
		g.Go(func() error { return poller.Run(ctx) })
	}
	if s.status != nil {
		g.Go(func() error { return s.status.Serve(ctx) })
	}

	err := g.Wait()
	if s.relay != nil {
		_ = s.relay.Close()
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info().Msg("ground.Service.Serve stopped")
	return err
}

// SendCommand maps operator text to its token and transmits it on the
// command channel. It returns the token sent.
func (s *Service) SendCommand(ctx context.Context, text string) (string, error) {
	token, err := s.cfg.Commands.Lookup(text)
	if err != nil {
		return "", err
	}
	if err := s.sendToken(ctx, token); err != nil {
		return token, err
	}
	return token, nil
}

func (s *Service) sendToken(ctx context.Context, token string) error {
	b, err := frame.EncodeToken(token, s.cfg.CommandTerminators)
	if err != nil {
		observability.RecordFrame("command", "token", "encode_error")
		return fmt.Errorf("ground: encode command %s: %w", token, err)
	}
	if err := s.transport.SendFrame(ctx, b); err != nil {
		observability.RecordFrame("command", "token", "send_failed")
		return fmt.Errorf("ground: send command %s: %w", token, err)
	}
	observability.RecordFrame("command", "token", "sent")
	s.logger.Info().Msgf("ground.Service.sendToken token=%s", token)
	return nil
}

// Records returns the most recent normalized records, oldest first.
func (s *Service) Records() []StoredRecord { return s.records.list("") }

// Transfers returns the most recent finished transfers, oldest first.
func (s *Service) Transfers() []TransferSummary { return s.transfers.list() }

func (s *Service) receiveLoop(ctx context.Context) error {
	for chunk := range s.transport.Receive(ctx) {
		s.HandleChunk(ctx, chunk)
	}
	return nil
}

// HandleChunk routes one inbound radio chunk. Resource packets always carry
// a NUL in their header's high byte because resources stay below 16 MiB;
// text frames never contain NUL.
func (s *Service) HandleChunk(ctx context.Context, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if bytes.IndexByte(chunk, 0) >= 0 {
		s.handlePacket(ctx, chunk)
		return
	}
	s.handleText(chunk)
}

func (s *Service) handleText(chunk []byte) {
	msgs, errs := s.decoder.Feed(chunk)
	for _, err := range errs {
		var unk *frame.UnknownTagError
		if errors.As(err, &unk) {
			observability.RecordFrame("data", "unknown", "discarded")
		} else {
			observability.RecordFrame("data", "unknown", "overflow")
		}
	}
	for _, msg := range msgs {
		observability.RecordFrame("data", msg.Tag.String(), "received")
		schema, ok := quasijson.SchemaFor(msg.Tag)
		if !ok {
			continue
		}
		rec, err := s.cfg.Normalizer.Normalize(msg.Body, schema)
		if err != nil {
			observability.RecordNormalize(schema.Name, "error")
			s.logger.Warn().Err(err).Str("class", schema.Name).Str("body", msg.Body).Msg("ground.Service.handleText record dropped")
			continue
		}
		observability.RecordNormalize(schema.Name, "ok")
		s.accept(rec)
	}
}

func (s *Service) handlePacket(ctx context.Context, chunk []byte) {
	p, err := protocol.DecodePacket(chunk, s.cfg.Link.Limits)
	if err != nil {
		observability.RecordTransferPacket("receive", "malformed")
		s.logger.Warn().Err(err).Int("bytes", len(chunk)).Msg("ground.Service.handlePacket decode failed")
		return
	}
	finished, err := s.asm.Accept(p)
	for _, tr := range finished {
		s.archive(ctx, tr)
	}
	if err != nil {
		s.logger.Warn().Err(err).Uint32("header", p.Header).Msg("ground.Service.handlePacket packet rejected")
	}
}

func (s *Service) expireLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ExpireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if tr, ok := s.asm.Expire(); ok {
			s.archive(ctx, tr)
		}
	}
}

// archive stores a finished transfer. Complete resources are announced as an
// image record carrying their location; incomplete ones are kept as partials.
func (s *Service) archive(ctx context.Context, tr session.Transfer) {
	summary := TransferSummary{Transfer: tr}
	loc, err := s.store.Put(ctx, archive.Object{
		ID:         tr.ID,
		Name:       tr.Name,
		Data:       tr.Data,
		Complete:   tr.Complete,
		ReceivedAt: tr.FinishedAt,
	})
	if err != nil {
		summary.Error = err.Error()
		s.logger.Error().Err(err).Str("session_id", tr.ID).Msgf("ground.Service.archive store failed name=%s", tr.Name)
	} else {
		summary.Location = loc
	}
	s.transfers.add(summary)
	s.logger.Info().Str("session_id", tr.ID).Msgf("ground.Service.archive name=%s complete=%t received=%d/%d location=%s",
		tr.Name, tr.Complete, tr.Received, tr.PacketsTotal, loc)

	if err == nil && tr.Complete {
		s.accept(imageRecord(loc))
	}
}

// accept keeps rec for the status surface and queues it for the backend
// without blocking the receive path.
func (s *Service) accept(rec quasijson.Record) {
	s.records.add(StoredRecord{Record: rec, ReceivedAt: s.now()})
	if s.publisher == nil {
		return
	}
	select {
	case s.outbound <- rec:
	default:
		s.logger.Warn().Str("class", rec.Class).Msg("ground.Service.accept publish buffer full; record not relayed")
	}
}

func (s *Service) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec := <-s.outbound:
			if err := s.publisher.Publish(ctx, rec); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Str("class", rec.Class).Msg("ground.Service.publishLoop publish failed")
			}
		}
	}
}

func imageRecord(location string) quasijson.Record {
	return quasijson.Record{
		Class: quasijson.ImageSchema.Name,
		Values: []quasijson.Value{{
			Name:    "image",
			Kind:    quasijson.KindString,
			Present: true,
			String:  location,
		}},
	}
}
