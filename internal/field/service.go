// Package field is the field node runtime: it forwards operator commands to
// the subordinate controller, relays bus telemetry and ground readings over
// the radio, and transfers discovered resources one at a time.
package field

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/agrilink/internal/auth"
	"github.com/danmuck/agrilink/internal/bus"
	"github.com/danmuck/agrilink/internal/link"
	"github.com/danmuck/agrilink/internal/observability"
	"github.com/danmuck/agrilink/internal/protocol/frame"
	"github.com/danmuck/agrilink/internal/protocol/session"
	"github.com/danmuck/agrilink/internal/status"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ImageToken is the command token that requests an immediate resource scan.
const ImageToken = "SI"

// Bus is the local bus endpoint towards the subordinate controller.
type Bus interface {
	OnReceive(bus.Handler)
	bus.Forwarder
}

// Deps are the collaborators a Service drives. Only Radio is required.
type Deps struct {
	Radio     link.Radio
	Bus       Bus
	Resources ResourceSource
	Ground    GroundSource
	Indicator link.Indicator
}

// Service runs the field node workers.
type Service struct {
	cfg       ServiceConfig
	transport *link.Transport
	coord     *session.Coordinator
	gate      session.GateView
	queue     *bus.Queue
	bus       Bus
	resources ResourceSource
	ground    GroundSource
	status    *status.Server
	scanNow   chan struct{}
	logger    zerolog.Logger
}

func NewService(cfg ServiceConfig, deps Deps) (*Service, error) {
	cfg.Link = cfg.Link.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Radio == nil {
		return nil, ErrNoRadio
	}
	var opts []link.Option
	if deps.Indicator != nil {
		opts = append(opts, link.WithIndicator(deps.Indicator))
	}
	transport := link.NewTransport(deps.Radio, cfg.Link, opts...)
	coord := session.NewCoordinator(transport, cfg.Session)

	resources := deps.Resources
	if resources == nil && strings.TrimSpace(cfg.Resources.Dir) != "" {
		src, err := NewDirSource(cfg.Resources)
		if err != nil {
			return nil, err
		}
		resources = src
	}

	s := &Service{
		cfg:       cfg,
		transport: transport,
		coord:     coord,
		gate:      coord.Gate(),
		queue:     bus.NewQueue(cfg.QueueCapacity),
		bus:       deps.Bus,
		resources: resources,
		ground:    deps.Ground,
		scanNow:   make(chan struct{}, 1),
		logger:    observability.ComponentLogger("field", cfg.NodeID),
	}
	if strings.TrimSpace(cfg.StatusAddr) != "" {
		s.status = status.New(cfg.NodeID, "field", cfg.StatusAddr, cfg.CorsOrigins)
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
	s.logger.Info().Msgf("field.Service.Serve start mode=%s data_terms=%q command_terms=%q",
		s.cfg.FrameMode, s.cfg.DataTerminators, s.cfg.CommandTerminators)

	g.Go(func() error { return s.commandListener(ctx) })
	if s.bus != nil {
		s.bus.OnReceive(s.onBusRecord)
		g.Go(func() error { return s.busConsumer(ctx) })
	}
	if s.ground != nil {
		g.Go(func() error { return s.groundPoller(ctx) })
	}
	if s.resources != nil {
		g.Go(func() error { return s.transferWorker(ctx) })
	}
	if s.status != nil {
		g.Go(func() error { return s.status.Serve(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info().Msg("field.Service.Serve stopped")
	return err
}

// TriggerScan asks the transfer worker to scan now. It never blocks.
func (s *Service) TriggerScan() {
	select {
	case s.scanNow <- struct{}{}:
	default:
	}
}

func (s *Service) Coordinator() *session.Coordinator { return s.coord }

func (s *Service) Transport() *link.Transport { return s.transport }

// commandListener reassembles command tokens from the radio and forwards
// them to the bus. It yields whenever a transfer holds the radio.
func (s *Service) commandListener(ctx context.Context) error {
	reasm, err := frame.NewReassembler(s.cfg.CommandTerminators, frame.DefaultMaxFrameBytes)
	if err != nil {
		return err
	}
	for {
		if err := session.WaitIdle(ctx, s.gate, s.cfg.PollInterval); err != nil {
			return nil
		}
		chunk, ok := s.transport.Poll()
		if !ok {
			if !sleep(ctx, s.cfg.PollInterval) {
				return nil
			}
			continue
		}
		tokens, err := reasm.Feed(chunk)
		if err != nil {
			s.logger.Warn().Err(err).Msg("field.Service.commandListener oversized command dropped")
			observability.RecordFrame("command", "token", "overflow")
		}
		for _, tok := range tokens {
			s.handleCommand(ctx, tok)
		}
	}
}

func (s *Service) handleCommand(ctx context.Context, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	observability.RecordFrame("command", "token", "ok")
	s.logger.Info().Msgf("field.Service.handleCommand token=%s", token)
	if s.bus != nil {
		if err := s.bus.Forward(ctx, token); err != nil {
			s.logger.Warn().Err(err).Str("token", token).Msg("field.Service.handleCommand forward failed")
		}
	}
	if token == ImageToken {
		s.TriggerScan()
	}
}

// onBusRecord runs on the bus receive goroutine and only enqueues.
func (s *Service) onBusRecord(rec bus.Record) {
	_ = s.queue.Offer(rec)
}

func (s *Service) busConsumer(ctx context.Context) error {
	for {
		rec, err := s.queue.Take(ctx)
		if err != nil {
			return nil
		}
		if err := session.WaitIdle(ctx, s.gate, s.cfg.PollInterval); err != nil {
			return nil
		}
		s.sendText(ctx, frame.TagTelemetry, string(rec.Bytes()))
	}
}

func (s *Service) groundPoller(ctx context.Context) error {
	interval := s.cfg.GroundInterval
	if interval <= 0 {
		interval = DefaultServiceConfig().GroundInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := session.WaitIdle(ctx, s.gate, s.cfg.PollInterval); err != nil {
			return nil
		}
		body, err := s.ground.Read(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("field.Service.groundPoller read failed")
			continue
		}
		if body != "" {
			s.sendText(ctx, frame.TagGround, body)
		}
	}
}

// transferWorker is the only writer of the transfer gate.
func (s *Service) transferWorker(ctx context.Context) error {
	interval := s.cfg.ScanInterval
	if interval <= 0 {
		interval = DefaultServiceConfig().ScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.scanAndTransfer(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.scanNow:
		}
	}
}

func (s *Service) scanAndTransfer(ctx context.Context) {
	found, err := s.resources.Scan()
	if err != nil {
		s.logger.Warn().Err(err).Msg("field.Service.scanAndTransfer scan failed")
	}
	for _, res := range found {
		s.coord.Submit(res)
	}
	for _, r := range s.coord.Drain(ctx) {
		if r.State != session.StateDone.String() {
			s.logger.Warn().Str("session_id", r.SessionID).Msgf("field.Service.scanAndTransfer transfer failed name=%s state=%s err=%s",
				r.Name, r.State, r.Error)
			continue
		}
		if err := s.resources.MarkSent(r.ResourceID); err != nil {
			s.logger.Warn().Err(err).Str("resource", r.ResourceID).Msg("field.Service.scanAndTransfer ledger update failed")
		}
	}
}

// sendText frames body for tag and transmits it. Bodies come from external
// collaborators, so surrounding whitespace and trailing data terminators are
// trimmed first.
func (s *Service) sendText(ctx context.Context, tag frame.Tag, body string) {
	body = strings.TrimRight(strings.TrimSpace(body), string(s.cfg.DataTerminators))
	if body == "" {
		return
	}
	msg := frame.Seal(frame.Message{Tag: tag, Body: body})
	b, err := frame.Encode(msg, s.cfg.FrameMode, s.cfg.DataTerminators)
	if err != nil {
		observability.RecordFrame("data", tag.String(), "encode_error")
		s.logger.Warn().Err(err).Str("tag", tag.String()).Str("body", body).Msg("field.Service.sendText encode failed")
		return
	}
	if err := s.transport.SendFrame(ctx, b); err != nil {
		observability.RecordFrame("data", tag.String(), "send_failed")
		s.logger.Warn().Err(err).Str("tag", tag.String()).Msg("field.Service.sendText send failed")
		return
	}
	observability.RecordFrame("data", tag.String(), "sent")
}

func (s *Service) registerRoutes() {
	r := s.status.HTTPRouter()
	r.GET("/transfers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"in_progress": s.gate.InProgress(),
			"recent":      s.coord.Reports(),
			"pending":     s.coord.Pending(),
		})
	})
	r.GET("/queue", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"depth": s.queue.Len(), "capacity": s.queue.Cap()})
	})
	r.POST("/scan", auth.Require(auth.FromToken(s.cfg.StatusToken)), func(c *gin.Context) {
		s.TriggerScan()
		c.JSON(http.StatusAccepted, gin.H{"status": "scan requested"})
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
