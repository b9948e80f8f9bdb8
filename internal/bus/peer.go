package bus

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/agrilink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Handler receives one inbound bus record. It runs on the receive goroutine
// and must not block.
type Handler func(Record)

// Forwarder sends command tokens to the subordinate controller.
type Forwarder interface {
	Forward(ctx context.Context, token string) error
}

// PeerConfig addresses the local bus endpoint and its controller.
type PeerConfig struct {
	Listen       string
	Controller   string
	Terminators  frame.Terminators
	WriteTimeout time.Duration
}

// Peer is a datagram bus endpoint: one datagram per record, one per token.
type Peer struct {
	cfg        PeerConfig
	conn       *net.UDPConn
	controller *net.UDPAddr

	mu      sync.RWMutex
	handler Handler

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ Forwarder = (*Peer)(nil)

func Listen(cfg PeerConfig) (*Peer, error) {
	if len(cfg.Terminators) == 0 {
		cfg.Terminators = frame.DefaultCommandTerminators
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("bus: resolve listen %q: %w", cfg.Listen, err)
	}
	caddr, err := net.ResolveUDPAddr("udp", cfg.Controller)
	if err != nil {
		return nil, fmt.Errorf("bus: resolve controller %q: %w", cfg.Controller, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("bus: listen %q: %w", cfg.Listen, err)
	}
	p := &Peer{
		cfg:        cfg,
		conn:       conn,
		controller: caddr,
		done:       make(chan struct{}),
	}
	p.wg.Add(1)
	go p.readLoop()
	log.Info().Msgf("bus.Listen listen=%s controller=%s", conn.LocalAddr(), caddr)
	return p, nil
}

func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

// OnReceive installs the inbound callback, replacing any previous one.
func (p *Peer) OnReceive(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Forward writes token followed by the command terminator.
func (p *Peer) Forward(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	deadline := time.Now().Add(p.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	b, err := frame.EncodeToken(token, p.cfg.Terminators)
	if err != nil {
		return fmt.Errorf("bus: forward %q: %w", token, err)
	}
	if _, err := p.conn.WriteToUDP(b, p.controller); err != nil {
		return fmt.Errorf("bus: forward %q: %w", token, err)
	}
	log.Debug().Msgf("bus.Peer.Forward token=%s", token)
	return nil
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
		p.wg.Wait()
	})
	return err
}

func (p *Peer) readLoop() {
	defer p.wg.Done()
	buf := make([]byte, RecordSize+1)
	for {
		n, from, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			log.Warn().Err(err).Msg("bus.Peer.readLoop read failed")
			if !pauseOrDone(p.done, readRetryDelay) {
				return
			}
			continue
		}
		rec, err := NewRecord(from.String(), buf[:n], time.Now())
		if err != nil {
			log.Warn().Err(err).Str("from", from.String()).Msg("bus.Peer.readLoop drop record")
			continue
		}
		p.mu.RLock()
		h := p.handler
		p.mu.RUnlock()
		if h != nil {
			h(rec)
		}
	}
}

// readRetryDelay spaces out retries after a read error that is not a close.
const readRetryDelay = 50 * time.Millisecond

// pauseOrDone waits d and reports false if done closed first.
func pauseOrDone(done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
