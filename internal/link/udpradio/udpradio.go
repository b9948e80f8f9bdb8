// Package udpradio simulates the radio on a workstation: every UDP datagram
// is one radio packet, which preserves the packet boundaries the link relies on.
package udpradio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/agrilink/internal/link"
	"github.com/rs/zerolog/log"
)

const (
	maxDatagram     = 2048
	defaultRxBuffer = 64
	// readRetryDelay spaces out retries after a read error that is not a close.
	readRetryDelay = 50 * time.Millisecond
)

var ErrClosed = errors.New("udpradio: closed")

// Radio is a link.Radio bound to a local UDP address that transmits to one peer.
type Radio struct {
	conn *net.UDPConn
	peer *net.UDPAddr
	rx   chan []byte
	mode atomic.Int32

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
}

var _ link.Radio = (*Radio)(nil)

// Open binds listen and targets peer.
func Open(listen, peer string) (*Radio, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("udpradio: resolve listen %q: %w", listen, err)
	}
	paddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("udpradio: resolve peer %q: %w", peer, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udpradio: listen %q: %w", listen, err)
	}
	r := &Radio{
		conn: conn,
		peer: paddr,
		rx:   make(chan []byte, defaultRxBuffer),
		done: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.readLoop()
	log.Info().Msgf("udpradio.Open listen=%s peer=%s", conn.LocalAddr(), paddr)
	return r, nil
}

func (r *Radio) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

func (r *Radio) Transmit(ctx context.Context, packet []byte) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	if link.Mode(r.mode.Load()) == link.ModeSleep {
		return link.ErrRadioAsleep
	}
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := r.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := r.conn.WriteToUDP(packet, r.peer)
	return err
}

func (r *Radio) Poll() ([]byte, bool) {
	select {
	case b := <-r.rx:
		return b, true
	default:
		return nil, false
	}
}

func (r *Radio) SetMode(m link.Mode) error {
	r.mode.Store(int32(m))
	return nil
}

// Dropped counts inbound datagrams discarded because the receive buffer was full.
func (r *Radio) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Radio) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
		r.wg.Wait()
	})
	return err
}

func (r *Radio) readLoop() {
	defer r.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			log.Warn().Err(err).Msg("udpradio.readLoop read failed")
			if !pauseOrDone(r.done, readRetryDelay) {
				return
			}
			continue
		}
		if link.Mode(r.mode.Load()) == link.ModeSleep {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case r.rx <- pkt:
		default:
			r.dropped.Add(1)
			log.Warn().Int("bytes", n).Msg("udpradio.readLoop rx buffer full; packet dropped")
		}
	}
}

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
