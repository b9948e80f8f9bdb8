package relay

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	spoolPrefixSize = 4
	maxSpoolEntry   = 1 << 20
)

// SpoolEntry is one record whose POST failed.
type SpoolEntry struct {
	Class    string    `msgpack:"class"`
	Body     []byte    `msgpack:"body"`
	QueuedAt time.Time `msgpack:"queued_at"`
	Attempts int       `msgpack:"attempts"`
}

// Spool persists failed posts as length-prefixed msgpack entries.
type Spool struct {
	path string
	mu   sync.Mutex
}

func OpenSpool(path string) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("relay: spool dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("relay: open spool: %w", err)
	}
	_ = f.Close()
	return &Spool{path: path}, nil
}

func (s *Spool) Append(e SpoolEntry) error {
	payload, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("relay: encode spool entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	var prefix [spoolPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := f.Write(append(prefix[:], payload...)); err != nil {
		return err
	}
	return f.Sync()
}

// Len counts spooled entries.
func (s *Spool) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readLocked()
	return len(entries), err
}

// Replay hands entries to fn in spool order and removes the ones fn accepted.
// It stops at the first failure, which stays spooled together with every
// later entry so order is preserved.
func (s *Spool) Replay(fn func(SpoolEntry) error) (sent int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, readErr := s.readLocked()
	if readErr != nil && !errors.Is(readErr, ErrSpoolCorrupt) {
		return 0, readErr
	}
	if readErr == nil && len(entries) == 0 {
		return 0, nil
	}
	if readErr != nil {
		log.Warn().Err(readErr).Str("path", s.path).Msg("relay.Spool.Replay dropping corrupt tail")
	}
	var keep []SpoolEntry
	for i, e := range entries {
		if ferr := fn(e); ferr != nil {
			e.Attempts++
			keep = append(keep, e)
			keep = append(keep, entries[i+1:]...)
			err = ferr
			break
		}
		sent++
	}
	if werr := s.rewriteLocked(keep); werr != nil {
		return sent, werr
	}
	return sent, err
}

func (s *Spool) readLocked() ([]SpoolEntry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var out []SpoolEntry
	for {
		var prefix [spoolPrefixSize]byte
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("%w: %v", ErrSpoolCorrupt, err)
		}
		n := binary.BigEndian.Uint32(prefix[:])
		if n > maxSpoolEntry {
			return out, fmt.Errorf("%w: entry size %d", ErrSpoolCorrupt, n)
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return out, fmt.Errorf("%w: %v", ErrSpoolCorrupt, err)
		}
		var e SpoolEntry
		if err := msgpack.Unmarshal(payload, &e); err != nil {
			return out, fmt.Errorf("%w: %v", ErrSpoolCorrupt, err)
		}
		out = append(out, e)
	}
}

func (s *Spool) rewriteLocked(entries []SpoolEntry) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, e := range entries {
		payload, err := msgpack.Marshal(&e)
		if err != nil {
			_ = f.Close()
			return err
		}
		var prefix [spoolPrefixSize]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
		_, _ = w.Write(prefix[:])
		_, _ = w.Write(payload)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
