package field

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/agrilink/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// ResourceSource discovers resources and remembers which ones were delivered.
type ResourceSource interface {
	Scan() ([]session.Resource, error)
	MarkSent(id string) error
}

// DirSourceConfig configures directory discovery.
type DirSourceConfig struct {
	Dir        string
	Extensions []string
	MaxBytes   uint32
	LedgerPath string
}

func DefaultDirSourceConfig() DirSourceConfig {
	return DirSourceConfig{
		Extensions: []string{".jpg", ".jpeg"},
		MaxBytes:   4 << 20,
	}
}

// DirSource lists one directory, non-recursively, in name order. A file's
// resource ID includes its size and modification time, so a rewritten file
// is offered again even after an earlier version was sent.
type DirSource struct {
	cfg    DirSourceConfig
	exts   map[string]bool
	ledger *Ledger
}

func NewDirSource(cfg DirSourceConfig) (*DirSource, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("field: resource dir required")
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	ledgerPath := cfg.LedgerPath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(cfg.Dir, ".agrilink-sent")
	}
	ledger, err := OpenLedger(ledgerPath)
	if err != nil {
		return nil, err
	}
	return &DirSource{cfg: cfg, exts: exts, ledger: ledger}, nil
}

func (d *DirSource) Scan() ([]session.Resource, error) {
	entries, err := os.ReadDir(d.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("field: scan %s: %w", d.cfg.Dir, err)
	}
	var out []session.Resource
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if len(d.exts) > 0 && !d.exts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if d.cfg.MaxBytes > 0 && info.Size() > int64(d.cfg.MaxBytes) {
			log.Debug().Msgf("field.DirSource.Scan skip oversized name=%s size=%d", e.Name(), info.Size())
			continue
		}
		path := filepath.Join(d.cfg.Dir, e.Name())
		id := resourceID(path, info.Size(), info.ModTime())
		if d.ledger.Sent(id) {
			continue
		}
		out = append(out, session.Resource{
			ID:   id,
			Name: e.Name(),
			Size: uint32(info.Size()),
			Open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}
	return out, nil
}

func (d *DirSource) MarkSent(id string) error {
	return d.ledger.Mark(id, time.Now())
}

func resourceID(path string, size int64, mod time.Time) string {
	return path + "@" + strconv.FormatInt(size, 10) + ":" + strconv.FormatInt(mod.UnixNano(), 10)
}

// Ledger is the persisted set of delivered resource IDs.
type Ledger struct {
	path string
	mu   sync.RWMutex
	sent map[string]time.Time
}

func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, sent: make(map[string]time.Time)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("field: read ledger: %w", err)
	}
	if len(data) == 0 {
		return l, nil
	}
	if err := msgpack.Unmarshal(data, &l.sent); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("field.OpenLedger unreadable ledger; starting empty")
		l.sent = make(map[string]time.Time)
	}
	return l, nil
}

func (l *Ledger) Sent(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.sent[id]
	return ok
}

func (l *Ledger) Mark(id string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent[id] = at
	data, err := msgpack.Marshal(l.sent)
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("field: write ledger: %w", err)
	}
	return os.Rename(tmp, l.path)
}
