package field

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"
)

// GroundSource yields the latest ground-sensor payload, or "" when nothing
// new is available.
type GroundSource interface {
	Read(ctx context.Context) (string, error)
}

// FileGroundSource reads a file that an external sampler rewrites. Each
// distinct modification is returned once.
type FileGroundSource struct {
	Path string

	mu   sync.Mutex
	last time.Time
}

func (s *FileGroundSource) Read(_ context.Context) (string, error) {
	info, err := os.Stat(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !info.ModTime().After(s.last) {
		return "", nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", err
	}
	s.last = info.ModTime()
	return lastLine(string(data)), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
