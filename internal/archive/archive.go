// Package archive stores resources received over the link.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

var (
	ErrEmptyName   = errors.New("archive: object name required")
	ErrNoBucket    = errors.New("archive: s3 bucket is required")
	ErrUnknownKind = errors.New("archive: unknown store kind")
)

// Object is one received resource.
type Object struct {
	ID         string
	Name       string
	Data       []byte
	Complete   bool
	ReceivedAt time.Time
}

// Store persists objects and returns where they landed.
type Store interface {
	Put(ctx context.Context, obj Object) (location string, err error)
}

// Key lays objects out as <day>/<id>-<name>; incomplete objects get a
// ".partial" suffix so they are never mistaken for whole resources.
func Key(obj Object) (string, error) {
	name := sanitize(obj.Name)
	if name == "" {
		return "", ErrEmptyName
	}
	at := obj.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	base := name
	if obj.ID != "" {
		base = obj.ID + "-" + name
	}
	if !obj.Complete {
		base += ".partial"
	}
	return path.Join(at.UTC().Format("2006-01-02"), base), nil
}

func sanitize(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// Config selects and configures a store.
type Config struct {
	Kind string // "dir" or "s3"
	Dir  string
	S3   S3Config
}

// Open builds the store named by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "dir":
		return NewDirStore(cfg.Dir)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
