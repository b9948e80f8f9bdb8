package field

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/agrilink/internal/bus"
	"github.com/danmuck/agrilink/internal/link"
	"github.com/danmuck/agrilink/internal/protocol/frame"
	"github.com/danmuck/agrilink/internal/protocol/session"
)

var (
	ErrNoRadio            = errors.New("field: radio required")
	ErrInvalidPoll        = errors.New("field: poll interval must be positive")
	ErrInvalidTerminators = errors.New("field: terminator sets required for data and command channels")
)

// ServiceConfig configures the field node runtime.
type ServiceConfig struct {
	NodeID             string
	Link               link.Config
	Session            session.Config
	FrameMode          frame.Mode
	DataTerminators    frame.Terminators
	CommandTerminators frame.Terminators
	QueueCapacity      int
	PollInterval       time.Duration
	Resources          DirSourceConfig
	ScanInterval       time.Duration
	GroundInterval     time.Duration
	StatusAddr         string
	CorsOrigins        []string
	// StatusToken guards POST routes when set.
	StatusToken string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:             "field.local",
		Link:               link.DefaultConfig(),
		Session:            session.DefaultConfig(),
		FrameMode:          frame.ModeTagPrefix,
		DataTerminators:    frame.DefaultDataTerminators,
		CommandTerminators: frame.DefaultCommandTerminators,
		QueueCapacity:      bus.DefaultQueueCapacity,
		PollInterval:       20 * time.Millisecond,
		Resources:          DefaultDirSourceConfig(),
		ScanInterval:       30 * time.Second,
		GroundInterval:     10 * time.Second,
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("field: node id required")
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPoll
	}
	if len(c.DataTerminators) == 0 || len(c.CommandTerminators) == 0 {
		return ErrInvalidTerminators
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.Session.Limits != c.Link.Limits {
		return fmt.Errorf("field: session limits %+v differ from link limits %+v", c.Session.Limits, c.Link.Limits)
	}
	return nil
}
