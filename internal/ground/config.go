package ground

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/agrilink/internal/archive"
	"github.com/danmuck/agrilink/internal/link"
	"github.com/danmuck/agrilink/internal/protocol/frame"
	"github.com/danmuck/agrilink/internal/protocol/quasijson"
	"github.com/danmuck/agrilink/internal/protocol/session"
	"github.com/danmuck/agrilink/internal/relay"
)

// maxDemuxResource is the largest resource whose packets are still told apart
// from text frames: below it every packet header carries a zero high byte.
const maxDemuxResource = 1 << 24

var (
	ErrNoRadio       = errors.New("ground: radio required")
	ErrInvalidPoll   = errors.New("ground: poll interval must be positive")
	ErrResourceLimit = errors.New("ground: max resource bytes must stay below 16 MiB")
)

// ServiceConfig configures the ground station runtime.
type ServiceConfig struct {
	StationID           string
	Link                link.Config
	FrameMode           frame.Mode
	DataTerminators     frame.Terminators
	CommandTerminators  frame.Terminators
	Normalizer          quasijson.Normalizer
	Assembler           session.AssemblerConfig
	Relay               relay.Config
	Commands            relay.CommandTable
	CommandPollInterval time.Duration
	Archive             archive.Config
	ExpireInterval      time.Duration
	RecentRecords       int
	PublishBuffer       int
	StatusAddr          string
	CorsOrigins         []string
	// StatusToken guards POST routes when set.
	StatusToken string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		StationID:           "ground.local",
		Link:                link.DefaultConfig(),
		FrameMode:           frame.ModeTagPrefix,
		DataTerminators:     frame.DefaultDataTerminators,
		CommandTerminators:  frame.DefaultCommandTerminators,
		Assembler:           session.DefaultAssemblerConfig(),
		Relay:               relay.DefaultConfig(),
		Commands:            relay.DefaultCommands(),
		CommandPollInterval: 5 * time.Second,
		Archive:             archive.Config{Kind: "dir", Dir: "received"},
		ExpireInterval:      time.Second,
		RecentRecords:       128,
		PublishBuffer:       64,
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.StationID) == "" {
		return fmt.Errorf("ground: station id required")
	}
	if c.Link.PollInterval <= 0 || c.ExpireInterval <= 0 {
		return ErrInvalidPoll
	}
	if len(c.DataTerminators) == 0 || len(c.CommandTerminators) == 0 {
		return fmt.Errorf("ground: terminator sets required for data and command channels")
	}
	if c.Assembler.MaxResourceBytes == 0 || c.Assembler.MaxResourceBytes >= maxDemuxResource {
		return fmt.Errorf("%w: %d", ErrResourceLimit, c.Assembler.MaxResourceBytes)
	}
	if c.Assembler.PacketSize <= 0 || c.Assembler.PacketSize > c.Link.Limits.PayloadCapacity() {
		return fmt.Errorf("ground: packet size %d exceeds link payload capacity %d",
			c.Assembler.PacketSize, c.Link.Limits.PayloadCapacity())
	}
	return nil
}
