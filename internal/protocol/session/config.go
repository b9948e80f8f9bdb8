package session

import (
	"fmt"
	"time"

	"github.com/danmuck/agrilink/internal/protocol"
)

// BackoffConfig paces requeued transfers after an abort.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transfer sequencing and requeue behavior.
type Config struct {
	PacketSize             int
	MaxConsecutiveFailures int
	MaxResourceBytes       uint32
	MaxTransferAttempts    int
	Limits                 protocol.Limits
	Requeue                BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		PacketSize:             protocol.DefaultPacketSize,
		MaxConsecutiveFailures: 3,
		MaxResourceBytes:       4 << 20,
		MaxTransferAttempts:    3,
		Limits:                 protocol.DefaultLimits(),
		Requeue: BackoffConfig{
			InitialDelay: 5 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Minute,
			Jitter:       true,
		},
	}
}

// Validate checks that packets of PacketSize fit the configured limits.
func (c Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if c.PacketSize <= 0 || c.PacketSize > c.Limits.PayloadCapacity() {
		return fmt.Errorf("%w: packet_size=%d capacity=%d", ErrInvalidConfig, c.PacketSize, c.Limits.PayloadCapacity())
	}
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("%w: max_consecutive_failures=%d", ErrInvalidConfig, c.MaxConsecutiveFailures)
	}
	if c.MaxTransferAttempts < 0 {
		return fmt.Errorf("%w: max_transfer_attempts=%d", ErrInvalidConfig, c.MaxTransferAttempts)
	}
	return nil
}
