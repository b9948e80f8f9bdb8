package link

import (
	"time"

	"github.com/danmuck/agrilink/internal/protocol"
)

// Config defines send retry and polling behavior.
type Config struct {
	MaxRetries   int
	Timeout      time.Duration
	BaseDelay    time.Duration
	SettleDelay  time.Duration
	PollInterval time.Duration
	Limits       protocol.Limits
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		Timeout:      2 * time.Second,
		BaseDelay:    100 * time.Millisecond,
		SettleDelay:  50 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Limits:       protocol.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Limits.MaxPacketBytes <= 0 {
		c.Limits = d.Limits
	}
	return c
}

// RetryDelay is the wait after failed attempt n (0-based); it grows linearly.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 0 {
		return 0
	}
	return base * time.Duration(attempt+1)
}
