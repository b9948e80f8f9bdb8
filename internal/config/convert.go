package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/agrilink/internal/archive"
	"github.com/danmuck/agrilink/internal/bus"
	"github.com/danmuck/agrilink/internal/field"
	"github.com/danmuck/agrilink/internal/ground"
	"github.com/danmuck/agrilink/internal/link"
	"github.com/danmuck/agrilink/internal/protocol"
	"github.com/danmuck/agrilink/internal/protocol/frame"
	"github.com/danmuck/agrilink/internal/relay"
)

// NodeService converts a node file into the field runtime config.
func NodeService(fc NodeConfig) (field.ServiceConfig, error) {
	cfg := field.DefaultServiceConfig()
	cfg.NodeID = strings.TrimSpace(fc.ID)

	l, err := linkConfig(fc.Link)
	if err != nil {
		return field.ServiceConfig{}, err
	}
	cfg.Link = l
	if cfg.FrameMode, err = frame.ParseMode(fc.FrameMode); err != nil {
		return field.ServiceConfig{}, err
	}
	cfg.DataTerminators = frame.Terminators(fc.DataTerminators)
	cfg.CommandTerminators = frame.Terminators(fc.CommandTerminators)
	if fc.QueueCapacity > 0 {
		cfg.QueueCapacity = fc.QueueCapacity
	}

	t := fc.Transfer
	cfg.Session.Limits = l.Limits
	if t.PacketSize > 0 {
		cfg.Session.PacketSize = t.PacketSize
	}
	if t.MaxConsecutiveFailures > 0 {
		cfg.Session.MaxConsecutiveFailures = t.MaxConsecutiveFailures
	}
	if t.MaxResourceBytes > 0 {
		cfg.Session.MaxResourceBytes = t.MaxResourceBytes
	}
	if t.MaxAttempts > 0 {
		cfg.Session.MaxTransferAttempts = t.MaxAttempts
	}
	if t.RequeueMultiplier > 0 {
		cfg.Session.Requeue.Multiplier = t.RequeueMultiplier
	}

	cfg.Resources.Dir = strings.TrimSpace(fc.Resources.Dir)
	if len(fc.Resources.Extensions) > 0 {
		cfg.Resources.Extensions = fc.Resources.Extensions
	}
	cfg.Resources.LedgerPath = strings.TrimSpace(fc.Resources.LedgerPath)
	cfg.Resources.MaxBytes = cfg.Session.MaxResourceBytes

	cfg.StatusAddr = strings.TrimSpace(fc.Status.Addr)
	cfg.CorsOrigins = fc.Status.CorsOrigins
	cfg.StatusToken = fc.Status.Token

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"poll_interval", fc.PollInterval, &cfg.PollInterval},
		{"transfer.requeue_delay", t.RequeueDelay, &cfg.Session.Requeue.InitialDelay},
		{"transfer.requeue_max_delay", t.RequeueMaxDelay, &cfg.Session.Requeue.MaxDelay},
		{"resources.scan_interval", fc.Resources.ScanInterval, &cfg.ScanInterval},
		{"ground.interval", fc.Ground.Interval, &cfg.GroundInterval},
	}
	for _, d := range durations {
		if err := parseDuration(d.key, d.raw, d.dst); err != nil {
			return field.ServiceConfig{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return field.ServiceConfig{}, err
	}
	return cfg, nil
}

// NodeBus converts the node's bus section.
func NodeBus(fc NodeConfig) (bus.PeerConfig, error) {
	pc := bus.PeerConfig{
		Listen:      strings.TrimSpace(fc.Bus.Listen),
		Controller:  strings.TrimSpace(fc.Bus.Controller),
		Terminators: frame.Terminators(fc.CommandTerminators),
	}
	if err := parseDuration("bus.write_timeout", fc.Bus.WriteTimeout, &pc.WriteTimeout); err != nil {
		return bus.PeerConfig{}, err
	}
	return pc, nil
}

// GroundService converts a ground file into the ground runtime config.
func GroundService(fc GroundConfig) (ground.ServiceConfig, error) {
	cfg := ground.DefaultServiceConfig()
	cfg.StationID = strings.TrimSpace(fc.ID)

	l, err := linkConfig(fc.Link)
	if err != nil {
		return ground.ServiceConfig{}, err
	}
	cfg.Link = l
	if cfg.FrameMode, err = frame.ParseMode(fc.FrameMode); err != nil {
		return ground.ServiceConfig{}, err
	}
	cfg.DataTerminators = frame.Terminators(fc.DataTerminators)
	cfg.CommandTerminators = frame.Terminators(fc.CommandTerminators)
	cfg.Normalizer.Strict = fc.StrictRecords
	if fc.RecentRecords > 0 {
		cfg.RecentRecords = fc.RecentRecords
	}

	if fc.Assembly.PacketSize > 0 {
		cfg.Assembler.PacketSize = fc.Assembly.PacketSize
	}
	if fc.Assembly.MaxResourceBytes > 0 {
		cfg.Assembler.MaxResourceBytes = fc.Assembly.MaxResourceBytes
	}

	r := fc.Relay
	cfg.Relay = relay.Config{
		BaseURL:     strings.TrimSpace(r.BaseURL),
		Endpoints:   r.Endpoints,
		CommandPath: r.CommandPath,
		Headers:     r.Headers,
		Retries:     r.Retries,
		SpoolPath:   strings.TrimSpace(r.SpoolPath),
	}
	if len(cfg.Relay.Endpoints) == 0 {
		cfg.Relay.Endpoints = relay.DefaultConfig().Endpoints
	}
	if len(fc.Commands) > 0 {
		cfg.Commands = relay.CommandTable{}
		for text, token := range fc.Commands {
			cfg.Commands[strings.ToLower(strings.Join(strings.Fields(text), " "))] = strings.ToUpper(strings.TrimSpace(token))
		}
	}

	a := fc.Archive
	cfg.Archive = archive.Config{
		Kind: a.Kind,
		Dir:  a.Dir,
		S3: archive.S3Config{
			Bucket:       a.Bucket,
			Prefix:       a.Prefix,
			Region:       a.Region,
			Endpoint:     a.Endpoint,
			UsePathStyle: a.UsePathStyle,
		},
	}

	cfg.StatusAddr = strings.TrimSpace(fc.Status.Addr)
	cfg.CorsOrigins = fc.Status.CorsOrigins
	cfg.StatusToken = fc.Status.Token

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"assembly.timeout", fc.Assembly.Timeout, &cfg.Assembler.Timeout},
		{"assembly.expire_interval", fc.Assembly.ExpireInterval, &cfg.ExpireInterval},
		{"relay.timeout", r.Timeout, &cfg.Relay.Timeout},
		{"relay.poll_interval", r.PollInterval, &cfg.CommandPollInterval},
	}
	for _, d := range durations {
		if err := parseDuration(d.key, d.raw, d.dst); err != nil {
			return ground.ServiceConfig{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return ground.ServiceConfig{}, err
	}
	return cfg, nil
}

func linkConfig(lc LinkConfig) (link.Config, error) {
	cfg := link.DefaultConfig()
	if lc.MaxRetries > 0 {
		cfg.MaxRetries = lc.MaxRetries
	}
	if lc.MaxPacketBytes > 0 {
		cfg.Limits = protocol.Limits{MaxPacketBytes: lc.MaxPacketBytes}
	}
	if err := cfg.Limits.Validate(); err != nil {
		return link.Config{}, err
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"link.timeout", lc.Timeout, &cfg.Timeout},
		{"link.base_delay", lc.BaseDelay, &cfg.BaseDelay},
		{"link.settle_delay", lc.SettleDelay, &cfg.SettleDelay},
		{"link.poll_interval", lc.PollInterval, &cfg.PollInterval},
	}
	for _, d := range durations {
		if err := parseDuration(d.key, d.raw, d.dst); err != nil {
			return link.Config{}, err
		}
	}
	return cfg, nil
}

// parseDuration leaves dst untouched when raw is empty.
func parseDuration(key, raw string, dst *time.Duration) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return fmt.Errorf("parse %s: negative duration %s", key, raw)
	}
	*dst = d
	return nil
}
