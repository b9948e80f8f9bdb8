package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// CommandSource yields pending command text.
type CommandSource interface {
	FetchCommand(ctx context.Context) (string, error)
}

// Poller fetches operator commands on an interval and hands their tokens on.
type Poller struct {
	Source   CommandSource
	Table    CommandTable
	Interval time.Duration
	Dispatch func(ctx context.Context, token string) error
}

// Run polls until ctx ends. Unknown commands and fetch errors are logged and
// polling continues.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("relay.Poller.Run poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce fetches one command and dispatches its token. It returns the
// dispatched token, or "" when nothing was pending.
func (p *Poller) PollOnce(ctx context.Context) (string, error) {
	text, err := p.Source.FetchCommand(ctx)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", nil
	}
	table := p.Table
	if table == nil {
		table = DefaultCommands()
	}
	token, err := table.Lookup(text)
	if err != nil {
		return "", err
	}
	if p.Dispatch == nil {
		return token, errors.New("relay: poller has no dispatch")
	}
	if err := p.Dispatch(ctx, token); err != nil {
		return token, err
	}
	log.Info().Msgf("relay.Poller.PollOnce dispatched text=%q token=%s", text, token)
	return token, nil
}
