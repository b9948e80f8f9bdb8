// Package relay forwards normalized records to the HTTP backend and pulls
// operator commands from it.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/agrilink/internal/observability"
	"github.com/danmuck/agrilink/internal/protocol/quasijson"
	"github.com/rs/zerolog/log"
)

// Client posts records and polls commands.
type Client struct {
	cfg    Config
	client *http.Client
	spool  *Spool
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("relay: retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = DefaultConfig().Endpoints
	}
	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  sleepCtx,
	}
	if cfg.SpoolPath != "" {
		sp, err := OpenSpool(cfg.SpoolPath)
		if err != nil {
			return nil, err
		}
		c.spool = sp
	}
	return c, nil
}

// Publish posts rec to its class endpoint. Spooled posts are replayed first;
// a post that still fails after retries is spooled and its error returned.
func (c *Client) Publish(ctx context.Context, rec quasijson.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("relay: marshal record: %w", err)
	}
	return c.PublishRaw(ctx, rec.Class, body)
}

// PublishRaw posts an already encoded JSON body for class.
func (c *Client) PublishRaw(ctx context.Context, class string, body []byte) error {
	if _, ok := c.cfg.Endpoints[class]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, class)
	}
	if c.spool != nil {
		if n, err := c.spool.Replay(func(e SpoolEntry) error {
			return c.post(ctx, e.Class, e.Body)
		}); err != nil {
			log.Warn().Err(err).Msgf("relay.Client.Publish spool replay stopped replayed=%d", n)
		} else if n > 0 {
			log.Info().Msgf("relay.Client.Publish spool replayed=%d", n)
		}
	}
	err := c.post(ctx, class, body)
	if err == nil {
		return nil
	}
	if c.spool != nil {
		if serr := c.spool.Append(SpoolEntry{Class: class, Body: body, QueuedAt: time.Now(), Attempts: 1}); serr != nil {
			log.Error().Err(serr).Msg("relay.Client.Publish spool append failed")
		}
	}
	return err
}

// SpoolLen reports how many posts await replay.
func (c *Client) SpoolLen() int {
	if c.spool == nil {
		return 0
	}
	n, _ := c.spool.Len()
	return n
}

func (c *Client) post(ctx context.Context, class string, body []byte) error {
	path, ok := c.cfg.Endpoints[class]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, class)
	}
	url := c.url(path)
	var lastErr error
	attempts := 1 + c.cfg.Retries
	for i := range attempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			if err := c.sleep(ctx, backoff); err != nil {
				return fmt.Errorf("relay: canceled during backoff: %w", err)
			}
		}
		lastErr = c.do(ctx, http.MethodPost, url, body, nil)
		if lastErr == nil {
			observability.RecordRelayPost(class, true)
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.Retriable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	observability.RecordRelayPost(class, false)
	return fmt.Errorf("relay: post %s: %w", class, lastErr)
}

// commandResponse accepts {"command": "..."} bodies from the command endpoint.
type commandResponse struct {
	Command string `json:"command"`
}

// FetchCommand returns the pending command text, or "" when there is none.
// Plain-text and {"command": ...} bodies are both accepted.
func (c *Client) FetchCommand(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	if err := c.do(ctx, http.MethodGet, c.url(c.cfg.CommandPath), nil, &buf); err != nil {
		return "", err
	}
	raw := strings.TrimSpace(buf.String())
	if strings.HasPrefix(raw, "{") {
		var cr commandResponse
		if err := json.Unmarshal([]byte(raw), &cr); err != nil {
			return "", fmt.Errorf("relay: decode command: %w", err)
		}
		raw = cr.Command
	}
	return strings.TrimSpace(raw), nil
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out io.Writer) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("relay: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Code: resp.StatusCode}
	}
	if out == nil {
		out = io.Discard
	}
	_, err = io.Copy(out, io.LimitReader(resp.Body, 64<<10))
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
