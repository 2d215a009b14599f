package sse

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	reconnectBase = 1 * time.Second
	reconnectMax  = 30 * time.Second
)

// ConsumerConfig carries the stream coordinates.
type ConsumerConfig struct {
	// URL is the full stream endpoint.
	URL string
	// Token is sent as a bearer Authorization header.
	Token string
}

// ConnectionStats describe stream health for the telemetry collector.
type ConnectionStats struct {
	Connected      bool          `json:"connected"`
	ConnectedSince time.Time     `json:"connected_since,omitempty"`
	Reconnects     int64         `json:"reconnects"`
	Keepalives     int64         `json:"keepalives"`
	LastServerTime string        `json:"last_server_time,omitempty"`
	Uptime         time.Duration `json:"uptime"`
}

// Consumer reads one SSE stream and hands complete events to the router in
// arrival order. Reconnects with exponential backoff and resumes via
// Last-Event-ID.
type Consumer struct {
	cfg    ConsumerConfig
	router *Router
	client *http.Client

	lastEventID atomic.Value // string
	connected   atomic.Bool
	since       atomic.Int64 // unix nanos
	startedAt   time.Time
	downtime    atomic.Int64 // accumulated nanos disconnected
	reconnects  atomic.Int64
	keepalives  atomic.Int64
	serverTime  atomic.Value // string
}

// NewConsumer creates a stream consumer bound to a router.
func NewConsumer(cfg ConsumerConfig, router *Router) *Consumer {
	return &Consumer{
		cfg:    cfg,
		router: router,
		// No overall timeout: the stream is long-lived. Connection setup is
		// bounded by the dialer defaults.
		client: &http.Client{},
	}
}

// Run consumes the stream until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.startedAt = time.Now()
	backoff := reconnectBase

	for {
		disconnectedAt := time.Now()
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stream consumer stopped")
			return
		}

		c.connected.Store(false)
		c.reconnects.Add(1)
		slog.WarnContext(ctx, "Stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff.String(),
			"last_event_id", c.LastEventID())

		jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jittered):
		}
		c.downtime.Add(int64(time.Since(disconnectedAt)))

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if id := c.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	c.connected.Store(true)
	c.since.Store(time.Now().UnixNano())
	slog.InfoContext(ctx, "Stream connected", "url", sanitizeStreamURL(c.cfg.URL))

	return c.readLoop(ctx, bufio.NewReader(resp.Body))
}

// readLoop parses the text/event-stream wire format: "field: value" lines
// accumulate into an event dispatched on the blank line; ":" lines are
// keepalive comments.
func (c *Consumer) readLoop(ctx context.Context, r *bufio.Reader) error {
	var data strings.Builder
	var eventID string

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() > 0 {
				if eventID != "" {
					c.lastEventID.Store(eventID)
				}
				c.handleData(ctx, data.String())
			}
			data.Reset()
			eventID = ""

		case strings.HasPrefix(line, ":"):
			c.keepalives.Add(1)

		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(line[len("id:"):])

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[len("data:"):]))

		case strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "retry:"):
			// Event name travels inside the JSON envelope; retry hints are
			// superseded by our own backoff.

		default:
			slog.DebugContext(ctx, "Skipping unrecognised stream line", "line", line)
		}
	}
}

func (c *Consumer) handleData(ctx context.Context, data string) {
	c.router.Dispatch(ctx, []byte(data))
}

// RecordServerTime is called by the connected-event handler.
func (c *Consumer) RecordServerTime(serverTime string) {
	c.serverTime.Store(serverTime)
}

// LastEventID returns the resume position, empty before the first event.
func (c *Consumer) LastEventID() string {
	if v, ok := c.lastEventID.Load().(string); ok {
		return v
	}
	return ""
}

// Stats snapshots connection health.
func (c *Consumer) Stats() ConnectionStats {
	st := ConnectionStats{
		Connected:  c.connected.Load(),
		Reconnects: c.reconnects.Load(),
		Keepalives: c.keepalives.Load(),
	}
	if since := c.since.Load(); since > 0 && st.Connected {
		st.ConnectedSince = time.Unix(0, since)
	}
	if v, ok := c.serverTime.Load().(string); ok {
		st.LastServerTime = v
	}
	if !c.startedAt.IsZero() {
		total := time.Since(c.startedAt)
		st.Uptime = total - time.Duration(c.downtime.Load())
		if st.Uptime < 0 {
			st.Uptime = 0
		}
	}
	return st
}

// sanitizeStreamURL strips the query string, which may carry a token.
func sanitizeStreamURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
