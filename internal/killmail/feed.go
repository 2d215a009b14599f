package killmail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// FeedState is the feed consumer's lifecycle state.
type FeedState int32

const (
	FeedStopped FeedState = iota
	FeedStarting
	FeedRunning
	FeedThrottled
	FeedDraining
)

func (s FeedState) String() string {
	switch s {
	case FeedStopped:
		return "stopped"
	case FeedStarting:
		return "starting"
	case FeedRunning:
		return "running"
	case FeedThrottled:
		return "throttled"
	case FeedDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// FeedMetrics are the consumer's running counters.
type FeedMetrics struct {
	TotalPolls     atomic.Int64
	NullResponses  atomic.Int64
	KillmailsFound atomic.Int64
	HTTPErrors     atomic.Int64
	ParseErrors    atomic.Int64
	SubmitErrors   atomic.Int64
	RateLimitHits  atomic.Int64
	LastKillmailID atomic.Int64
}

// FeedStatus is a point-in-time view of the consumer for the operator API.
type FeedStatus struct {
	State          string     `json:"state"`
	QueueID        string     `json:"queue_id"`
	LastPoll       *time.Time `json:"last_poll,omitempty"`
	LastKillmailID *int64     `json:"last_killmail_id,omitempty"`
	Uptime         string     `json:"uptime"`
	TotalPolls     int64      `json:"total_polls"`
	NullResponses  int64      `json:"null_responses"`
	KillmailsFound int64      `json:"killmails_found"`
	HTTPErrors     int64      `json:"http_errors"`
	ParseErrors    int64      `json:"parse_errors"`
	SubmitErrors   int64      `json:"submit_errors"`
}

// FeedConfig carries the feed coordinates and wait tuning.
type FeedConfig struct {
	Endpoint string
	// QueueID keys the server-side cursor; defaults to a host-unique value.
	QueueID string
	// TTWMin/TTWMax bound the server-side wait (seconds); the consumer backs
	// off to TTWMax after NullThreshold consecutive empty polls.
	TTWMin        int
	TTWMax        int
	NullThreshold int
	HTTPTimeout   time.Duration
}

func (c *FeedConfig) applyDefaults() {
	if c.QueueID == "" {
		hostname, _ := os.Hostname()
		c.QueueID = fmt.Sprintf("wanderer-%s-%d", hostname, time.Now().Unix())
	}
	if c.TTWMin <= 0 {
		c.TTWMin = 1
	}
	if c.TTWMax <= 0 {
		c.TTWMax = 10
	}
	if c.NullThreshold <= 0 {
		c.NullThreshold = 5
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
}

// FeedConsumer long-polls the killmail feed and submits each package to the
// pipeline. Wait time adapts: minimum while kills arrive, maximum after a
// streak of empty polls.
type FeedConsumer struct {
	cfg        FeedConfig
	httpClient *http.Client
	pipeline   *Pipeline

	state      atomic.Int32
	running    atomic.Bool
	mu         sync.Mutex
	nullStreak int
	lastPoll   time.Time
	startTime  time.Time
	wg         sync.WaitGroup
	cancel     context.CancelFunc

	metrics FeedMetrics
}

// NewFeedConsumer creates a stopped consumer.
func NewFeedConsumer(cfg FeedConfig, pipeline *Pipeline) *FeedConsumer {
	cfg.applyDefaults()
	return &FeedConsumer{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		pipeline: pipeline,
	}
}

// Start launches the poll loop.
func (c *FeedConsumer) Start(ctx context.Context) error {
	if c.running.Load() {
		return fmt.Errorf("feed consumer already running")
	}
	c.state.Store(int32(FeedStarting))

	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Lock()
	c.nullStreak = 0
	c.startTime = time.Now()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pollLoop(ctx)

	c.running.Store(true)
	c.state.Store(int32(FeedRunning))
	slog.InfoContext(ctx, "Killmail feed consumer started",
		"queue_id", c.cfg.QueueID,
		"endpoint", c.cfg.Endpoint)
	return nil
}

// Stop drains the poll loop with a 30 second grace window.
func (c *FeedConsumer) Stop() error {
	if !c.running.Load() {
		return fmt.Errorf("feed consumer not running")
	}
	c.state.Store(int32(FeedDraining))
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Killmail feed consumer stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("Killmail feed consumer stop timeout")
	}

	c.running.Store(false)
	c.state.Store(int32(FeedStopped))
	return nil
}

func (c *FeedConsumer) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			c.poll(ctx)
		}
	}
}

func (c *FeedConsumer) poll(ctx context.Context) {
	ttw := c.calculateTTW()
	pollURL := fmt.Sprintf("%s?queueID=%s&ttw=%d", c.cfg.Endpoint, url.QueryEscape(c.cfg.QueueID), ttw)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		c.metrics.HTTPErrors.Add(1)
		c.pause(ctx, 5*time.Second)
		return
	}
	req.Header.Set("Accept", "application/json")

	c.metrics.TotalPolls.Add(1)
	c.mu.Lock()
	c.lastPoll = time.Now()
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.metrics.HTTPErrors.Add(1)
		slog.WarnContext(ctx, "Feed poll failed", "error", err)
		c.pause(ctx, 5*time.Second)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.metrics.RateLimitHits.Add(1)
		c.state.Store(int32(FeedThrottled))
		slog.WarnContext(ctx, "Feed rate limited, backing off")
		c.pause(ctx, 30*time.Second)
		c.state.Store(int32(FeedRunning))
		return
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.HTTPErrors.Add(1)
		slog.WarnContext(ctx, "Feed returned unexpected status", "status", resp.StatusCode)
		c.pause(ctx, 5*time.Second)
		return
	}

	var feed FeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		c.metrics.ParseErrors.Add(1)
		slog.WarnContext(ctx, "Feed response decode failed", "error", err)
		return
	}

	c.handlePackage(ctx, feed.Package)
}

func (c *FeedConsumer) handlePackage(ctx context.Context, pkg *Package) {
	if pkg == nil {
		c.metrics.NullResponses.Add(1)
		c.mu.Lock()
		c.nullStreak++
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.nullStreak = 0
	c.mu.Unlock()

	c.metrics.KillmailsFound.Add(1)
	c.metrics.LastKillmailID.Store(pkg.KillmailID)

	if err := c.pipeline.Submit(ctx, pkg); err != nil {
		c.metrics.SubmitErrors.Add(1)
		slog.ErrorContext(ctx, "Killmail submit failed", "killmail_id", pkg.KillmailID, "error", err)
	}
}

func (c *FeedConsumer) calculateTTW() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nullStreak >= c.cfg.NullThreshold {
		return c.cfg.TTWMax
	}
	return c.cfg.TTWMin
}

func (c *FeedConsumer) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Status reports consumer state for the operator API.
func (c *FeedConsumer) Status() FeedStatus {
	st := FeedStatus{
		State:          FeedState(c.state.Load()).String(),
		QueueID:        c.cfg.QueueID,
		TotalPolls:     c.metrics.TotalPolls.Load(),
		NullResponses:  c.metrics.NullResponses.Load(),
		KillmailsFound: c.metrics.KillmailsFound.Load(),
		HTTPErrors:     c.metrics.HTTPErrors.Load(),
		ParseErrors:    c.metrics.ParseErrors.Load(),
		SubmitErrors:   c.metrics.SubmitErrors.Load(),
	}
	c.mu.Lock()
	if !c.lastPoll.IsZero() {
		lp := c.lastPoll
		st.LastPoll = &lp
	}
	if !c.startTime.IsZero() {
		st.Uptime = time.Since(c.startTime).Round(time.Second).String()
	}
	c.mu.Unlock()
	if id := c.metrics.LastKillmailID.Load(); id > 0 {
		st.LastKillmailID = &id
	}
	return st
}
