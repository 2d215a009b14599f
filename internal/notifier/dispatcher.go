package notifier

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultQueueSize bounds the egress queue.
	DefaultQueueSize = 500

	maxAttempts = 3
	backoffBase = 100 * time.Millisecond
	backoffCap  = 1 * time.Second
)

// ErrBackpressure is returned to producers when the queue is full. The newest
// work is rejected; queued work is never evicted.
var ErrBackpressure = errors.New("notification queue full")

// FailureRecorder receives sustained-failure outcomes keyed by fingerprint.
type FailureRecorder interface {
	RecordFailure(fingerprint, reason string)
}

// Stats are the dispatcher's running counters.
type Stats struct {
	Enqueued     int64 `json:"enqueued"`
	Sent         int64 `json:"sent"`
	Failed       int64 `json:"failed"`
	Retries      int64 `json:"retries"`
	Backpressure int64 `json:"backpressure"`
	QueueDepth   int   `json:"queue_depth"`
}

// Dispatcher drains a bounded queue through a single worker, routing each
// notification to its kind's channel.
type Dispatcher struct {
	sender   Sender
	channels map[Kind]string
	queue    chan Notification
	failures FailureRecorder

	enqueued     atomic.Int64
	sent         atomic.Int64
	failed       atomic.Int64
	retries      atomic.Int64
	backpressure atomic.Int64

	wg sync.WaitGroup
}

// Config wires the dispatcher.
type Config struct {
	Sender Sender
	// Channels maps each kind to its channel ID. Missing kinds fall back to
	// the status channel.
	Channels map[Kind]string
	// QueueSize defaults to DefaultQueueSize.
	QueueSize int
	// Failures may be nil.
	Failures FailureRecorder
}

// NewDispatcher creates a stopped dispatcher; call Run to start draining.
func NewDispatcher(cfg Config) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		sender:   cfg.Sender,
		channels: cfg.Channels,
		queue:    make(chan Notification, size),
		failures: cfg.Failures,
	}
}

// Enqueue hands a notification to the worker. Returns ErrBackpressure when
// the queue is full.
func (d *Dispatcher) Enqueue(n Notification) error {
	select {
	case d.queue <- n:
		d.enqueued.Add(1)
		return nil
	default:
		d.backpressure.Add(1)
		slog.Warn("Rejecting notification, queue full",
			"kind", string(n.Kind),
			"fingerprint", n.Fingerprint)
		return ErrBackpressure
	}
}

// Run drains the queue until ctx is cancelled, then finishes in-flight work.
func (d *Dispatcher) Run(ctx context.Context) {
	d.wg.Add(1)
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

// drain flushes whatever is queued at shutdown with a short deadline each.
func (d *Dispatcher) drain() {
	for {
		select {
		case n := <-d.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			d.deliver(ctx, n)
			cancel()
		default:
			return
		}
	}
}

// Wait blocks until the worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	channel := d.channelFor(n.Kind)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.sender.Send(ctx, channel, n.Payload)
		if lastErr == nil {
			d.sent.Add(1)
			slog.Debug("Notification delivered",
				"kind", string(n.Kind),
				"channel", channel,
				"attempt", attempt)
			return
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		d.retries.Add(1)

		backoff := backoffBase << (attempt - 1)
		if backoff > backoffCap {
			backoff = backoffCap
		}
		jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		select {
		case <-ctx.Done():
		case <-time.After(jittered):
		}
	}

	d.failed.Add(1)
	slog.Error("Notification delivery failed",
		"kind", string(n.Kind),
		"fingerprint", n.Fingerprint,
		"attempts", maxAttempts,
		"error", lastErr)
	if d.failures != nil && n.Fingerprint != "" {
		d.failures.RecordFailure(n.Fingerprint, "delivery_failed")
	}
}

func (d *Dispatcher) channelFor(kind Kind) string {
	if ch, ok := d.channels[kind]; ok && ch != "" {
		return ch
	}
	return d.channels[KindStatus]
}

// Stats snapshots the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:     d.enqueued.Load(),
		Sent:         d.sent.Load(),
		Failed:       d.failed.Load(),
		Retries:      d.retries.Load(),
		Backpressure: d.backpressure.Load(),
		QueueDepth:   len(d.queue),
	}
}
