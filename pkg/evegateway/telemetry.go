package evegateway

import (
	"context"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RequestTelemetry observes every adapter request. The request ID is threaded
// across the start/finish/error events so log lines for one request correlate.
type RequestTelemetry struct {
	Requests  atomic.Int64
	Successes atomic.Int64
	Failures  atomic.Int64
	NotFound  atomic.Int64
	RateHits  atomic.Int64
}

// TelemetrySnapshot is a point-in-time copy of the request counters.
type TelemetrySnapshot struct {
	Requests  int64 `json:"requests"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	NotFound  int64 `json:"not_found"`
	RateHits  int64 `json:"rate_limit_hits"`
}

// Snapshot copies the counters.
func (t *RequestTelemetry) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		Requests:  t.Requests.Load(),
		Successes: t.Successes.Load(),
		Failures:  t.Failures.Load(),
		NotFound:  t.NotFound.Load(),
		RateHits:  t.RateHits.Load(),
	}
}

// sanitizeURL strips query values and fragments so tokens never reach logs.
// Query parameter names are kept for debuggability.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	q := u.Query()
	for k := range q {
		q.Set(k, "")
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// requestStart emits the start event and returns the request ID.
func (t *RequestTelemetry) requestStart(ctx context.Context, method, rawURL string) string {
	t.Requests.Add(1)
	id := uuid.NewString()
	slog.DebugContext(ctx, "ESI request start",
		"request_id", id, "method", method, "url", sanitizeURL(rawURL))
	return id
}

// requestFinish emits the finish event for a completed request.
func (t *RequestTelemetry) requestFinish(ctx context.Context, id string, status int, elapsed time.Duration) {
	t.Successes.Add(1)
	slog.DebugContext(ctx, "ESI request finish",
		"request_id", id, "status", status, "duration_ms", elapsed.Milliseconds())
}

// requestError emits the error event for a failed request.
func (t *RequestTelemetry) requestError(ctx context.Context, id string, err error, elapsed time.Duration) {
	t.Failures.Add(1)
	slog.WarnContext(ctx, "ESI request error",
		"request_id", id, "error", err, "duration_ms", elapsed.Milliseconds())
}
