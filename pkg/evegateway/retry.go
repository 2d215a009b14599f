package evegateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RetryConfig tunes the retry middleware.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig matches the adapter defaults: three attempts, jittered
// exponential backoff between 100 ms and 1 s per step.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
}

// ESIErrorLimits tracks the upstream error-limit headers.
type ESIErrorLimits struct {
	Remain int
	Reset  time.Time
	Window int
}

// RetryClient issues HTTP requests with retry on transient failures. Network
// errors (timeout, refused, reset, unreachable) and 5xx/429/420 statuses are
// retryable; everything else returns immediately.
type RetryClient struct {
	httpClient  *http.Client
	cfg         RetryConfig
	errorLimits ESIErrorLimits
	limitsMu    sync.RWMutex
}

// NewRetryClient wraps httpClient with retry behaviour.
func NewRetryClient(httpClient *http.Client, cfg RetryConfig) *RetryClient {
	return &RetryClient{httpClient: httpClient, cfg: cfg}
}

// ErrorLimits returns the most recently observed upstream error limits.
func (r *RetryClient) ErrorLimits() ESIErrorLimits {
	r.limitsMu.RLock()
	defer r.limitsMu.RUnlock()
	return r.errorLimits
}

// Do executes req with retries. The response body is open on success; on
// exhaustion the last failure is wrapped in ErrUpstreamUnavailable (or
// ErrRateLimited when the final status was 429).
func (r *RetryClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}

		resp, err := r.httpClient.Do(req.Clone(ctx))
		if err != nil {
			if !isRetryableNetErr(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		// 404 does not count against the upstream error limit.
		if resp.StatusCode != http.StatusNotFound {
			r.updateErrorLimits(ctx, resp.Header)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == 429 || resp.StatusCode == 420 {
			resp.Body.Close()
			lastErr = statusError(resp)
			continue
		}

		return resp, nil
	}

	if errors.Is(lastErr, ErrRateLimited) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %d attempts failed: %v", ErrUpstreamUnavailable, r.cfg.MaxAttempts, lastErr)
}

func statusError(resp *http.Response) error {
	if resp.StatusCode == 429 || resp.StatusCode == 420 {
		retryAfter := time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return &HTTPError{StatusCode: resp.StatusCode}
}

// sleep waits the jittered exponential backoff for the given attempt.
func (r *RetryClient) sleep(ctx context.Context, attempt int) error {
	backoff := r.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > r.cfg.MaxBackoff {
		backoff = r.cfg.MaxBackoff
	}
	// Full jitter within [backoff/2, backoff].
	backoff = backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

func isRetryableNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Connection refused, reset, host/network unreachable all arrive as
	// *net.OpError; treat every syscall-level failure as transient.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// updateErrorLimits records the X-ESI-Error-Limit headers and warns when the
// remaining budget runs low.
func (r *RetryClient) updateErrorLimits(ctx context.Context, headers http.Header) {
	r.limitsMu.Lock()
	defer r.limitsMu.Unlock()

	if remainStr := headers.Get("X-ESI-Error-Limit-Remain"); remainStr != "" {
		if remain, err := strconv.Atoi(remainStr); err == nil {
			r.errorLimits.Remain = remain
			if remain <= 50 {
				slog.WarnContext(ctx, "ESI error limit running low",
					"remain", remain,
					"reset", r.errorLimits.Reset.Format(time.RFC3339))
			}
		}
	}
	if resetStr := headers.Get("X-ESI-Error-Limit-Reset"); resetStr != "" {
		if reset, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			r.errorLimits.Reset = time.Now().Add(time.Duration(reset) * time.Second)
		}
	}
	if windowStr := headers.Get("X-ESI-Error-Limit-Window"); windowStr != "" {
		if window, err := strconv.Atoi(windowStr); err == nil {
			r.errorLimits.Window = window
		}
	}
}
