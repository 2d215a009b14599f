package evegateway

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the upstream error kinds. Callers branch with errors.Is
// / errors.As; none of these carry response bodies.
var (
	// ErrNotFound is a legitimate negative result (HTTP 404).
	ErrNotFound = errors.New("not found")

	// ErrRateLimited maps HTTP 429 and local token-bucket exhaustion.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamUnavailable is surfaced after retry exhaustion on
	// transient failures (timeouts, connection errors, 5xx).
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// SystemNotFoundError distinguishes a missing solar system from a generic 404
// so callers can report the offending ID.
type SystemNotFoundError struct {
	SystemID int64
}

func (e *SystemNotFoundError) Error() string {
	return fmt.Sprintf("system not found: %d", e.SystemID)
}

func (e *SystemNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// RateLimitedError carries the suggested wait before retrying.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// CircuitOpenError is returned while a host's breaker rejects requests.
// Rejections must not be counted as further breaker failures.
type CircuitOpenError struct {
	Host   string
	Reason string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s: %s", e.Host, e.Reason)
}

// HTTPError is a non-retryable upstream status (4xx other than 404/429).
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d", e.StatusCode)
}
