package evegateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig tunes the token-bucket limiter.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	// PerHost gives each host its own bucket; when false one global bucket
	// covers every request.
	PerHost bool
}

// DefaultRateLimiterConfig matches the ESI-friendly defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RequestsPerSecond: 20, Burst: 40, PerHost: true}
}

// RateLimiter is a token-bucket request limiter, one bucket per host.
type RateLimiter struct {
	cfg     RateLimiterConfig
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	global  *rate.Limiter
}

// NewRateLimiter creates a limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{cfg: cfg}
	if cfg.PerHost {
		rl.buckets = make(map[string]*rate.Limiter)
	} else {
		rl.global = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return rl
}

func (rl *RateLimiter) limiterFor(host string) *rate.Limiter {
	if !rl.cfg.PerHost {
		return rl.global
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.buckets[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)
		rl.buckets[host] = l
	}
	return l
}

// Allow consumes one token for host. On exhaustion it returns a
// RateLimitedError with the wait until the next token.
func (rl *RateLimiter) Allow(host string) error {
	l := rl.limiterFor(host)
	if l.Allow() {
		return nil
	}
	res := l.Reserve()
	wait := res.Delay()
	res.Cancel()
	if wait <= 0 {
		wait = time.Second / time.Duration(rl.cfg.RequestsPerSecond)
	}
	return &RateLimitedError{RetryAfter: wait}
}
