package evegateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the per-host circuit breakers.
type BreakerConfig struct {
	// ConsecutiveFailures opens the circuit after this many failures in a row.
	ConsecutiveFailures uint32
	// RecoveryTimeout is how long the circuit stays open before half-open.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig matches the adapter defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailures: 5, RecoveryTimeout: 30 * time.Second}
}

// BreakerSet keeps one circuit breaker per upstream host. Half-open allows a
// single probe; a success closes the circuit, a failure reopens it.
type BreakerSet struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerSet creates an empty breaker set.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *BreakerSet) breakerFor(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        host,
			MaxRequests: 1, // one half-open probe
			Timeout:     b.cfg.RecoveryTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= b.cfg.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("Circuit breaker state change",
					"host", name, "from", from.String(), "to", to.String())
			},
		})
		b.breakers[host] = cb
	}
	return cb
}

// Execute runs fn through host's breaker. While the circuit is open it
// returns a CircuitOpenError without invoking fn, so rejections never count
// as additional failures.
func (b *BreakerSet) Execute(host string, fn func() (any, error)) (any, error) {
	result, err := b.breakerFor(host).Execute(fn)
	if err == gobreaker.ErrOpenState {
		return nil, &CircuitOpenError{Host: host, Reason: "too many consecutive failures"}
	}
	if err == gobreaker.ErrTooManyRequests {
		return nil, &CircuitOpenError{Host: host, Reason: "half-open probe in flight"}
	}
	return result, err
}

// State reports the breaker state for host, defaulting to closed.
func (b *BreakerSet) State(host string) string {
	b.mu.Lock()
	cb, ok := b.breakers[host]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}
