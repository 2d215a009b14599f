// Package analytics buckets event flow per source, scores data quality and
// detects repeating event patterns.
package analytics

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Defaults for the bucketing scheme.
const (
	DefaultBucketSize = time.Minute
	DefaultWindow     = time.Hour

	// patternWindow is the grouping window for pattern detection.
	patternWindow = 5 * time.Minute
	// patternThreshold is the report threshold in events per minute.
	patternThreshold = 1.0
	// maxLatencySamples bounds the per-source latency ring.
	maxLatencySamples = 100
	// maxPatternEvents bounds each pattern ring.
	maxPatternEvents = 300
)

// SourceStats is the per-source view.
type SourceStats struct {
	Source        string           `json:"source"`
	Total         int64            `json:"total"`
	Successful    int64            `json:"successful"`
	Failed        int64            `json:"failed"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"`
	ErrorTypes    map[string]int64 `json:"error_types,omitempty"`
	LastEventTime time.Time        `json:"last_event_time"`
	UptimePct     float64          `json:"uptime_pct"`
	QualityScore  float64          `json:"quality_score"`
}

// Pattern is one detected repeating pattern.
type Pattern struct {
	Type         string    `json:"type"`
	WindowStart  time.Time `json:"window_start"`
	Count        int       `json:"count"`
	PerMinute    float64   `json:"per_minute"`
	LastObserved time.Time `json:"last_observed"`
}

type bucketKey struct {
	source string
	start  int64 // unix seconds of the bucket start
}

type bucket struct {
	total      int64
	successful int64
	failed     int64
}

type sourceState struct {
	total      int64
	successful int64
	failed     int64
	latencies  []float64 // ms ring, newest at the end
	errorTypes map[string]int64
	lastEvent  time.Time
	firstEvent time.Time
}

type patternKey struct {
	patternType string
	window      int64 // unix seconds of the 5-minute window start
}

// Config tunes the tracker.
type Config struct {
	BucketSize time.Duration
	Window     time.Duration
}

func (c *Config) applyDefaults() {
	if c.BucketSize <= 0 {
		c.BucketSize = DefaultBucketSize
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
}

// Tracker accumulates event analytics. Safe for concurrent use.
type Tracker struct {
	cfg Config

	mu       sync.Mutex
	buckets  map[bucketKey]*bucket
	sources  map[string]*sourceState
	patterns map[patternKey][]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:      cfg,
		buckets:  make(map[bucketKey]*bucket),
		sources:  make(map[string]*sourceState),
		patterns: make(map[patternKey][]time.Time),
	}
}

// CleanupInterval is how often Cleanup should run.
func (t *Tracker) CleanupInterval() time.Duration {
	return t.cfg.Window / 10
}

// RecordEvent ingests one event outcome. errType is empty on success.
func (t *Tracker) RecordEvent(source string, latency time.Duration, errType string) {
	now := time.Now()
	key := bucketKey{source: source, start: now.Truncate(t.cfg.BucketSize).Unix()}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buckets[key]
	if b == nil {
		b = &bucket{}
		t.buckets[key] = b
	}
	st := t.sources[source]
	if st == nil {
		st = &sourceState{errorTypes: make(map[string]int64), firstEvent: now}
		t.sources[source] = st
	}

	b.total++
	st.total++
	st.lastEvent = now
	if errType == "" {
		b.successful++
		st.successful++
	} else {
		b.failed++
		st.failed++
		st.errorTypes[errType]++
	}

	st.latencies = append(st.latencies, float64(latency)/float64(time.Millisecond))
	if len(st.latencies) > maxLatencySamples {
		st.latencies = st.latencies[len(st.latencies)-maxLatencySamples:]
	}
}

// RecordPattern registers one occurrence of a named pattern.
func (t *Tracker) RecordPattern(patternType string) {
	now := time.Now()
	key := patternKey{patternType: patternType, window: now.Truncate(patternWindow).Unix()}

	t.mu.Lock()
	defer t.mu.Unlock()

	ring := append(t.patterns[key], now)
	if len(ring) > maxPatternEvents {
		ring = ring[len(ring)-maxPatternEvents:]
	}
	t.patterns[key] = ring
}

// Patterns returns patterns whose frequency exceeds the report threshold.
func (t *Tracker) Patterns() []Pattern {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Pattern
	for key, ring := range t.patterns {
		if len(ring) == 0 {
			continue
		}
		perMinute := float64(len(ring)) / patternWindow.Minutes()
		if perMinute <= patternThreshold {
			continue
		}
		out = append(out, Pattern{
			Type:         key.patternType,
			WindowStart:  time.Unix(key.window, 0),
			Count:        len(ring),
			PerMinute:    perMinute,
			LastObserved: ring[len(ring)-1],
		})
	}
	return out
}

// Stats returns the per-source views.
func (t *Tracker) Stats() []SourceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SourceStats, 0, len(t.sources))
	for name, st := range t.sources {
		s := SourceStats{
			Source:        name,
			Total:         st.total,
			Successful:    st.successful,
			Failed:        st.failed,
			LastEventTime: st.lastEvent,
		}
		if len(st.errorTypes) > 0 {
			s.ErrorTypes = make(map[string]int64, len(st.errorTypes))
			for k, v := range st.errorTypes {
				s.ErrorTypes[k] = v
			}
		}
		if len(st.latencies) > 0 {
			var sum float64
			for _, l := range st.latencies {
				sum += l
			}
			s.AvgLatencyMs = sum / float64(len(st.latencies))
		}
		s.UptimePct = t.uptimeLocked(name, st)
		s.QualityScore = t.qualityLocked(name, st, s.AvgLatencyMs)
		out = append(out, s)
	}
	return out
}

// uptimeLocked is the share of buckets since the first event that saw at
// least one event from the source.
func (t *Tracker) uptimeLocked(source string, st *sourceState) float64 {
	if st.firstEvent.IsZero() {
		return 0
	}
	elapsed := time.Since(st.firstEvent)
	expected := int(elapsed/t.cfg.BucketSize) + 1
	if expected <= 0 {
		return 100
	}
	active := 0
	for key, b := range t.buckets {
		if key.source == source && b.total > 0 {
			active++
		}
	}
	pct := float64(active) / float64(expected) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// qualityLocked blends completeness, timeliness, accuracy and consistency
// into one 0-100 score.
func (t *Tracker) qualityLocked(source string, st *sourceState, avgLatencyMs float64) float64 {
	if st.total == 0 {
		return 0
	}

	completeness := float64(st.successful) / float64(st.total) * 100
	timeliness := latencyScore(avgLatencyMs)

	errorRate := float64(st.failed) / float64(st.total) * 100
	accuracy := 100 - errorRate
	if accuracy < 0 {
		accuracy = 0
	}

	consistency := t.consistencyLocked(source)

	return 0.3*completeness + 0.3*timeliness + 0.2*accuracy + 0.2*consistency
}

// consistencyLocked penalises bursty sources: 100 minus the coefficient of
// variation of per-bucket event counts, floored at zero.
func (t *Tracker) consistencyLocked(source string) float64 {
	var counts []float64
	for key, b := range t.buckets {
		if key.source == source {
			counts = append(counts, float64(b.total))
		}
	}
	if len(counts) < 2 {
		return 100
	}

	var sum float64
	for _, c := range counts {
		sum += c
	}
	mean := sum / float64(len(counts))
	if mean == 0 {
		return 100
	}
	var variance float64
	for _, c := range counts {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(counts))
	cv := math.Sqrt(variance) / mean

	score := 100 - cv*100
	if score < 0 {
		score = 0
	}
	return score
}

func latencyScore(ms float64) float64 {
	switch {
	case ms < 100:
		return 100
	case ms < 500:
		return 80
	case ms < 1000:
		return 60
	default:
		return 40
	}
}

// Cleanup prunes buckets and pattern rings older than the window.
func (t *Tracker) Cleanup() {
	cutoff := time.Now().Add(-t.cfg.Window).Unix()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key := range t.buckets {
		if key.start < cutoff {
			delete(t.buckets, key)
			removed++
		}
	}
	for key := range t.patterns {
		if key.window < cutoff {
			delete(t.patterns, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Analytics cleanup", "removed", removed)
	}
}
