// Package telemetry samples component health on a fixed interval and scores
// overall service health on a 0-100 scale.
package telemetry

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults for the collector loops.
const (
	DefaultCollectionInterval = 30 * time.Second
	DefaultRetentionPeriod    = 24 * time.Hour
	DefaultAggregationWindow  = 5 * time.Minute

	// maxSamples is the hard cap on retained history.
	maxSamples = 500
)

// Score weights per component.
const (
	weightConnection = 0.3
	weightProcessing = 0.4
	weightDedup      = 0.2
	weightSystem     = 0.1
)

// ConnectionSample is the stream-health contribution.
type ConnectionSample struct {
	Count      int     `json:"count"`
	Healthy    int     `json:"healthy"`
	AvgPingMs  float64 `json:"avg_ping_ms"`
	UptimePct  float64 `json:"uptime_pct"`
	Reconnects int64   `json:"reconnects"`
}

// ProcessingSample is the event-pipeline contribution.
type ProcessingSample struct {
	Processed       int64   `json:"processed"`
	Failed          int64   `json:"failed"`
	SuccessRate     float64 `json:"success_rate"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
	EventsPerSecond float64 `json:"events_per_second"`
	Batches         int64   `json:"batches"`
}

// DedupSample is the deduplication contribution.
type DedupSample struct {
	Total      int64   `json:"total"`
	Duplicates int64   `json:"duplicates"`
	RatePct    float64 `json:"rate_pct"`
	Strategy   string  `json:"strategy"`
}

// SystemSample is the process-resource contribution.
type SystemSample struct {
	MemoryBytes uint64 `json:"memory_bytes"`
	Goroutines  int    `json:"goroutines"`
}

// Sample is one full health observation.
type Sample struct {
	Timestamp  time.Time        `json:"timestamp"`
	Connection ConnectionSample `json:"connection"`
	Processing ProcessingSample `json:"processing"`
	Dedup      DedupSample      `json:"dedup"`
	System     SystemSample     `json:"system"`
	Score      float64          `json:"score"`
}

// Aggregate summarises one aggregation window.
type Aggregate struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	SampleCount int       `json:"sample_count"`
	AvgScore    float64   `json:"avg_score"`
	Processed   int64     `json:"processed"`
	Failed      int64     `json:"failed"`
	Duplicates  int64     `json:"duplicates"`
	AvgMemoryMB float64   `json:"avg_memory_mb"`
}

// Sources supply component samples; nil entries contribute a neutral score.
type Sources struct {
	Connection func() ConnectionSample
	Processing func() ProcessingSample
	Dedup      func() DedupSample
}

// Config tunes the collector.
type Config struct {
	CollectionInterval time.Duration
	RetentionPeriod    time.Duration
	AggregationWindow  time.Duration
}

func (c *Config) applyDefaults() {
	if c.CollectionInterval <= 0 {
		c.CollectionInterval = DefaultCollectionInterval
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = DefaultRetentionPeriod
	}
	if c.AggregationWindow <= 0 {
		c.AggregationWindow = DefaultAggregationWindow
	}
}

// Collector samples the sources on a schedule and retains bounded history.
type Collector struct {
	cfg     Config
	sources Sources
	cron    *cron.Cron

	mu      sync.RWMutex
	history []Sample

	sampleErrors atomic.Int64
}

// NewCollector creates a stopped collector.
func NewCollector(cfg Config, sources Sources) *Collector {
	cfg.applyDefaults()
	return &Collector{
		cfg:     cfg,
		sources: sources,
		cron:    cron.New(),
	}
}

// Start schedules the sampling loop.
func (c *Collector) Start() error {
	spec := fmt.Sprintf("@every %s", c.cfg.CollectionInterval)
	if _, err := c.cron.AddFunc(spec, c.collect); err != nil {
		return fmt.Errorf("scheduling telemetry collection: %w", err)
	}
	c.cron.Start()
	slog.Info("Telemetry collector started", "interval", c.cfg.CollectionInterval.String())
	return nil
}

// Stop halts the schedule and waits for a running sample to finish.
func (c *Collector) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

// collect takes one sample. Failures increment a counter and never stop the
// schedule.
func (c *Collector) collect() {
	defer func() {
		if r := recover(); r != nil {
			c.sampleErrors.Add(1)
			slog.Error("Telemetry sampling panicked", "panic", r)
		}
	}()

	sample := Sample{Timestamp: time.Now()}
	if c.sources.Connection != nil {
		sample.Connection = c.sources.Connection()
	}
	if c.sources.Processing != nil {
		sample.Processing = c.sources.Processing()
	}
	if c.sources.Dedup != nil {
		sample.Dedup = c.sources.Dedup()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	sample.System = SystemSample{
		MemoryBytes: mem.Sys,
		Goroutines:  runtime.NumGoroutine(),
	}

	sample.Score = c.score(sample)
	c.append(sample)
}

func (c *Collector) append(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, s)

	cutoff := time.Now().Add(-c.cfg.RetentionPeriod)
	trimmed := c.history[:0]
	for _, old := range c.history {
		if old.Timestamp.After(cutoff) {
			trimmed = append(trimmed, old)
		}
	}
	c.history = trimmed
	if len(c.history) > maxSamples {
		c.history = c.history[len(c.history)-maxSamples:]
	}
}

// score computes the weighted health score without rounding; rounding happens
// once at report time.
func (c *Collector) score(s Sample) float64 {
	return weightConnection*connectionScore(s.Connection) +
		weightProcessing*processingScore(s.Processing) +
		weightDedup*dedupScore(s.Dedup.RatePct) +
		weightSystem*systemScore(s.System)
}

// connectionScore is the healthy ratio, full marks when nothing is connected
// yet.
func connectionScore(s ConnectionSample) float64 {
	if s.Count == 0 {
		return 100
	}
	return float64(s.Healthy) / float64(s.Count) * 100
}

// processingScore blends delivery success with the latency bucket.
func processingScore(s ProcessingSample) float64 {
	successRate := 100.0
	if total := s.Processed + s.Failed; total > 0 {
		successRate = float64(s.Processed) / float64(total) * 100
	}
	return 0.5*successRate + 0.5*timeScore(s.AvgProcessingMs)
}

func systemScore(s SystemSample) float64 {
	return (memoryScore(float64(s.MemoryBytes)/(1<<30)) + processScore(s.Goroutines)) / 2
}

// timeScore buckets a latency in milliseconds.
func timeScore(ms float64) float64 {
	switch {
	case ms < 10:
		return 100
	case ms < 50:
		return 80
	case ms < 100:
		return 60
	case ms < 500:
		return 40
	default:
		return 20
	}
}

// dedupScore buckets the duplicate rate percentage.
func dedupScore(ratePct float64) float64 {
	switch {
	case ratePct < 1:
		return 100
	case ratePct < 5:
		return 90
	case ratePct < 10:
		return 80
	case ratePct < 20:
		return 70
	default:
		return 50
	}
}

// memoryScore buckets resident memory in GB.
func memoryScore(gb float64) float64 {
	switch {
	case gb < 0.5:
		return 100
	case gb < 1:
		return 80
	case gb < 2:
		return 60
	default:
		return 40
	}
}

// processScore buckets the goroutine count.
func processScore(count int) float64 {
	switch {
	case count < 100:
		return 100
	case count < 500:
		return 80
	case count < 1000:
		return 60
	default:
		return 40
	}
}

// round2 rounds to two decimals, applied once when reporting.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Latest returns the newest sample with its score rounded, ok=false before
// the first sample.
func (c *Collector) Latest() (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return Sample{}, false
	}
	s := c.history[len(c.history)-1]
	s.Score = round2(s.Score)
	return s, true
}

// History returns a copy of the retained samples.
func (c *Collector) History() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sample, len(c.history))
	copy(out, c.history)
	for i := range out {
		out[i].Score = round2(out[i].Score)
	}
	return out
}

// SampleErrors reports how many sampling attempts failed.
func (c *Collector) SampleErrors() int64 {
	return c.sampleErrors.Load()
}

// Aggregate summarises the most recent aggregation window.
func (c *Collector) Aggregate() Aggregate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	from := now.Add(-c.cfg.AggregationWindow)
	agg := Aggregate{From: from, To: now}

	var scoreSum, memSum float64
	for _, s := range c.history {
		if s.Timestamp.Before(from) {
			continue
		}
		agg.SampleCount++
		scoreSum += s.Score
		memSum += float64(s.System.MemoryBytes) / (1 << 20)
		agg.Processed = s.Processing.Processed
		agg.Failed = s.Processing.Failed
		agg.Duplicates = s.Dedup.Duplicates
	}
	if agg.SampleCount > 0 {
		agg.AvgScore = round2(scoreSum / float64(agg.SampleCount))
		agg.AvgMemoryMB = round2(memSum / float64(agg.SampleCount))
	}
	return agg
}

// CollectNow takes an immediate sample, used at startup and in tests.
func (c *Collector) CollectNow() {
	c.collect()
}
