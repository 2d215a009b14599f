package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeScoreBuckets(t *testing.T) {
	assert.Equal(t, 100.0, timeScore(5))
	assert.Equal(t, 80.0, timeScore(10))
	assert.Equal(t, 80.0, timeScore(49.9))
	assert.Equal(t, 60.0, timeScore(50))
	assert.Equal(t, 40.0, timeScore(100))
	assert.Equal(t, 20.0, timeScore(500))
	assert.Equal(t, 20.0, timeScore(10_000))
}

func TestDedupScoreBuckets(t *testing.T) {
	assert.Equal(t, 100.0, dedupScore(0.5))
	assert.Equal(t, 90.0, dedupScore(1))
	assert.Equal(t, 80.0, dedupScore(5))
	assert.Equal(t, 70.0, dedupScore(10))
	assert.Equal(t, 50.0, dedupScore(20))
	assert.Equal(t, 50.0, dedupScore(99))
}

func TestMemoryScoreBuckets(t *testing.T) {
	assert.Equal(t, 100.0, memoryScore(0.25))
	assert.Equal(t, 80.0, memoryScore(0.5))
	assert.Equal(t, 60.0, memoryScore(1))
	assert.Equal(t, 40.0, memoryScore(2))
	assert.Equal(t, 40.0, memoryScore(16))
}

func TestProcessScoreBuckets(t *testing.T) {
	assert.Equal(t, 100.0, processScore(50))
	assert.Equal(t, 80.0, processScore(100))
	assert.Equal(t, 60.0, processScore(500))
	assert.Equal(t, 40.0, processScore(1000))
}

func TestWeightedScore(t *testing.T) {
	c := NewCollector(Config{}, Sources{})
	s := Sample{
		Connection: ConnectionSample{Count: 1, Healthy: 1},
		Processing: ProcessingSample{Processed: 100, Failed: 0, AvgProcessingMs: 5},
		Dedup:      DedupSample{RatePct: 0.5},
		System:     SystemSample{MemoryBytes: 100 << 20, Goroutines: 50},
	}
	// Every component at full marks.
	assert.Equal(t, 100.0, c.score(s))

	// Degraded processing pulls the score down by its weight.
	s.Processing.AvgProcessingMs = 1000 // time score 20
	s.Processing.Failed = 100           // success rate 50
	// processing = 0.5*50 + 0.5*20 = 35; total = 30 + 0.4*35 + 20 + 10 = 74
	assert.InDelta(t, 74.0, c.score(s), 0.001)
}

func TestCollectBuildsHistory(t *testing.T) {
	processed := int64(0)
	c := NewCollector(Config{}, Sources{
		Processing: func() ProcessingSample {
			processed += 10
			return ProcessingSample{Processed: processed, AvgProcessingMs: 5}
		},
		Dedup: func() DedupSample { return DedupSample{Total: 100, Duplicates: 2, RatePct: 2, Strategy: "cache"} },
	})

	_, ok := c.Latest()
	assert.False(t, ok)

	c.CollectNow()
	c.CollectNow()

	latest, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(20), latest.Processing.Processed)
	assert.Greater(t, latest.Score, 0.0)
	assert.Len(t, c.History(), 2)
}

func TestHistoryCap(t *testing.T) {
	c := NewCollector(Config{}, Sources{})
	for i := 0; i < maxSamples+50; i++ {
		c.CollectNow()
	}
	assert.Len(t, c.History(), maxSamples)
}

func TestSamplingErrorCountedAndLoopContinues(t *testing.T) {
	calls := 0
	c := NewCollector(Config{}, Sources{
		Processing: func() ProcessingSample {
			calls++
			if calls == 1 {
				panic("source blew up")
			}
			return ProcessingSample{Processed: 1}
		},
	})

	c.CollectNow()
	assert.Equal(t, int64(1), c.SampleErrors())
	assert.Len(t, c.History(), 0)

	c.CollectNow()
	assert.Len(t, c.History(), 1)
}

func TestAggregateWindow(t *testing.T) {
	c := NewCollector(Config{AggregationWindow: time.Minute}, Sources{
		Processing: func() ProcessingSample { return ProcessingSample{Processed: 42, AvgProcessingMs: 5} },
	})
	c.CollectNow()
	c.CollectNow()
	c.CollectNow()

	agg := c.Aggregate()
	assert.Equal(t, 3, agg.SampleCount)
	assert.Equal(t, int64(42), agg.Processed)
	assert.Greater(t, agg.AvgScore, 0.0)
	assert.False(t, agg.From.IsZero())
}

func TestScoreRoundedOnceAtReportTime(t *testing.T) {
	c := NewCollector(Config{}, Sources{
		Connection: func() ConnectionSample { return ConnectionSample{Count: 3, Healthy: 2} },
	})
	c.CollectNow()

	latest, ok := c.Latest()
	require.True(t, ok)
	// Reported value carries at most two decimals.
	assert.Equal(t, round2(latest.Score), latest.Score)
}
