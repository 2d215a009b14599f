package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-wanderer/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFirstNewThenDuplicate(t *testing.T) {
	s := NewService(cache.New(), time.Hour)

	assert.Equal(t, New, s.Check(KindKill, 100))
	assert.Equal(t, Duplicate, s.Check(KindKill, 100))
	assert.Equal(t, Duplicate, s.Check(KindKill, 100))

	// Different kind, same id: independent fingerprint.
	assert.Equal(t, New, s.Check(KindSystem, 100))
}

func TestCheckExpiresWithTTL(t *testing.T) {
	s := NewService(cache.New(), 10*time.Millisecond)

	assert.Equal(t, New, s.Check(KindCharacter, 1))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, New, s.Check(KindCharacter, 1), "expired fingerprint is observable again")
}

func TestAtMostOneNewUnderConcurrency(t *testing.T) {
	s := NewService(cache.New(), time.Hour)

	var news atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Check(KindKill, 555) == New {
				news.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), news.Load(), "exactly one caller may observe new")
}

func TestMarkKillStatusAndCheckWithStatus(t *testing.T) {
	s := NewService(cache.New(), time.Hour)

	res, st := s.CheckKillWithStatus(200)
	assert.Equal(t, New, res)
	assert.Nil(t, st)

	s.MarkKillStatus(200, StatusSkipped, "duplicate")

	res, st = s.CheckKillWithStatus(200)
	assert.Equal(t, Duplicate, res)
	require.NotNil(t, st)
	assert.Equal(t, StatusSkipped, st.Status)
	assert.Equal(t, "duplicate", st.Reason)
}

func TestPartialValueIsStillDuplicate(t *testing.T) {
	store := cache.New()
	s := NewService(store, time.Hour)

	// A partially shaped value at the fingerprint key must classify as
	// duplicate, never as new.
	store.Set(cache.DedupKey(KindKill, 300), map[string]any{"weird": true}, time.Hour)

	res, st := s.CheckKillWithStatus(300)
	assert.Equal(t, Duplicate, res)
	assert.Nil(t, st)
	assert.Equal(t, Duplicate, s.Check(KindKill, 300))
}

func TestStats(t *testing.T) {
	s := NewService(cache.New(), time.Hour)
	s.Check(KindKill, 1)
	s.Check(KindKill, 1)
	s.Check(KindKill, 2)
	s.Check(KindKill, 1)

	st := s.Stats()
	assert.Equal(t, int64(4), st.Total)
	assert.Equal(t, int64(2), st.Duplicates)
	assert.InDelta(t, 50.0, st.Rate, 0.001)
}
