package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutDelete(t *testing.T) {
	c := New()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New()
	c.Set("short", 1, 10*time.Millisecond)
	c.Set("long", 2, time.Hour)

	_, ok := c.Get("short")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get("short")
	assert.False(t, ok, "expired entry behaves as absent")

	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestPruneRemovesExpired(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("e%d", i), i, time.Millisecond)
	}
	c.Set("keep", "x", time.Hour)

	time.Sleep(5 * time.Millisecond)

	removed := c.Prune()
	assert.Equal(t, 10, removed)
	assert.Equal(t, 1, c.Len())
}

func TestGetAndUpdateStoreAndRemove(t *testing.T) {
	c := New()

	res := c.GetAndUpdate("counter", func(current any, present bool) (UpdateResult, any) {
		assert.False(t, present)
		return UpdateResult{Value: 1, Store: true}, "created"
	})
	assert.Equal(t, "created", res)

	res = c.GetAndUpdate("counter", func(current any, present bool) (UpdateResult, any) {
		require.True(t, present)
		return UpdateResult{Value: current.(int) + 1, Store: true}, current
	})
	assert.Equal(t, 1, res)

	c.GetAndUpdate("counter", func(current any, present bool) (UpdateResult, any) {
		return UpdateResult{Remove: true}, nil
	})
	_, ok := c.Get("counter")
	assert.False(t, ok)
}

func TestGetAndUpdateExpiredIsAbsent(t *testing.T) {
	c := New()
	c.Set("k", "stale", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	c.GetAndUpdate("k", func(current any, present bool) (UpdateResult, any) {
		assert.False(t, present, "expired entry must present as absent")
		assert.Nil(t, current)
		return UpdateResult{}, nil
	})
}

func TestGetAndUpdateSerialisesWriters(t *testing.T) {
	c := New()
	c.Put("n", 0)

	var wg sync.WaitGroup
	const writers = 50
	const perWriter = 20

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				c.GetAndUpdate("n", func(current any, present bool) (UpdateResult, any) {
					return UpdateResult{Value: current.(int) + 1, Store: true}, nil
				})
			}
		}()
	}
	wg.Wait()

	v, ok := c.Get("n")
	require.True(t, ok)
	assert.Equal(t, writers*perWriter, v, "read-modify-write must not lose increments")
}

func TestStats(t *testing.T) {
	c := New()
	c.Put("a", 1)
	c.Get("a")
	c.Get("b")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Writes)
	assert.Equal(t, 1, s.Entries)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "map:system:31000001", MapSystemKey(31000001))
	assert.Equal(t, "tracked:character:95000001", TrackedCharacterKey(95000001))
	assert.Equal(t, "dedup:kill:100", DedupKey("kill", 100))
	assert.Equal(t, "esi:character:42", ESIKey("character", "42"))
}
