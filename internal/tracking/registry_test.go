package tracking

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-wanderer/pkg/cache"
)

func newRegistry() *Registry {
	return NewRegistry(cache.New())
}

// assertDualIndex checks that the collection, per-entity and presence views
// agree exactly.
func assertDualIndex(t *testing.T, r *Registry) {
	t.Helper()
	for _, s := range r.ListTrackedSystems() {
		assert.True(t, r.IsTrackedSystem(s.SolarSystemID), "presence missing for system %d", s.SolarSystemID)
		got, ok := r.GetSystem(s.SolarSystemID)
		require.True(t, ok, "per-entity record missing for system %d", s.SolarSystemID)
		assert.Equal(t, s, got)
	}
	for _, c := range r.ListTrackedCharacters() {
		assert.True(t, r.IsTrackedCharacter(c.EveID), "presence missing for character %d", c.EveID)
		got, ok := r.GetCharacter(c.EveID)
		require.True(t, ok, "per-entity record missing for character %d", c.EveID)
		assert.Equal(t, c, got)
	}
}

func TestAddSystem(t *testing.T) {
	r := newRegistry()

	res, err := r.AddSystem(TrackedSystem{SolarSystemID: 31000001, Name: "J123456"})
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.True(t, res.WasEmpty)

	res, err = r.AddSystem(TrackedSystem{SolarSystemID: 31000002, Name: "J654321"})
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.False(t, res.WasEmpty)

	assert.Equal(t, 2, r.SystemCount())
	assertDualIndex(t, r)
}

func TestAddSystemIdempotent(t *testing.T) {
	r := newRegistry()

	_, err := r.AddSystem(TrackedSystem{SolarSystemID: 31000001, Name: "J123456"})
	require.NoError(t, err)

	res, err := r.AddSystem(TrackedSystem{SolarSystemID: 31000001, Name: "J123456"})
	assert.ErrorIs(t, err, ErrAlreadyTracked)
	assert.False(t, res.Added)
	assert.Equal(t, 1, r.SystemCount())
	assertDualIndex(t, r)
}

func TestRemoveSystem(t *testing.T) {
	r := newRegistry()
	_, err := r.AddSystem(TrackedSystem{SolarSystemID: 31000001, Name: "J123456"})
	require.NoError(t, err)

	assert.True(t, r.RemoveSystem(31000001))
	assert.False(t, r.IsTrackedSystem(31000001))
	_, ok := r.GetSystem(31000001)
	assert.False(t, ok)
	assert.Equal(t, 0, r.SystemCount())

	// Removing twice is a no-op.
	assert.False(t, r.RemoveSystem(31000001))
	assertDualIndex(t, r)
}

func TestUpdateSystemUpserts(t *testing.T) {
	r := newRegistry()

	res := r.UpdateSystem(TrackedSystem{SolarSystemID: 31000001, Name: "J123456"})
	assert.True(t, res.Added)
	assert.True(t, res.WasEmpty)

	res = r.UpdateSystem(TrackedSystem{SolarSystemID: 31000001, Name: "J123456", CustomName: "Home"})
	assert.False(t, res.Added)

	got, ok := r.GetSystem(31000001)
	require.True(t, ok)
	assert.Equal(t, "Home", got.DisplayName())
	assert.Equal(t, 1, r.SystemCount())
	assertDualIndex(t, r)
}

func TestReplaceSystemsReconciles(t *testing.T) {
	r := newRegistry()
	_, err := r.AddSystem(TrackedSystem{SolarSystemID: 31000001, Name: "J123456"})
	require.NoError(t, err)
	_, err = r.AddSystem(TrackedSystem{SolarSystemID: 31000002, Name: "J654321"})
	require.NoError(t, err)

	r.ReplaceSystems([]TrackedSystem{
		{SolarSystemID: 31000002, Name: "J654321"},
		{SolarSystemID: 31000003, Name: "J111111"},
	})

	assert.Equal(t, 2, r.SystemCount())
	assert.False(t, r.IsTrackedSystem(31000001), "stale system must be cleared")
	assert.True(t, r.IsTrackedSystem(31000002))
	assert.True(t, r.IsTrackedSystem(31000003))
	_, ok := r.GetSystem(31000001)
	assert.False(t, ok, "stale per-entity record must be cleared")
	assertDualIndex(t, r)
}

func TestReplaceSystemsDedupesLastWins(t *testing.T) {
	r := newRegistry()

	r.ReplaceSystems([]TrackedSystem{
		{SolarSystemID: 31000001, Name: "J123456"},
		{SolarSystemID: 31000001, Name: "J123456", CustomName: "Home"},
	})

	require.Equal(t, 1, r.SystemCount())
	got, ok := r.GetSystem(31000001)
	require.True(t, ok)
	assert.Equal(t, "Home", got.CustomName)
}

func TestCharacterLifecycle(t *testing.T) {
	r := newRegistry()

	res, err := r.AddCharacter(TrackedCharacter{EveID: 95000001, Name: "Pilot One"})
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.True(t, res.WasEmpty)

	_, err = r.AddCharacter(TrackedCharacter{EveID: 95000001, Name: "Pilot One"})
	assert.ErrorIs(t, err, ErrAlreadyTracked)

	online := true
	r.UpdateCharacter(TrackedCharacter{EveID: 95000001, Name: "Pilot One", Online: &online})
	got, ok := r.GetCharacter(95000001)
	require.True(t, ok)
	require.NotNil(t, got.Online)
	assert.True(t, *got.Online)

	assert.True(t, r.RemoveCharacter(95000001))
	assert.False(t, r.RemoveCharacter(95000001))
	assert.Equal(t, 0, r.CharacterCount())
	assertDualIndex(t, r)
}

func TestConcurrentMutationsKeepIndexConsistent(t *testing.T) {
	r := newRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := int64(31000000 + n%5)
			if n%2 == 0 {
				r.AddSystem(TrackedSystem{SolarSystemID: id, Name: "J"})
			} else {
				r.UpdateSystem(TrackedSystem{SolarSystemID: id, Name: "J", CustomName: "X"})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, r.SystemCount())
	assertDualIndex(t, r)
}

func TestExtractSystemID(t *testing.T) {
	id, err := ExtractSystemID(map[string]any{"solar_system_id": float64(31000001)})
	require.NoError(t, err)
	assert.Equal(t, int64(31000001), id)

	id, err = ExtractSystemID(map[string]any{"system_id": json.Number("31000002")})
	require.NoError(t, err)
	assert.Equal(t, int64(31000002), id)

	// Agreeing spellings are fine.
	id, err = ExtractSystemID(map[string]any{"solar_system_id": float64(31000003), "id": float64(31000003)})
	require.NoError(t, err)
	assert.Equal(t, int64(31000003), id)
}

func TestExtractSystemIDErrors(t *testing.T) {
	_, err := ExtractSystemID(map[string]any{"name": "J123456"})
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = ExtractSystemID(map[string]any{"solar_system_id": float64(31000001), "id": float64(31000002)})
	assert.ErrorIs(t, err, ErrAmbiguousID)

	_, err = ExtractSystemID(map[string]any{"solar_system_id": 31000001.5})
	assert.Error(t, err)

	_, err = ExtractSystemID(map[string]any{"solar_system_id": "31000001"})
	assert.Error(t, err)
}

func TestExtractCharacterID(t *testing.T) {
	id, err := ExtractCharacterID(map[string]any{"eve_id": float64(95000001)})
	require.NoError(t, err)
	assert.Equal(t, int64(95000001), id)

	id, err = ExtractCharacterID(map[string]any{"character_id": float64(95000002)})
	require.NoError(t, err)
	assert.Equal(t, int64(95000002), id)
}

func TestIDRanges(t *testing.T) {
	assert.True(t, ValidSystemID(30000142))
	assert.True(t, ValidSystemID(31000001))
	assert.False(t, ValidSystemID(95000001))

	assert.True(t, IsWormholeID(31000001))
	assert.False(t, IsWormholeID(30000142))

	assert.True(t, ValidCharacterID(95000001))
	assert.False(t, ValidCharacterID(31000001))
}
