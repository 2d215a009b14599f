// Package tracking maintains the authoritative set of tracked systems and
// characters as a view over the shared cache. Every mutation updates the
// collection, per-entity and presence keys inside a single GetAndUpdate
// on the collection key, so the dual index is repaired before the call
// returns.
package tracking

import (
	"errors"
	"log/slog"

	"go-wanderer/pkg/cache"
)

// ErrAlreadyTracked is the idempotent-add result: the entity was present and
// nothing changed.
var ErrAlreadyTracked = errors.New("already tracked")

// Registry answers membership queries and applies snapshot/delta mutations.
type Registry struct {
	cache *cache.Cache
}

// NewRegistry creates a registry over the shared cache.
func NewRegistry(store *cache.Cache) *Registry {
	return &Registry{cache: store}
}

// IsTrackedSystem is an O(1) presence check.
func (r *Registry) IsTrackedSystem(systemID int64) bool {
	v, ok := r.cache.Get(cache.TrackedSystemKey(systemID))
	if !ok {
		return false
	}
	tracked, isBool := v.(bool)
	return isBool && tracked
}

// IsTrackedCharacter is an O(1) presence check.
func (r *Registry) IsTrackedCharacter(eveID int64) bool {
	v, ok := r.cache.Get(cache.TrackedCharacterKey(eveID))
	if !ok {
		return false
	}
	tracked, isBool := v.(bool)
	return isBool && tracked
}

// ListTrackedSystems returns a copy of the system collection.
func (r *Registry) ListTrackedSystems() []TrackedSystem {
	v, ok := r.cache.Get(cache.KeyMapSystems)
	if !ok {
		return nil
	}
	systems, isList := v.([]TrackedSystem)
	if !isList {
		return nil
	}
	out := make([]TrackedSystem, len(systems))
	copy(out, systems)
	return out
}

// ListTrackedCharacters returns a copy of the character collection.
func (r *Registry) ListTrackedCharacters() []TrackedCharacter {
	v, ok := r.cache.Get(cache.KeyMapCharacters)
	if !ok {
		return nil
	}
	chars, isList := v.([]TrackedCharacter)
	if !isList {
		return nil
	}
	out := make([]TrackedCharacter, len(chars))
	copy(out, chars)
	return out
}

// SystemCount returns the number of tracked systems.
func (r *Registry) SystemCount() int { return len(r.ListTrackedSystems()) }

// CharacterCount returns the number of tracked characters.
func (r *Registry) CharacterCount() int { return len(r.ListTrackedCharacters()) }

// AddResult reports what a mutation did.
type AddResult struct {
	// Added is true when the entity was not present before.
	Added bool
	// WasEmpty is true when the collection was empty at the start of the
	// mutation; handlers use it for the first-run notification guard.
	WasEmpty bool
}

// AddSystem appends a system to the collection and writes the per-entity and
// presence keys. Adding an already-tracked system is a no-op reported via
// ErrAlreadyTracked.
func (r *Registry) AddSystem(system TrackedSystem) (AddResult, error) {
	res := r.cache.GetAndUpdate(cache.KeyMapSystems, func(current any, present bool) (cache.UpdateResult, any) {
		systems, _ := current.([]TrackedSystem)
		result := AddResult{WasEmpty: len(systems) == 0}

		for _, existing := range systems {
			if existing.SolarSystemID == system.SolarSystemID {
				return cache.UpdateResult{}, result
			}
		}

		updated := append(append([]TrackedSystem(nil), systems...), system)
		// Repair the dual index before the collection write is visible.
		r.cache.Put(cache.MapSystemKey(system.SolarSystemID), system)
		r.cache.Put(cache.TrackedSystemKey(system.SolarSystemID), true)

		result.Added = true
		return cache.UpdateResult{Value: updated, Store: true}, result
	}).(AddResult)

	if !res.Added {
		return res, ErrAlreadyTracked
	}
	slog.Debug("System tracked", "system_id", system.SolarSystemID, "name", system.DisplayName())
	return res, nil
}

// RemoveSystem clears all three keys for the system. Removing an untracked
// system is a no-op.
func (r *Registry) RemoveSystem(systemID int64) bool {
	removed := r.cache.GetAndUpdate(cache.KeyMapSystems, func(current any, present bool) (cache.UpdateResult, any) {
		systems, _ := current.([]TrackedSystem)
		kept := make([]TrackedSystem, 0, len(systems))
		found := false
		for _, s := range systems {
			if s.SolarSystemID == systemID {
				found = true
				continue
			}
			kept = append(kept, s)
		}
		if !found {
			return cache.UpdateResult{}, false
		}
		r.cache.Delete(cache.MapSystemKey(systemID))
		r.cache.Delete(cache.TrackedSystemKey(systemID))
		return cache.UpdateResult{Value: kept, Store: true}, true
	}).(bool)

	if removed {
		slog.Debug("System untracked", "system_id", systemID)
	}
	return removed
}

// UpdateSystem upserts by ID with last-writer-wins field semantics. When the
// system is absent the update behaves as an add.
func (r *Registry) UpdateSystem(system TrackedSystem) AddResult {
	return r.cache.GetAndUpdate(cache.KeyMapSystems, func(current any, present bool) (cache.UpdateResult, any) {
		systems, _ := current.([]TrackedSystem)
		result := AddResult{WasEmpty: len(systems) == 0}

		updated := append([]TrackedSystem(nil), systems...)
		found := false
		for i := range updated {
			if updated[i].SolarSystemID == system.SolarSystemID {
				updated[i] = system
				found = true
				break
			}
		}
		if !found {
			updated = append(updated, system)
			result.Added = true
		}

		r.cache.Put(cache.MapSystemKey(system.SolarSystemID), system)
		r.cache.Put(cache.TrackedSystemKey(system.SolarSystemID), true)
		return cache.UpdateResult{Value: updated, Store: true}, result
	}).(AddResult)
}

// GetSystem returns the per-entity record.
func (r *Registry) GetSystem(systemID int64) (TrackedSystem, bool) {
	v, ok := r.cache.Get(cache.MapSystemKey(systemID))
	if !ok {
		return TrackedSystem{}, false
	}
	s, isSystem := v.(TrackedSystem)
	return s, isSystem
}

// AddCharacter mirrors AddSystem for characters.
func (r *Registry) AddCharacter(char TrackedCharacter) (AddResult, error) {
	res := r.cache.GetAndUpdate(cache.KeyMapCharacters, func(current any, present bool) (cache.UpdateResult, any) {
		chars, _ := current.([]TrackedCharacter)
		result := AddResult{WasEmpty: len(chars) == 0}

		for _, existing := range chars {
			if existing.EveID == char.EveID {
				return cache.UpdateResult{}, result
			}
		}

		updated := append(append([]TrackedCharacter(nil), chars...), char)
		r.cache.Put(cache.MapCharacterKey(char.EveID), char)
		r.cache.Put(cache.TrackedCharacterKey(char.EveID), true)

		result.Added = true
		return cache.UpdateResult{Value: updated, Store: true}, result
	}).(AddResult)

	if !res.Added {
		return res, ErrAlreadyTracked
	}
	slog.Debug("Character tracked", "eve_id", char.EveID, "name", char.Name)
	return res, nil
}

// RemoveCharacter mirrors RemoveSystem for characters.
func (r *Registry) RemoveCharacter(eveID int64) bool {
	removed := r.cache.GetAndUpdate(cache.KeyMapCharacters, func(current any, present bool) (cache.UpdateResult, any) {
		chars, _ := current.([]TrackedCharacter)
		kept := make([]TrackedCharacter, 0, len(chars))
		found := false
		for _, c := range chars {
			if c.EveID == eveID {
				found = true
				continue
			}
			kept = append(kept, c)
		}
		if !found {
			return cache.UpdateResult{}, false
		}
		r.cache.Delete(cache.MapCharacterKey(eveID))
		r.cache.Delete(cache.TrackedCharacterKey(eveID))
		return cache.UpdateResult{Value: kept, Store: true}, true
	}).(bool)

	if removed {
		slog.Debug("Character untracked", "eve_id", eveID)
	}
	return removed
}

// UpdateCharacter upserts by ID; absent characters are added.
func (r *Registry) UpdateCharacter(char TrackedCharacter) AddResult {
	return r.cache.GetAndUpdate(cache.KeyMapCharacters, func(current any, present bool) (cache.UpdateResult, any) {
		chars, _ := current.([]TrackedCharacter)
		result := AddResult{WasEmpty: len(chars) == 0}

		updated := append([]TrackedCharacter(nil), chars...)
		found := false
		for i := range updated {
			if updated[i].EveID == char.EveID {
				updated[i] = char
				found = true
				break
			}
		}
		if !found {
			updated = append(updated, char)
			result.Added = true
		}

		r.cache.Put(cache.MapCharacterKey(char.EveID), char)
		r.cache.Put(cache.TrackedCharacterKey(char.EveID), true)
		return cache.UpdateResult{Value: updated, Store: true}, result
	}).(AddResult)
}

// GetCharacter returns the per-entity record.
func (r *Registry) GetCharacter(eveID int64) (TrackedCharacter, bool) {
	v, ok := r.cache.Get(cache.MapCharacterKey(eveID))
	if !ok {
		return TrackedCharacter{}, false
	}
	c, isChar := v.(TrackedCharacter)
	return c, isChar
}

// ReplaceSystems swaps the whole system collection (snapshot reconcile),
// rebuilding per-entity and presence keys and clearing stale ones.
func (r *Registry) ReplaceSystems(systems []TrackedSystem) {
	r.cache.GetAndUpdate(cache.KeyMapSystems, func(current any, present bool) (cache.UpdateResult, any) {
		old, _ := current.([]TrackedSystem)

		next := dedupeSystems(systems)
		nextIDs := make(map[int64]bool, len(next))
		for _, s := range next {
			nextIDs[s.SolarSystemID] = true
			r.cache.Put(cache.MapSystemKey(s.SolarSystemID), s)
			r.cache.Put(cache.TrackedSystemKey(s.SolarSystemID), true)
		}
		for _, s := range old {
			if !nextIDs[s.SolarSystemID] {
				r.cache.Delete(cache.MapSystemKey(s.SolarSystemID))
				r.cache.Delete(cache.TrackedSystemKey(s.SolarSystemID))
			}
		}
		return cache.UpdateResult{Value: next, Store: true}, nil
	})
	slog.Info("System collection replaced", "count", len(systems))
}

// ReplaceCharacters swaps the whole character collection.
func (r *Registry) ReplaceCharacters(chars []TrackedCharacter) {
	r.cache.GetAndUpdate(cache.KeyMapCharacters, func(current any, present bool) (cache.UpdateResult, any) {
		old, _ := current.([]TrackedCharacter)

		next := dedupeCharacters(chars)
		nextIDs := make(map[int64]bool, len(next))
		for _, c := range next {
			nextIDs[c.EveID] = true
			r.cache.Put(cache.MapCharacterKey(c.EveID), c)
			r.cache.Put(cache.TrackedCharacterKey(c.EveID), true)
		}
		for _, c := range old {
			if !nextIDs[c.EveID] {
				r.cache.Delete(cache.MapCharacterKey(c.EveID))
				r.cache.Delete(cache.TrackedCharacterKey(c.EveID))
			}
		}
		return cache.UpdateResult{Value: next, Store: true}, nil
	})
	slog.Info("Character collection replaced", "count", len(chars))
}

// dedupeSystems keeps the last occurrence per ID.
func dedupeSystems(in []TrackedSystem) []TrackedSystem {
	seen := make(map[int64]int, len(in))
	out := make([]TrackedSystem, 0, len(in))
	for _, s := range in {
		if idx, ok := seen[s.SolarSystemID]; ok {
			out[idx] = s
			continue
		}
		seen[s.SolarSystemID] = len(out)
		out = append(out, s)
	}
	return out
}

// dedupeCharacters keeps the last occurrence per ID.
func dedupeCharacters(in []TrackedCharacter) []TrackedCharacter {
	seen := make(map[int64]int, len(in))
	out := make([]TrackedCharacter, 0, len(in))
	for _, c := range in {
		if idx, ok := seen[c.EveID]; ok {
			out[idx] = c
			continue
		}
		seen[c.EveID] = len(out)
		out = append(out, c)
	}
	return out
}
