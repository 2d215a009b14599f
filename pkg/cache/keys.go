package cache

import "fmt"

// Key namespaces. The map:* and tracked:* families form the dual index the
// tracking registry maintains: the collection key holds the full entity list,
// the per-entity key the individual record, and the presence key a boolean
// used for O(1) membership checks.
const (
	KeyMapSystems    = "map:systems"
	KeyMapCharacters = "map:characters"
)

// MapSystemKey is the per-entity key for a tracked system.
func MapSystemKey(systemID int64) string {
	return fmt.Sprintf("map:system:%d", systemID)
}

// MapCharacterKey is the per-entity key for a tracked character.
func MapCharacterKey(eveID int64) string {
	return fmt.Sprintf("map:character:%d", eveID)
}

// TrackedSystemKey is the presence index for a tracked system.
func TrackedSystemKey(systemID int64) string {
	return fmt.Sprintf("tracked:system:%d", systemID)
}

// TrackedCharacterKey is the presence index for a tracked character.
func TrackedCharacterKey(eveID int64) string {
	return fmt.Sprintf("tracked:character:%d", eveID)
}

// DedupKey is the fingerprint key for a (kind, id) observation.
func DedupKey(kind string, id int64) string {
	return fmt.Sprintf("dedup:%s:%d", kind, id)
}

// ESIKey memoises an ESI resource fetch.
func ESIKey(resource string, id string) string {
	return fmt.Sprintf("esi:%s:%s", resource, id)
}
