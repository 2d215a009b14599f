package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrAmbiguousID is returned when a payload carries conflicting ID spellings.
var ErrAmbiguousID = errors.New("ambiguous entity id")

// ErrMissingID is returned when no recognised ID key is present.
var ErrMissingID = errors.New("missing entity id")

var systemIDKeys = []string{"solar_system_id", "system_id", "id"}
var characterIDKeys = []string{"eve_id", "character_id", "id"}

// ExtractSystemID normalises the observed key spellings for a system ID.
// Multiple keys are accepted only when they agree.
func ExtractSystemID(payload map[string]any) (int64, error) {
	return extractID(payload, systemIDKeys)
}

// ExtractCharacterID normalises the observed key spellings for a character ID.
func ExtractCharacterID(payload map[string]any) (int64, error) {
	return extractID(payload, characterIDKeys)
}

func extractID(payload map[string]any, keys []string) (int64, error) {
	found := false
	var id int64
	for _, k := range keys {
		raw, ok := payload[k]
		if !ok {
			continue
		}
		v, err := toInt64(raw)
		if err != nil {
			return 0, fmt.Errorf("key %q: %w", k, err)
		}
		if found && v != id {
			return 0, fmt.Errorf("%w: %d vs %d", ErrAmbiguousID, id, v)
		}
		id = v
		found = true
	}
	if !found {
		return 0, ErrMissingID
	}
	return id, nil
}

// toInt64 accepts the numeric shapes JSON decoding produces.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("non-integral id %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}
