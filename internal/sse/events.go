// Package sse consumes the map event stream and routes each event to its
// category handler.
package sse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Event is the stream envelope. All five fields are required and payload must
// be non-empty.
type Event struct {
	ID        string         `json:"id" validate:"required"`
	Type      string         `json:"type" validate:"required"`
	MapID     string         `json:"map_id" validate:"required"`
	Timestamp string         `json:"timestamp" validate:"required"`
	Payload   map[string]any `json:"payload" validate:"required"`
}

// Category partitions event types.
type Category int

const (
	CategoryUnknown Category = iota
	CategorySystem
	CategoryCharacter
	CategoryRally
	CategoryReserved
	CategorySpecial
)

func (c Category) String() string {
	switch c {
	case CategorySystem:
		return "system"
	case CategoryCharacter:
		return "character"
	case CategoryRally:
		return "rally"
	case CategoryReserved:
		return "reserved"
	case CategorySpecial:
		return "special"
	default:
		return "unknown"
	}
}

// Event types observed on the stream.
const (
	TypeAddSystem             = "add_system"
	TypeDeletedSystem         = "deleted_system"
	TypeSystemMetadataChanged = "system_metadata_changed"
	TypeCharacterAdded        = "character_added"
	TypeCharacterRemoved      = "character_removed"
	TypeCharacterUpdated      = "character_updated"
	TypeRallyPointAdded       = "rally_point_added"
	TypeRallyPointRemoved     = "rally_point_removed"
	TypeConnected             = "connected"
	TypeMapKill               = "map_kill"
)

// Categorise is a pure function of the event type.
func Categorise(eventType string) Category {
	switch eventType {
	case TypeAddSystem, TypeDeletedSystem, TypeSystemMetadataChanged:
		return CategorySystem
	case TypeCharacterAdded, TypeCharacterRemoved, TypeCharacterUpdated:
		return CategoryCharacter
	case TypeRallyPointAdded, TypeRallyPointRemoved:
		return CategoryRally
	case "connection_added", "connection_removed", "connection_updated",
		"signature_added", "signature_removed", "signatures_updated",
		"acl_member_added", "acl_member_removed", "acl_member_updated":
		return CategoryReserved
	case TypeConnected, TypeMapKill:
		return CategorySpecial
	default:
		return CategoryUnknown
	}
}

var validate = validator.New()

// ParseEvent decodes and validates one stream event.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate enforces the envelope contract.
func (e *Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid event envelope: %w", err)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("invalid_payload: empty payload for type %q", e.Type)
	}
	if _, err := uuid.Parse(e.MapID); err != nil {
		return fmt.Errorf("invalid map_id %q: %w", e.MapID, err)
	}
	if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", e.Timestamp, err)
	}
	return nil
}

// ParsedTimestamp returns the envelope timestamp; call after Validate.
func (e *Event) ParsedTimestamp() time.Time {
	t, _ := time.Parse(time.RFC3339, e.Timestamp)
	return t
}
