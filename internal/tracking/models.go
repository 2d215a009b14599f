package tracking

// TrackedSystem is a wormhole/k-space system the operator follows.
// solar_system_id is the identity; duplicate IDs never produce duplicate rows.
type TrackedSystem struct {
	SolarSystemID int64             `json:"solar_system_id"`
	Name          string            `json:"name"`
	CustomName    string            `json:"custom_name,omitempty"`
	ClassTitle    string            `json:"class_title,omitempty"`
	Statics       []string          `json:"statics,omitempty"`
	RegionName    string            `json:"region_name,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// DisplayName prefers the operator-assigned name.
func (s TrackedSystem) DisplayName() string {
	if s.CustomName != "" {
		return s.CustomName
	}
	return s.Name
}

// TrackedCharacter is a map character the operator follows. eve_id is the
// identity.
type TrackedCharacter struct {
	EveID         int64  `json:"eve_id"`
	Name          string `json:"name"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    *int64 `json:"ship_type_id,omitempty"`
	Online        *bool  `json:"online,omitempty"`
}

// ID range boundaries from the game universe.
const (
	MinSolarSystemID = 30_000_000
	MaxSolarSystemID = 40_000_000
	MinWormholeID    = 31_000_000
	MaxWormholeID    = 32_000_000
	MinCharacterID   = 90_000_000
	MaxCharacterID   = 100_000_000_000
)

// ValidSystemID reports whether id falls in the solar-system range.
func ValidSystemID(id int64) bool {
	return id >= MinSolarSystemID && id < MaxSolarSystemID
}

// IsWormholeID reports whether id falls in the wormhole range.
func IsWormholeID(id int64) bool {
	return id >= MinWormholeID && id < MaxWormholeID
}

// ValidCharacterID reports whether id falls in the character range.
func ValidCharacterID(id int64) bool {
	return id >= MinCharacterID && id < MaxCharacterID
}
