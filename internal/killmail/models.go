// Package killmail runs the feed-to-notification pipeline: normalise, dedup,
// enrich, filter, format, dispatch.
package killmail

import (
	"time"
)

// ZKB is the feed's summary block attached to each killmail reference.
type ZKB struct {
	Hash       string  `json:"hash"`
	TotalValue float64 `json:"totalValue"`
	Points     int64   `json:"points"`
	NPC        bool    `json:"npc"`
	Solo       bool    `json:"solo"`
	Awox       bool    `json:"awox"`
	LocationID int64   `json:"locationID,omitempty"`
}

// Package is one feed envelope: the killmail reference plus its summary.
type Package struct {
	KillmailID int64 `json:"killmail_id"`
	ZKB        ZKB   `json:"zkb"`
}

// FeedResponse is the long-poll response; Package is null when the queue was
// empty for the whole wait.
type FeedResponse struct {
	Package *Package `json:"package"`
}

// Reference is a normalised killmail reference entering the pipeline.
type Reference struct {
	KillmailID int64
	Hash       string
	TotalValue float64
	Points     int64
	NPC        bool
	Solo       bool
	// ReceivedAt is a monotonic receive timestamp.
	ReceivedAt time.Time
	// Forced marks the operator-override path that bypasses the tracking
	// filter.
	Forced ForcedPath
}

// ForcedPath selects the override notification path.
type ForcedPath int

const (
	ForcedNone ForcedPath = iota
	ForcedSystem
	ForcedCharacter
)

// Name is a resolved entity display name.
type Name struct {
	ID   int64
	Name string
}

// Enriched is a killmail with resolved display names, possibly partial.
type Enriched struct {
	Reference Reference

	KillmailTime  time.Time
	SolarSystemID int64
	SystemName    string

	VictimCharacterID  *int64
	VictimName         string
	VictimCorpName     string
	VictimAllianceName string
	VictimShipName     string

	FinalBlowName     string
	FinalBlowShipName string
	AttackerCount     int
	// AttackerCharacterIDs lists every attacker with a character, used by the
	// tracking filter.
	AttackerCharacterIDs []int64

	// Partial is true when some lookups failed inside the deadline; the
	// notification degrades but still goes out.
	Partial bool
}

// Skip reasons recorded against the fingerprint.
const (
	SkipDuplicate       = "duplicate"
	SkipNoTrackedEntity = "no_tracked_entity"
	SkipBackpressure    = "backpressure"
	SkipEnrichFailed    = "enrich_failed"
	SkipLicense         = "license"
)
