package status

import (
	"time"

	"go-wanderer/internal/analytics"
	"go-wanderer/internal/dedup"
	"go-wanderer/internal/killmail"
	"go-wanderer/internal/notifier"
	"go-wanderer/internal/sse"
	"go-wanderer/internal/telemetry"
	"go-wanderer/pkg/cache"
)

// HealthOutput is the liveness response.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse carries the liveness fields.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// StatusOutput is the full service status response.
type StatusOutput struct {
	Body StatusResponse
}

// StatusResponse aggregates component states and the health score.
type StatusResponse struct {
	Environment string    `json:"environment"`
	StartedAt   time.Time `json:"started_at"`

	Score     float64             `json:"score"`
	Telemetry *telemetry.Sample   `json:"telemetry,omitempty"`
	Aggregate telemetry.Aggregate `json:"aggregate"`

	Stream     sse.ConnectionStats      `json:"stream"`
	Router     sse.RouterStats          `json:"router"`
	Feed       killmail.FeedStatus      `json:"feed"`
	Pipeline   killmail.ProcessingStats `json:"pipeline"`
	Dispatcher notifier.Stats           `json:"dispatcher"`
	Dedup      dedup.StatsSnapshot      `json:"dedup"`
	Cache      cache.StatsSnapshot      `json:"cache"`

	License        LicenseStatus `json:"license"`
	TrackedSystems int           `json:"tracked_systems"`
	TrackedChars   int           `json:"tracked_characters"`
	Override       string        `json:"killmail_override"`
}

// LicenseStatus is the operator-facing license view.
type LicenseStatus struct {
	State       string `json:"state"`
	Valid       bool   `json:"valid"`
	BotAssigned bool   `json:"bot_assigned"`
	Error       string `json:"error,omitempty"`
}

// AnalyticsOutput is the analytics response.
type AnalyticsOutput struct {
	Body AnalyticsResponse
}

// AnalyticsResponse carries per-source stats and detected patterns.
type AnalyticsResponse struct {
	Sources  []analytics.SourceStats `json:"sources"`
	Patterns []analytics.Pattern     `json:"patterns,omitempty"`
}

// OverrideInput arms the killmail validation override.
type OverrideInput struct {
	Body struct {
		// Path selects the forced notification path.
		Path string `json:"path" enum:"system,character" doc:"Forced notification path"`
	}
}

// OverrideOutput reports the override state after a change.
type OverrideOutput struct {
	Body OverrideResponse
}

// OverrideResponse carries the override state.
type OverrideResponse struct {
	State string `json:"state"`
}
