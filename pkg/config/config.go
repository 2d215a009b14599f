package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the typed runtime configuration for the notifier. All values are
// sourced from the environment; Load applies defaults and validates required
// fields for the selected environment.
type Config struct {
	Environment string `validate:"required,oneof=dev test prod"`

	// Upstreams
	ESIBaseURL    string `validate:"required,url"`
	ESIUserAgent  string `validate:"required"`
	MapBaseURL    string `validate:"omitempty,url"`
	MapSlug       string
	MapToken      string
	ZKillEndpoint string `validate:"required,url"`
	ZKillQueueID  string

	// Notification egress
	ChatWebhookURL string `validate:"omitempty,url"`
	ChannelIDs     ChannelIDs

	// License
	LicenseKey             string
	LicenseBaseURL         string `validate:"omitempty,url"`
	APIToken               string
	LicenseRefreshInterval time.Duration `validate:"min=0"`

	// Pipeline tuning
	StartupSuppression time.Duration
	DedupTTL           time.Duration `validate:"required"`
	EnrichmentDeadline time.Duration `validate:"required"`
	EnrichmentWorkers  int           `validate:"min=1"`
	DispatchQueueSize  int           `validate:"min=1"`

	// Telemetry collector
	CollectionInterval time.Duration `validate:"required"`
	RetentionPeriod    time.Duration `validate:"required"`
	AggregationWindow  time.Duration `validate:"required"`

	// Feature flags (local gates; the license gate may further restrict)
	Features Features

	// Operator HTTP API
	Host string
	Port string `validate:"required"`
}

// ChannelIDs routes notification kinds to chat channels.
type ChannelIDs struct {
	System    string
	Character string
	Kill      string
	Rally     string
	Status    string
}

// Features holds the locally configured feature toggles.
type Features struct {
	SystemTracking    bool
	CharacterTracking bool
	Notifications     bool
}

// Load builds the configuration from the environment and validates it.
// Required map/webhook settings are only enforced outside dev and test.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:            GetEnv("ENVIRONMENT", "dev"),
		ESIBaseURL:             GetEnv("ESI_BASE_URL", "https://esi.evetech.net"),
		ESIUserAgent:           GetEnv("ESI_USER_AGENT", "go-wanderer/1.0.0 contact@example.com"),
		MapBaseURL:             GetEnv("MAP_BASE_URL", ""),
		MapSlug:                GetEnv("MAP_SLUG", ""),
		MapToken:               GetEnv("MAP_TOKEN", ""),
		ZKillEndpoint:          GetEnv("ZKILL_ENDPOINT", "https://zkillredisq.stream/listen.php"),
		ZKillQueueID:           GetEnv("ZKILL_QUEUE_ID", ""),
		ChatWebhookURL:         GetEnv("CHAT_WEBHOOK_URL", ""),
		LicenseKey:             GetEnv("LICENSE_KEY", ""),
		LicenseBaseURL:         GetEnv("LICENSE_BASE_URL", ""),
		APIToken:               GetEnv("API_TOKEN", ""),
		LicenseRefreshInterval: GetDurationEnv("LICENSE_REFRESH_INTERVAL_MS", time.Hour),
		StartupSuppression:     time.Duration(GetIntEnv("STARTUP_SUPPRESSION_SECONDS", 30)) * time.Second,
		DedupTTL:               time.Duration(GetIntEnv("DEDUP_TTL_SECONDS", 86400)) * time.Second,
		EnrichmentDeadline:     GetDurationEnv("ENRICHMENT_DEADLINE_MS", 30*time.Second),
		EnrichmentWorkers:      GetIntEnv("ENRICHMENT_WORKERS", runtime.NumCPU()),
		DispatchQueueSize:      GetIntEnv("DISPATCH_QUEUE_SIZE", 500),
		CollectionInterval:     GetDurationEnv("COLLECTION_INTERVAL_MS", 30*time.Second),
		RetentionPeriod:        GetDurationEnv("RETENTION_PERIOD_MS", 24*time.Hour),
		AggregationWindow:      GetDurationEnv("AGGREGATION_WINDOW_MS", 5*time.Minute),
		ChannelIDs: ChannelIDs{
			System:    GetEnv("CHANNEL_SYSTEM", ""),
			Character: GetEnv("CHANNEL_CHARACTER", ""),
			Kill:      GetEnv("CHANNEL_KILL", ""),
			Rally:     GetEnv("CHANNEL_RALLY", ""),
			Status:    GetEnv("CHANNEL_STATUS", ""),
		},
		Features: Features{
			SystemTracking:    GetBoolEnv("FEATURE_SYSTEM_TRACKING", true),
			CharacterTracking: GetBoolEnv("FEATURE_CHARACTER_TRACKING", true),
			Notifications:     GetBoolEnv("FEATURE_NOTIFICATIONS", true),
		},
		Host: GetEnv("HOST", "0.0.0.0"),
		Port: GetEnv("PORT", "4000"),
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Environment == "prod" {
		if err := cfg.validateProd(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// validateProd enforces settings that only matter for a live deployment.
func (c *Config) validateProd() error {
	missing := []string{}
	if c.MapBaseURL == "" {
		missing = append(missing, "MAP_BASE_URL")
	}
	if c.MapSlug == "" {
		missing = append(missing, "MAP_SLUG")
	}
	if c.MapToken == "" {
		missing = append(missing, "MAP_TOKEN")
	}
	if c.ChatWebhookURL == "" {
		missing = append(missing, "CHAT_WEBHOOK_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}

// IsDev reports whether the service runs in dev or test mode.
func (c *Config) IsDev() bool {
	return c.Environment == "dev" || c.Environment == "test"
}

// ChannelFor returns the configured channel ID for a notification kind,
// falling back to the status channel when the kind has no mapping.
func (c *ChannelIDs) ChannelFor(kind string) string {
	switch kind {
	case "system":
		return c.System
	case "character":
		return c.Character
	case "kill":
		return c.Kill
	case "rally":
		return c.Rally
	default:
		return c.Status
	}
}
