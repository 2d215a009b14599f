// Package status exposes the operator HTTP API: liveness, service status,
// analytics and the killmail validation-override control.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"go-wanderer/internal/analytics"
	"go-wanderer/internal/dedup"
	"go-wanderer/internal/killmail"
	"go-wanderer/internal/license"
	"go-wanderer/internal/notifier"
	"go-wanderer/internal/sse"
	"go-wanderer/internal/telemetry"
	"go-wanderer/internal/tracking"
	"go-wanderer/pkg/cache"
	"go-wanderer/pkg/version"
)

// Routes serves the operator endpoints.
type Routes struct {
	environment string
	startedAt   time.Time

	collector  *telemetry.Collector
	tracker    *analytics.Tracker
	consumer   *sse.Consumer
	router     *sse.Router
	feed       *killmail.FeedConsumer
	pipeline   *killmail.Pipeline
	dispatcher *notifier.Dispatcher
	dedup      *dedup.Service
	store      *cache.Cache
	registry   *tracking.Registry
	license    *license.Service
	override   *killmail.Override
}

// RoutesConfig wires the route collaborators.
type RoutesConfig struct {
	Environment string
	Collector   *telemetry.Collector
	Tracker     *analytics.Tracker
	Consumer    *sse.Consumer
	Router      *sse.Router
	Feed        *killmail.FeedConsumer
	Pipeline    *killmail.Pipeline
	Dispatcher  *notifier.Dispatcher
	Dedup       *dedup.Service
	Store       *cache.Cache
	Registry    *tracking.Registry
	License     *license.Service
	Override    *killmail.Override
}

// NewRoutes creates the operator routes.
func NewRoutes(cfg RoutesConfig) *Routes {
	return &Routes{
		environment: cfg.Environment,
		startedAt:   time.Now(),
		collector:   cfg.Collector,
		tracker:     cfg.Tracker,
		consumer:    cfg.Consumer,
		router:      cfg.Router,
		feed:        cfg.Feed,
		pipeline:    cfg.Pipeline,
		dispatcher:  cfg.Dispatcher,
		dedup:       cfg.Dedup,
		store:       cfg.Store,
		registry:    cfg.Registry,
		license:     cfg.License,
		override:    cfg.Override,
	}
}

// RegisterRoutes registers all operator endpoints.
func (r *Routes) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness check",
		Tags:        []string{"Status"},
	}, r.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Service status",
		Description: "Returns the health score, component states and counters",
		Tags:        []string{"Status"},
	}, r.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getAnalytics",
		Method:      http.MethodGet,
		Path:        "/analytics",
		Summary:     "Event analytics",
		Description: "Returns per-source event statistics and detected patterns",
		Tags:        []string{"Status"},
	}, r.GetAnalytics)

	huma.Register(api, huma.Operation{
		OperationID: "armKillmailOverride",
		Method:      http.MethodPost,
		Path:        "/killmails/override",
		Summary:     "Arm the killmail validation override",
		Description: "Forces the next killmail through as a system or character notification; single shot, expires after 5 minutes",
		Tags:        []string{"Killmails"},
	}, r.ArmOverride)

	huma.Register(api, huma.Operation{
		OperationID: "disarmKillmailOverride",
		Method:      http.MethodDelete,
		Path:        "/killmails/override",
		Summary:     "Disarm the killmail validation override",
		Tags:        []string{"Killmails"},
	}, r.DisarmOverride)
}

// GetHealth implements the liveness endpoint.
func (r *Routes) GetHealth(ctx context.Context, input *struct{}) (*HealthOutput, error) {
	return &HealthOutput{Body: HealthResponse{
		Status:  "ok",
		Version: version.Version,
		Uptime:  time.Since(r.startedAt).Round(time.Second).String(),
	}}, nil
}

// GetStatus implements the status endpoint.
func (r *Routes) GetStatus(ctx context.Context, input *struct{}) (*StatusOutput, error) {
	resp := StatusResponse{
		Environment: r.environment,
		StartedAt:   r.startedAt,
	}

	if latest, ok := r.collector.Latest(); ok {
		resp.Score = latest.Score
		resp.Telemetry = &latest
	}
	resp.Aggregate = r.collector.Aggregate()

	if r.consumer != nil {
		resp.Stream = r.consumer.Stats()
	}
	if r.router != nil {
		resp.Router = r.router.Stats()
	}
	if r.feed != nil {
		resp.Feed = r.feed.Status()
	}
	if r.pipeline != nil {
		resp.Pipeline = r.pipeline.Stats()
	}
	if r.dispatcher != nil {
		resp.Dispatcher = r.dispatcher.Stats()
	}
	resp.Dedup = r.dedup.Stats()
	resp.Cache = r.store.Stats()

	st := r.license.Current(ctx)
	resp.License = LicenseStatus{
		State:       st.StateName,
		Valid:       st.Valid,
		BotAssigned: st.BotAssigned,
		Error:       st.Error,
	}

	resp.TrackedSystems = r.registry.SystemCount()
	resp.TrackedChars = r.registry.CharacterCount()
	resp.Override = r.override.State().String()

	return &StatusOutput{Body: resp}, nil
}

// GetAnalytics implements the analytics endpoint.
func (r *Routes) GetAnalytics(ctx context.Context, input *struct{}) (*AnalyticsOutput, error) {
	return &AnalyticsOutput{Body: AnalyticsResponse{
		Sources:  r.tracker.Stats(),
		Patterns: r.tracker.Patterns(),
	}}, nil
}

// ArmOverride implements the override arm endpoint.
func (r *Routes) ArmOverride(ctx context.Context, input *OverrideInput) (*OverrideOutput, error) {
	switch input.Body.Path {
	case "system":
		r.override.ArmSystem()
	case "character":
		r.override.ArmCharacter()
	default:
		return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("unknown override path %q", input.Body.Path))
	}
	return &OverrideOutput{Body: OverrideResponse{State: r.override.State().String()}}, nil
}

// DisarmOverride implements the override disarm endpoint.
func (r *Routes) DisarmOverride(ctx context.Context, input *struct{}) (*OverrideOutput, error) {
	r.override.Disarm()
	return &OverrideOutput{Body: OverrideResponse{State: r.override.State().String()}}, nil
}

// NewServer builds the operator HTTP server on a chi router.
func NewServer(addr string, routes *Routes) *http.Server {
	mux := chi.NewRouter()
	mux.Use(chimiddleware.Recoverer)
	mux.Use(chimiddleware.RequestID)

	api := humachi.New(mux, huma.DefaultConfig("Wanderer Notifier Operator API", version.Version))
	routes.RegisterRoutes(api)

	slog.Info("Operator API configured", "addr", addr)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
