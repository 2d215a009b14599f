// Package handlers implements the per-category event handlers behind the
// stream router. Every handler follows the same skeleton: extract the entity,
// update the cache, then decide whether to notify.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-wanderer/internal/dedup"
	"go-wanderer/internal/notifier"
	"go-wanderer/internal/sse"
	"go-wanderer/internal/tracking"
	"go-wanderer/pkg/config"
	"go-wanderer/pkg/evegateway"
)

// Suppression is the startup window during which add/update notifications are
// muted, so the initial snapshot reconcile does not flood the channel.
type Suppression struct {
	start  time.Time
	window time.Duration
}

// NewSuppression starts the window now.
func NewSuppression(window time.Duration) *Suppression {
	return &Suppression{start: time.Now(), window: window}
}

// Active reports whether the window is still open.
func (s *Suppression) Active() bool {
	return time.Since(s.start) < s.window
}

// Remaining returns the time left in the window, zero once elapsed.
func (s *Suppression) Remaining() time.Duration {
	left := s.window - time.Since(s.start)
	if left < 0 {
		return 0
	}
	return left
}

// LicenseGate is the slice of the license service the handlers need.
type LicenseGate interface {
	NotificationsAllowed(ctx context.Context) bool
	FeatureEnabled(ctx context.Context, feature string) bool
	CountNotification(kind string)
}

// KillInjector accepts map_kill payloads into the killmail pipeline.
type KillInjector interface {
	InjectMapKill(ctx context.Context, payload map[string]any) error
}

// ServerTimeRecorder receives the server_time carried by connected events.
type ServerTimeRecorder interface {
	RecordServerTime(serverTime string)
}

// Service holds the shared collaborators for all entity handlers.
type Service struct {
	registry    *tracking.Registry
	dedup       *dedup.Service
	license     LicenseGate
	dispatcher  *notifier.Dispatcher
	esi         *evegateway.Client
	features    config.Features
	suppression *Suppression

	// Optional collaborators for special events.
	kills      KillInjector
	serverTime ServerTimeRecorder
}

// ServiceConfig wires a handler service.
type ServiceConfig struct {
	Registry    *tracking.Registry
	Dedup       *dedup.Service
	License     LicenseGate
	Dispatcher  *notifier.Dispatcher
	ESI         *evegateway.Client
	Features    config.Features
	Suppression *Suppression
	Kills       KillInjector
	ServerTime  ServerTimeRecorder
}

// NewService creates the handler service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		registry:    cfg.Registry,
		dedup:       cfg.Dedup,
		license:     cfg.License,
		dispatcher:  cfg.Dispatcher,
		esi:         cfg.ESI,
		features:    cfg.Features,
		suppression: cfg.Suppression,
		kills:       cfg.Kills,
		serverTime:  cfg.ServerTime,
	}
}

// HandleSystem processes system-category events.
func (s *Service) HandleSystem(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	if !s.features.SystemTracking {
		return sse.ResultIgnored, nil
	}

	switch ev.Type {
	case sse.TypeAddSystem:
		return s.systemAdded(ctx, ev)
	case sse.TypeDeletedSystem:
		return s.systemRemoved(ctx, ev)
	case sse.TypeSystemMetadataChanged:
		return s.systemUpdated(ctx, ev)
	default:
		return sse.ResultIgnored, nil
	}
}

func (s *Service) systemAdded(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	system, err := extractSystem(ev.Payload)
	if err != nil {
		return sse.ResultOK, fmt.Errorf("extracting system: %w", err)
	}

	res, err := s.registry.AddSystem(system)
	if errors.Is(err, tracking.ErrAlreadyTracked) {
		slog.DebugContext(ctx, "System already tracked", "system_id", system.SolarSystemID)
		return sse.ResultIgnored, nil
	}
	if err != nil {
		return sse.ResultOK, err
	}

	if reason, ok := s.notifyDecision(ctx, res, "system", system.SolarSystemID); !ok {
		slog.DebugContext(ctx, "System notification suppressed",
			"system_id", system.SolarSystemID, "reason", reason)
		return sse.ResultOK, nil
	}

	if err := s.dispatcher.Enqueue(notifier.FormatSystemAdded(system)); err != nil {
		return sse.ResultOK, fmt.Errorf("enqueueing system notification: %w", err)
	}
	s.license.CountNotification("system")
	return sse.ResultOK, nil
}

func (s *Service) systemRemoved(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	id, err := tracking.ExtractSystemID(ev.Payload)
	if err != nil {
		return sse.ResultOK, fmt.Errorf("extracting system id: %w", err)
	}
	// Removal is log-only.
	if s.registry.RemoveSystem(id) {
		slog.InfoContext(ctx, "System removed from map", "system_id", id)
	}
	return sse.ResultOK, nil
}

func (s *Service) systemUpdated(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	system, err := extractSystem(ev.Payload)
	if err != nil {
		return sse.ResultOK, fmt.Errorf("extracting system: %w", err)
	}

	res := s.registry.UpdateSystem(system)
	if !res.Added {
		return sse.ResultOK, nil
	}

	// Absent at update time: treat as an add, same notification rules.
	if reason, ok := s.notifyDecision(ctx, res, "system", system.SolarSystemID); !ok {
		slog.DebugContext(ctx, "System notification suppressed",
			"system_id", system.SolarSystemID, "reason", reason)
		return sse.ResultOK, nil
	}
	if err := s.dispatcher.Enqueue(notifier.FormatSystemAdded(system)); err != nil {
		return sse.ResultOK, err
	}
	s.license.CountNotification("system")
	return sse.ResultOK, nil
}

// HandleCharacter processes character-category events.
func (s *Service) HandleCharacter(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	if !s.features.CharacterTracking {
		return sse.ResultIgnored, nil
	}

	switch ev.Type {
	case sse.TypeCharacterAdded:
		return s.characterAdded(ctx, ev)
	case sse.TypeCharacterRemoved:
		return s.characterRemoved(ctx, ev)
	case sse.TypeCharacterUpdated:
		return s.characterUpdated(ctx, ev)
	default:
		return sse.ResultIgnored, nil
	}
}

func (s *Service) characterAdded(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	char, err := extractCharacter(ev.Payload)
	if err != nil {
		return sse.ResultOK, fmt.Errorf("extracting character: %w", err)
	}

	res, err := s.registry.AddCharacter(char)
	if errors.Is(err, tracking.ErrAlreadyTracked) {
		return sse.ResultIgnored, nil
	}
	if err != nil {
		return sse.ResultOK, err
	}

	if reason, ok := s.notifyDecision(ctx, res, "character", char.EveID); !ok {
		slog.DebugContext(ctx, "Character notification suppressed",
			"eve_id", char.EveID, "reason", reason)
		return sse.ResultOK, nil
	}

	corpName, allianceName := s.resolveAffiliations(ctx, char)
	if err := s.dispatcher.Enqueue(notifier.FormatCharacterAdded(char, corpName, allianceName)); err != nil {
		return sse.ResultOK, fmt.Errorf("enqueueing character notification: %w", err)
	}
	s.license.CountNotification("character")
	return sse.ResultOK, nil
}

func (s *Service) characterRemoved(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	id, err := tracking.ExtractCharacterID(ev.Payload)
	if err != nil {
		return sse.ResultOK, fmt.Errorf("extracting character id: %w", err)
	}
	if s.registry.RemoveCharacter(id) {
		slog.InfoContext(ctx, "Character removed from map", "eve_id", id)
	}
	return sse.ResultOK, nil
}

func (s *Service) characterUpdated(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	char, err := extractCharacter(ev.Payload)
	if err != nil {
		return sse.ResultOK, fmt.Errorf("extracting character: %w", err)
	}

	res := s.registry.UpdateCharacter(char)
	if !res.Added {
		return sse.ResultOK, nil
	}

	if reason, ok := s.notifyDecision(ctx, res, "character", char.EveID); !ok {
		slog.DebugContext(ctx, "Character notification suppressed",
			"eve_id", char.EveID, "reason", reason)
		return sse.ResultOK, nil
	}
	corpName, allianceName := s.resolveAffiliations(ctx, char)
	if err := s.dispatcher.Enqueue(notifier.FormatCharacterAdded(char, corpName, allianceName)); err != nil {
		return sse.ResultOK, err
	}
	s.license.CountNotification("character")
	return sse.ResultOK, nil
}

// HandleRally processes rally-point events.
func (s *Service) HandleRally(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	switch ev.Type {
	case sse.TypeRallyPointAdded:
		return s.rallyAdded(ctx, ev)
	case sse.TypeRallyPointRemoved:
		id, err := tracking.ExtractSystemID(ev.Payload)
		if err == nil {
			slog.InfoContext(ctx, "Rally point removed", "system_id", id)
		}
		return sse.ResultOK, nil
	default:
		return sse.ResultIgnored, nil
	}
}

func (s *Service) rallyAdded(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	id, err := tracking.ExtractSystemID(ev.Payload)
	if err != nil {
		return sse.ResultOK, fmt.Errorf("extracting rally system id: %w", err)
	}

	if !s.features.Notifications || !s.license.NotificationsAllowed(ctx) {
		return sse.ResultIgnored, nil
	}
	if s.dedup.Check("rally", id) == dedup.Duplicate {
		return sse.ResultIgnored, nil
	}

	systemName := stringField(ev.Payload, "solar_system_name")
	if systemName == "" {
		if sys, ok := s.registry.GetSystem(id); ok {
			systemName = sys.DisplayName()
		}
	}
	message := stringField(ev.Payload, "message")

	if err := s.dispatcher.Enqueue(notifier.FormatRally(systemName, message, id)); err != nil {
		return sse.ResultOK, err
	}
	return sse.ResultOK, nil
}

// HandleSpecial processes connected and map_kill control events.
func (s *Service) HandleSpecial(ctx context.Context, ev *sse.Event) (sse.Result, error) {
	switch ev.Type {
	case sse.TypeConnected:
		if s.serverTime != nil {
			s.serverTime.RecordServerTime(stringField(ev.Payload, "server_time"))
		}
		slog.InfoContext(ctx, "Stream handshake complete", "map_id", ev.MapID)
		return sse.ResultOK, nil
	case sse.TypeMapKill:
		if s.kills == nil {
			return sse.ResultIgnored, nil
		}
		if err := s.kills.InjectMapKill(ctx, ev.Payload); err != nil {
			return sse.ResultOK, fmt.Errorf("injecting map kill: %w", err)
		}
		return sse.ResultOK, nil
	default:
		return sse.ResultIgnored, nil
	}
}

// notifyDecision applies the four notification guards in order: startup
// suppression, first-run, dedup, license/feature. Returns the blocking reason
// when any guard fails.
func (s *Service) notifyDecision(ctx context.Context, res tracking.AddResult, kind string, id int64) (string, bool) {
	if s.suppression != nil && s.suppression.Active() {
		return "startup_suppression", false
	}
	if res.WasEmpty {
		return "first_run", false
	}
	if s.dedup.Check(kind, id) == dedup.Duplicate {
		return "duplicate", false
	}
	if !s.features.Notifications {
		return "notifications_disabled", false
	}
	if !s.license.NotificationsAllowed(ctx) || !s.license.FeatureEnabled(ctx, "notifications") {
		return "license", false
	}
	return "", true
}

// resolveAffiliations looks up corp and alliance names, best effort.
func (s *Service) resolveAffiliations(ctx context.Context, char tracking.TrackedCharacter) (string, string) {
	if s.esi == nil {
		return "", ""
	}
	var corpName, allianceName string
	if char.CorporationID != nil {
		if corp, err := s.esi.GetCorporation(ctx, *char.CorporationID); err == nil {
			corpName = corp.Name
		}
	}
	if char.AllianceID != nil {
		if alliance, err := s.esi.GetAlliance(ctx, *char.AllianceID); err == nil {
			allianceName = alliance.Name
		}
	}
	return corpName, allianceName
}

func extractSystem(payload map[string]any) (tracking.TrackedSystem, error) {
	id, err := tracking.ExtractSystemID(payload)
	if err != nil {
		return tracking.TrackedSystem{}, err
	}
	if !tracking.ValidSystemID(id) {
		return tracking.TrackedSystem{}, fmt.Errorf("system id %d out of range", id)
	}
	return tracking.TrackedSystem{
		SolarSystemID: id,
		Name:          stringField(payload, "name"),
		CustomName:    stringField(payload, "custom_name"),
		ClassTitle:    stringField(payload, "class_title"),
		Statics:       stringSlice(payload, "statics"),
		RegionName:    stringField(payload, "region_name"),
	}, nil
}

func extractCharacter(payload map[string]any) (tracking.TrackedCharacter, error) {
	id, err := tracking.ExtractCharacterID(payload)
	if err != nil {
		return tracking.TrackedCharacter{}, err
	}
	if !tracking.ValidCharacterID(id) {
		return tracking.TrackedCharacter{}, fmt.Errorf("character id %d out of range", id)
	}
	char := tracking.TrackedCharacter{
		EveID: id,
		Name:  stringField(payload, "name"),
	}
	if v, ok := int64Field(payload, "corporation_id"); ok {
		char.CorporationID = &v
	}
	if v, ok := int64Field(payload, "alliance_id"); ok {
		char.AllianceID = &v
	}
	if v, ok := int64Field(payload, "ship_type_id"); ok {
		char.ShipTypeID = &v
	}
	if v, ok := payload["online"].(bool); ok {
		char.Online = &v
	}
	return char, nil
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func stringSlice(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func int64Field(payload map[string]any, key string) (int64, bool) {
	switch n := payload[key].(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
