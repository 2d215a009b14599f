package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-wanderer/internal/dedup"
	"go-wanderer/internal/notifier"
	"go-wanderer/internal/sse"
	"go-wanderer/internal/tracking"
	"go-wanderer/pkg/cache"
	"go-wanderer/pkg/config"
)

type nullSender struct{}

func (nullSender) Send(ctx context.Context, channelID string, payload notifier.WebhookPayload) error {
	return nil
}

type openLicense struct{ counted []string }

func (l *openLicense) NotificationsAllowed(ctx context.Context) bool            { return true }
func (l *openLicense) FeatureEnabled(ctx context.Context, feature string) bool  { return true }
func (l *openLicense) CountNotification(kind string)                            { l.counted = append(l.counted, kind) }

type closedLicense struct{}

func (closedLicense) NotificationsAllowed(ctx context.Context) bool           { return false }
func (closedLicense) FeatureEnabled(ctx context.Context, feature string) bool { return false }
func (closedLicense) CountNotification(kind string)                           {}

type fixture struct {
	store      *cache.Cache
	registry   *tracking.Registry
	dedup      *dedup.Service
	dispatcher *notifier.Dispatcher
	license    *openLicense
	svc        *Service
}

func newFixture(t *testing.T, opts ...func(*ServiceConfig)) *fixture {
	t.Helper()
	store := cache.New()
	registry := tracking.NewRegistry(store)
	dd := dedup.NewService(store, 24*time.Hour)
	dispatcher := notifier.NewDispatcher(notifier.Config{
		Sender:   nullSender{},
		Channels: map[notifier.Kind]string{notifier.KindStatus: "ch"},
	})
	lic := &openLicense{}

	cfg := ServiceConfig{
		Registry:   registry,
		Dedup:      dd,
		License:    lic,
		Dispatcher: dispatcher,
		Features:   config.Features{SystemTracking: true, CharacterTracking: true, Notifications: true},
		// Window already elapsed.
		Suppression: NewSuppression(0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &fixture{
		store:      store,
		registry:   registry,
		dedup:      dd,
		dispatcher: dispatcher,
		license:    lic,
		svc:        NewService(cfg),
	}
}

func systemEvent(eventType string, systemID int64, name string) *sse.Event {
	return &sse.Event{
		ID:        "01HX3Q",
		Type:      eventType,
		MapID:     "7d444840-9dc0-11d1-b245-5ffdce74fad2",
		Timestamp: "2026-08-24T12:00:00Z",
		Payload:   map[string]any{"solar_system_id": float64(systemID), "name": name},
	}
}

func characterEvent(eventType string, eveID int64, name string) *sse.Event {
	ev := systemEvent(eventType, 0, "")
	ev.Type = eventType
	ev.Payload = map[string]any{"eve_id": float64(eveID), "name": name}
	return ev
}

// seed puts one entity in each collection so the first-run guard does not
// trip in the scenario under test.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.registry.AddSystem(tracking.TrackedSystem{SolarSystemID: 30000142, Name: "Jita"})
	require.NoError(t, err)
	_, err = f.registry.AddCharacter(tracking.TrackedCharacter{EveID: 90000001, Name: "Seed Pilot"})
	require.NoError(t, err)
}

func TestAddSystemNotifies(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, err := f.svc.HandleSystem(context.Background(), systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)
	assert.Equal(t, sse.ResultOK, res)

	assert.True(t, f.registry.IsTrackedSystem(31000001))
	got, ok := f.registry.GetSystem(31000001)
	require.True(t, ok)
	assert.Equal(t, "J123456", got.Name)

	assert.Equal(t, int64(1), f.dispatcher.Stats().Enqueued)
	assert.Equal(t, []string{"system"}, f.license.counted)
}

func TestAddSystemDuringSuppressionTracksSilently(t *testing.T) {
	f := newFixture(t, func(cfg *ServiceConfig) {
		cfg.Suppression = NewSuppression(time.Hour)
	})
	f.seed(t)

	_, err := f.svc.HandleSystem(context.Background(), systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)

	assert.True(t, f.registry.IsTrackedSystem(31000001), "entity is cached even while muted")
	assert.Equal(t, int64(0), f.dispatcher.Stats().Enqueued)
}

func TestFirstRunGuardMutesInitialSync(t *testing.T) {
	f := newFixture(t)
	// Collection empty: the first add is assumed to be the initial sync.
	_, err := f.svc.HandleSystem(context.Background(), systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)

	assert.True(t, f.registry.IsTrackedSystem(31000001))
	assert.Equal(t, int64(0), f.dispatcher.Stats().Enqueued)
}

func TestReAddWithinDedupWindowIsSilent(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.svc.HandleSystem(ctx, systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)
	require.Equal(t, int64(1), f.dispatcher.Stats().Enqueued)

	f.registry.RemoveSystem(31000001)

	_, err = f.svc.HandleSystem(ctx, systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)
	assert.True(t, f.registry.IsTrackedSystem(31000001), "re-added entity is tracked")
	assert.Equal(t, int64(1), f.dispatcher.Stats().Enqueued, "no second notification inside the dedup window")
}

func TestAddSystemIdempotentIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.svc.HandleSystem(ctx, systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)

	res, err := f.svc.HandleSystem(ctx, systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)
	assert.Equal(t, sse.ResultIgnored, res)
	assert.Equal(t, 2, f.registry.SystemCount())
}

func TestDeletedSystemIsLogOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.svc.HandleSystem(ctx, systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)
	before := f.dispatcher.Stats().Enqueued

	_, err = f.svc.HandleSystem(ctx, systemEvent(sse.TypeDeletedSystem, 31000001, ""))
	require.NoError(t, err)

	assert.False(t, f.registry.IsTrackedSystem(31000001))
	assert.Equal(t, before, f.dispatcher.Stats().Enqueued, "removal never notifies")
}

func TestMetadataChangeForUnknownSystemActsAsAdd(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	_, err := f.svc.HandleSystem(context.Background(), systemEvent(sse.TypeSystemMetadataChanged, 31000002, "J654321"))
	require.NoError(t, err)

	assert.True(t, f.registry.IsTrackedSystem(31000002))
	assert.Equal(t, int64(1), f.dispatcher.Stats().Enqueued)
}

func TestMetadataChangeForKnownSystemIsSilentUpsert(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.svc.HandleSystem(ctx, systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)
	before := f.dispatcher.Stats().Enqueued

	ev := systemEvent(sse.TypeSystemMetadataChanged, 31000001, "J123456")
	ev.Payload["custom_name"] = "Staging"
	_, err = f.svc.HandleSystem(ctx, ev)
	require.NoError(t, err)

	got, ok := f.registry.GetSystem(31000001)
	require.True(t, ok)
	assert.Equal(t, "Staging", got.DisplayName())
	assert.Equal(t, before, f.dispatcher.Stats().Enqueued)
}

func TestCharacterTrackingDisabled(t *testing.T) {
	f := newFixture(t, func(cfg *ServiceConfig) {
		cfg.Features.CharacterTracking = false
	})

	res, err := f.svc.HandleCharacter(context.Background(), characterEvent(sse.TypeCharacterAdded, 95000001, "Pilot"))
	require.NoError(t, err)
	assert.Equal(t, sse.ResultIgnored, res)
	assert.False(t, f.registry.IsTrackedCharacter(95000001))
}

func TestCharacterAddedNotifies(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, err := f.svc.HandleCharacter(context.Background(), characterEvent(sse.TypeCharacterAdded, 95000001, "Pilot"))
	require.NoError(t, err)
	assert.Equal(t, sse.ResultOK, res)
	assert.True(t, f.registry.IsTrackedCharacter(95000001))
	assert.Equal(t, int64(1), f.dispatcher.Stats().Enqueued)
}

func TestLicenseBlocksNotification(t *testing.T) {
	f := newFixture(t, func(cfg *ServiceConfig) {
		cfg.License = closedLicense{}
	})
	f.seed(t)

	_, err := f.svc.HandleSystem(context.Background(), systemEvent(sse.TypeAddSystem, 31000001, "J123456"))
	require.NoError(t, err)

	assert.True(t, f.registry.IsTrackedSystem(31000001), "tracking is not license gated")
	assert.Equal(t, int64(0), f.dispatcher.Stats().Enqueued)
}

func TestRallyPointNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := systemEvent(sse.TypeRallyPointAdded, 31000001, "")
	ev.Payload["solar_system_name"] = "J123456"
	ev.Payload["message"] = "form up"

	res, err := f.svc.HandleRally(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, sse.ResultOK, res)
	assert.Equal(t, int64(1), f.dispatcher.Stats().Enqueued)

	// Same rally again inside the dedup window is ignored.
	res, err = f.svc.HandleRally(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, sse.ResultIgnored, res)
	assert.Equal(t, int64(1), f.dispatcher.Stats().Enqueued)
}

type timeSink struct{ got string }

func (s *timeSink) RecordServerTime(serverTime string) { s.got = serverTime }

func TestConnectedRecordsServerTime(t *testing.T) {
	sink := &timeSink{}
	f := newFixture(t, func(cfg *ServiceConfig) {
		cfg.ServerTime = sink
	})

	ev := systemEvent(sse.TypeConnected, 0, "")
	ev.Payload = map[string]any{"server_time": "2026-08-24T12:00:00Z"}

	res, err := f.svc.HandleSpecial(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, sse.ResultOK, res)
	assert.Equal(t, "2026-08-24T12:00:00Z", sink.got)
}

type killSink struct{ payloads []map[string]any }

func (k *killSink) InjectMapKill(ctx context.Context, payload map[string]any) error {
	k.payloads = append(k.payloads, payload)
	return nil
}

func TestMapKillInjected(t *testing.T) {
	sink := &killSink{}
	f := newFixture(t, func(cfg *ServiceConfig) {
		cfg.Kills = sink
	})

	ev := systemEvent(sse.TypeMapKill, 0, "")
	ev.Payload = map[string]any{"killmail_id": float64(12345), "hash": "abc"}

	res, err := f.svc.HandleSpecial(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, sse.ResultOK, res)
	require.Len(t, sink.payloads, 1)
}

func TestAmbiguousPayloadRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	ev := systemEvent(sse.TypeAddSystem, 31000001, "J123456")
	ev.Payload["id"] = float64(31000002)

	_, err := f.svc.HandleSystem(context.Background(), ev)
	assert.ErrorIs(t, err, tracking.ErrAmbiguousID)
	assert.False(t, f.registry.IsTrackedSystem(31000001))
}

func TestSuppressionWindow(t *testing.T) {
	s := NewSuppression(50 * time.Millisecond)
	assert.True(t, s.Active())
	assert.Greater(t, s.Remaining(), time.Duration(0))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, s.Active())
	assert.Equal(t, time.Duration(0), s.Remaining())
}
