package license

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startService(t *testing.T, cfg Config) (*Service, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := NewService(cfg)
	s.Start(ctx)
	return s, ctx
}

func TestDevModeSelfValidates(t *testing.T) {
	s, ctx := startService(t, Config{DevMode: true, RefreshInterval: time.Hour})

	st := s.Current(ctx)
	assert.Equal(t, StateValid, st.State)
	assert.True(t, st.Valid)
	assert.True(t, st.BotAssigned)
	assert.Equal(t, devSentinel, st.Details)
	assert.True(t, s.FeatureEnabled(ctx, "notifications"))
}

func TestValidBotAssigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/validate_bot", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"valid":true,"bot_assigned":true,"features":["notifications"],"details":"ok"}`))
	}))
	defer srv.Close()

	s, ctx := startService(t, Config{LicenseKey: "k", BaseURL: srv.URL, APIToken: "tok", RefreshInterval: time.Hour})

	st := s.Current(ctx)
	assert.Equal(t, StateValid, st.State)
	assert.True(t, st.Valid)
	assert.True(t, s.NotificationsAllowed(ctx))
	assert.True(t, s.FeatureEnabled(ctx, "notifications"))
	assert.False(t, s.FeatureEnabled(ctx, "missing_feature"))
}

func TestPartialValidWithoutBot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"valid":true,"bot_assigned":false}`))
	}))
	defer srv.Close()

	s, ctx := startService(t, Config{LicenseKey: "k", BaseURL: srv.URL, RefreshInterval: time.Hour})
	st := s.Current(ctx)
	assert.Equal(t, StatePartialValid, st.State)
	assert.False(t, s.FeatureEnabled(ctx, "notifications"), "no features list means feature disabled")
}

func TestInvalidFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"valid":false,"details":"expired"}`))
	}))
	defer srv.Close()

	s, ctx := startService(t, Config{LicenseKey: "k", BaseURL: srv.URL, RefreshInterval: time.Hour})
	st := s.Current(ctx)
	assert.Equal(t, StateInvalid, st.State)
	assert.False(t, s.NotificationsAllowed(ctx))
}

func TestRateLimitedFreezesPreviousVerdict(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"valid":true,"bot_assigned":true,"features":["notifications"]}`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s, ctx := startService(t, Config{LicenseKey: "k", BaseURL: srv.URL, RefreshInterval: time.Hour})

	first := s.Current(ctx)
	require.Equal(t, StateValid, first.State)

	frozen := s.ForceRevalidate(ctx)
	assert.Equal(t, StateFrozen, frozen.State)
	assert.Equal(t, "rate_limited", frozen.Error)
	// Previous verdict retained.
	assert.Equal(t, first.Valid, frozen.Valid)
	assert.Equal(t, first.BotAssigned, frozen.BotAssigned)
	assert.Equal(t, first.Details, frozen.Details)
	// Gating unchanged: still allowed.
	assert.True(t, s.NotificationsAllowed(ctx))
	assert.True(t, s.FeatureEnabled(ctx, "notifications"))
}

func TestCountersSurviveTransitions(t *testing.T) {
	s, ctx := startService(t, Config{DevMode: true, RefreshInterval: time.Hour})

	s.CountNotification("system")
	s.CountNotification("system")
	s.CountNotification("kill")
	s.ForceRevalidate(ctx)

	c := s.CountersSnapshot()
	assert.Equal(t, int64(2), c.System)
	assert.Equal(t, int64(1), c.Killmail)
	assert.Equal(t, int64(0), c.Character)
}

func TestCurrentBeforeStartIsUnknown(t *testing.T) {
	s := NewService(Config{DevMode: true})
	st := s.Current(context.Background())
	assert.Equal(t, StateUnknown, st.State)
}
