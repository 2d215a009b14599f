package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-wanderer/internal/tracking"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []string // channel IDs in send order
	failures int      // fail this many sends before succeeding
	calls    int
}

func (f *fakeSender) Send(ctx context.Context, channelID string, payload WebhookPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("transport error")
	}
	f.sent = append(f.sent, channelID)
	return nil
}

func (f *fakeSender) sentChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeRecorder struct {
	mu       sync.Mutex
	recorded map[string]string
}

func (f *fakeRecorder) RecordFailure(fingerprint, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded == nil {
		f.recorded = make(map[string]string)
	}
	f.recorded[fingerprint] = reason
}

func testChannels() map[Kind]string {
	return map[Kind]string{
		KindSystem:    "ch-system",
		KindCharacter: "ch-character",
		KindKill:      "ch-kill",
		KindRally:     "ch-rally",
		KindStatus:    "ch-status",
	}
}

func TestDispatcherRoutesByKind(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(Config{Sender: sender, Channels: testChannels()})

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	require.NoError(t, d.Enqueue(Notification{Kind: KindSystem}))
	require.NoError(t, d.Enqueue(Notification{Kind: KindKill}))
	require.NoError(t, d.Enqueue(Notification{Kind: KindRally}))

	require.Eventually(t, func() bool { return d.Stats().Sent == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ch-system", "ch-kill", "ch-rally"}, sender.sentChannels())

	cancel()
	d.Wait()
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{failures: 2}
	d := NewDispatcher(Config{Sender: sender, Channels: testChannels()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Enqueue(Notification{Kind: KindSystem}))

	require.Eventually(t, func() bool { return d.Stats().Sent == 1 }, 5*time.Second, 10*time.Millisecond)
	st := d.Stats()
	assert.Equal(t, int64(2), st.Retries)
	assert.Equal(t, int64(0), st.Failed)
}

func TestDispatcherSustainedFailureRecorded(t *testing.T) {
	sender := &fakeSender{failures: 100}
	rec := &fakeRecorder{}
	d := NewDispatcher(Config{Sender: sender, Channels: testChannels(), Failures: rec})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Enqueue(Notification{Kind: KindKill, Fingerprint: "kill:42"}))

	require.Eventually(t, func() bool { return d.Stats().Failed == 1 }, 5*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "delivery_failed", rec.recorded["kill:42"])
}

func TestDispatcherBackpressureRejectsNewest(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(Config{Sender: sender, Channels: testChannels(), QueueSize: 2})
	// Not running: the queue fills.

	require.NoError(t, d.Enqueue(Notification{Kind: KindKill, Fingerprint: "kill:1"}))
	require.NoError(t, d.Enqueue(Notification{Kind: KindKill, Fingerprint: "kill:2"}))

	err := d.Enqueue(Notification{Kind: KindKill, Fingerprint: "kill:3"})
	assert.ErrorIs(t, err, ErrBackpressure)

	st := d.Stats()
	assert.Equal(t, int64(1), st.Backpressure)
	assert.Equal(t, 2, st.QueueDepth)

	// The in-flight entries survive; draining sends exactly the first two.
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	require.Eventually(t, func() bool { return d.Stats().Sent == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	d.Wait()
}

func TestDispatcherUnknownKindFallsBackToStatus(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(Config{Sender: sender, Channels: testChannels()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Enqueue(Notification{Kind: Kind("mystery")}))
	require.Eventually(t, func() bool { return d.Stats().Sent == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ch-status"}, sender.sentChannels())
}

func TestFormatSystemAdded(t *testing.T) {
	n := FormatSystemAdded(tracking.TrackedSystem{
		SolarSystemID: 31000001,
		Name:          "J123456",
		CustomName:    "Home",
		ClassTitle:    "C5",
		Statics:       []string{"H296", "V911"},
	})

	assert.Equal(t, KindSystem, n.Kind)
	assert.Equal(t, "system:31000001", n.Fingerprint)
	require.Len(t, n.Payload.Embeds, 1)
	embed := n.Payload.Embeds[0]
	assert.Equal(t, ColorSystem, embed.Color)
	require.NotEmpty(t, embed.Fields)
	assert.Equal(t, "Home", embed.Fields[0].Value)
}

func TestFormatRallyMentionsHere(t *testing.T) {
	n := FormatRally("J123456", "form up", 31000001)
	assert.Equal(t, KindRally, n.Kind)
	assert.Contains(t, n.Payload.Content, "@here")
}
