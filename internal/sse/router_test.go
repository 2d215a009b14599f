package sse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMapID = "7d444840-9dc0-11d1-b245-5ffdce74fad2"

func validEvent(eventType string) string {
	return fmt.Sprintf(`{"id":"01HX3Q","type":%q,"map_id":%q,"timestamp":"2026-08-24T12:00:00Z","payload":{"solar_system_id":31000001}}`, eventType, testMapID)
}

func TestParseEventValid(t *testing.T) {
	ev, err := ParseEvent([]byte(validEvent(TypeAddSystem)))
	require.NoError(t, err)
	assert.Equal(t, TypeAddSystem, ev.Type)
	assert.Equal(t, testMapID, ev.MapID)
	assert.False(t, ev.ParsedTimestamp().IsZero())
}

func TestParseEventRejections(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing id", `{"type":"add_system","map_id":"` + testMapID + `","timestamp":"2026-08-24T12:00:00Z","payload":{"x":1}}`},
		{"missing type", `{"id":"01HX3Q","map_id":"` + testMapID + `","timestamp":"2026-08-24T12:00:00Z","payload":{"x":1}}`},
		{"empty payload", `{"id":"01HX3Q","type":"add_system","map_id":"` + testMapID + `","timestamp":"2026-08-24T12:00:00Z","payload":{}}`},
		{"bad map_id", `{"id":"01HX3Q","type":"add_system","map_id":"not-a-uuid","timestamp":"2026-08-24T12:00:00Z","payload":{"x":1}}`},
		{"bad timestamp", `{"id":"01HX3Q","type":"add_system","map_id":"` + testMapID + `","timestamp":"yesterday","payload":{"x":1}}`},
		{"not json", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestCategorise(t *testing.T) {
	assert.Equal(t, CategorySystem, Categorise(TypeAddSystem))
	assert.Equal(t, CategorySystem, Categorise(TypeDeletedSystem))
	assert.Equal(t, CategorySystem, Categorise(TypeSystemMetadataChanged))
	assert.Equal(t, CategoryCharacter, Categorise(TypeCharacterAdded))
	assert.Equal(t, CategoryCharacter, Categorise(TypeCharacterRemoved))
	assert.Equal(t, CategoryCharacter, Categorise(TypeCharacterUpdated))
	assert.Equal(t, CategoryRally, Categorise(TypeRallyPointAdded))
	assert.Equal(t, CategoryRally, Categorise(TypeRallyPointRemoved))
	assert.Equal(t, CategoryReserved, Categorise("signature_added"))
	assert.Equal(t, CategoryReserved, Categorise("acl_member_added"))
	assert.Equal(t, CategorySpecial, Categorise(TypeConnected))
	assert.Equal(t, CategorySpecial, Categorise(TypeMapKill))
	assert.Equal(t, CategoryUnknown, Categorise("never_heard_of_it"))
}

func TestRouterRoutesByCategory(t *testing.T) {
	var systems, characters, rallies, specials int
	r := NewRouter(RouterConfig{
		System: func(ctx context.Context, ev *Event) (Result, error) {
			systems++
			return ResultOK, nil
		},
		Character: func(ctx context.Context, ev *Event) (Result, error) {
			characters++
			return ResultOK, nil
		},
		Rally: func(ctx context.Context, ev *Event) (Result, error) {
			rallies++
			return ResultOK, nil
		},
		Special: func(ctx context.Context, ev *Event) (Result, error) {
			specials++
			return ResultOK, nil
		},
	})

	ctx := context.Background()
	r.Dispatch(ctx, []byte(validEvent(TypeAddSystem)))
	r.Dispatch(ctx, []byte(validEvent(TypeCharacterAdded)))
	r.Dispatch(ctx, []byte(validEvent(TypeRallyPointAdded)))
	r.Dispatch(ctx, []byte(validEvent(TypeConnected)))

	assert.Equal(t, 1, systems)
	assert.Equal(t, 1, characters)
	assert.Equal(t, 1, rallies)
	assert.Equal(t, 1, specials)
	assert.Equal(t, int64(4), r.Stats().Processed)
}

func TestRouterHandlerErrorDoesNotAbortStream(t *testing.T) {
	calls := 0
	r := NewRouter(RouterConfig{
		System: func(ctx context.Context, ev *Event) (Result, error) {
			calls++
			if calls == 1 {
				return ResultOK, errors.New("boom")
			}
			return ResultOK, nil
		},
	})

	ctx := context.Background()
	r.Dispatch(ctx, []byte(validEvent(TypeAddSystem)))
	r.Dispatch(ctx, []byte(validEvent(TypeAddSystem)))

	assert.Equal(t, 2, calls, "the event after a failure is processed unconditionally")
	st := r.Stats()
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(1), st.Processed)
}

func TestRouterDropsUnknownAndReserved(t *testing.T) {
	routed := 0
	r := NewRouter(RouterConfig{
		System: func(ctx context.Context, ev *Event) (Result, error) {
			routed++
			return ResultOK, nil
		},
	})

	ctx := context.Background()
	r.Dispatch(ctx, []byte(validEvent("mystery_event")))
	r.Dispatch(ctx, []byte(validEvent("signature_added")))
	r.Dispatch(ctx, []byte(`not even json`))

	assert.Equal(t, 0, routed)
	st := r.Stats()
	assert.Equal(t, int64(1), st.Unknown)
	assert.Equal(t, int64(1), st.Ignored)
	assert.Equal(t, int64(1), st.Invalid)
}

func TestRouterIgnoredResult(t *testing.T) {
	r := NewRouter(RouterConfig{
		System: func(ctx context.Context, ev *Event) (Result, error) {
			return ResultIgnored, nil
		},
	})
	r.Dispatch(context.Background(), []byte(validEvent(TypeAddSystem)))
	st := r.Stats()
	assert.Equal(t, int64(1), st.Ignored)
	assert.Equal(t, int64(0), st.Processed)
}

func TestRouterObserverSeesEveryRoutedEvent(t *testing.T) {
	var observed []string
	r := NewRouter(RouterConfig{
		System: func(ctx context.Context, ev *Event) (Result, error) {
			if ev.Type == TypeDeletedSystem {
				return ResultOK, errors.New("boom")
			}
			return ResultOK, nil
		},
	})
	r.OnProcessed = func(ev *Event, cat Category, elapsed time.Duration, err error) {
		observed = append(observed, fmt.Sprintf("%s/%v", ev.Type, err != nil))
	}

	ctx := context.Background()
	r.Dispatch(ctx, []byte(validEvent(TypeAddSystem)))
	r.Dispatch(ctx, []byte(validEvent(TypeDeletedSystem)))

	assert.Equal(t, []string{"add_system/false", "deleted_system/true"}, observed)
}
