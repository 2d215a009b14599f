package sse

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Result is a handler's disposition for one event.
type Result int

const (
	// ResultOK means the handler acted on the event.
	ResultOK Result = iota
	// ResultIgnored means the handler deliberately skipped it.
	ResultIgnored
)

// HandlerFunc processes one validated event. Errors are logged by the router
// and never abort the stream.
type HandlerFunc func(ctx context.Context, ev *Event) (Result, error)

// RouterStats are the router's running counters.
type RouterStats struct {
	Processed   int64     `json:"processed"`
	Failed      int64     `json:"failed"`
	Invalid     int64     `json:"invalid"`
	Ignored     int64     `json:"ignored"`
	Unknown     int64     `json:"unknown"`
	LastEventAt time.Time `json:"last_event_at"`
}

// Router validates, categorises and dispatches stream events in arrival
// order. One router serves one stream; it is not safe for concurrent Dispatch
// calls.
type Router struct {
	system    HandlerFunc
	character HandlerFunc
	rally     HandlerFunc
	special   HandlerFunc

	processed atomic.Int64
	failed    atomic.Int64
	invalid   atomic.Int64
	ignored   atomic.Int64
	unknown   atomic.Int64
	lastEvent atomic.Int64 // unix nanos

	// OnProcessed, when set, observes every routed event. Used to feed
	// analytics.
	OnProcessed func(ev *Event, cat Category, elapsed time.Duration, err error)
}

// RouterConfig binds the per-category handlers.
type RouterConfig struct {
	System    HandlerFunc
	Character HandlerFunc
	Rally     HandlerFunc
	Special   HandlerFunc
}

// NewRouter creates a router. Nil handlers drop their category.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		system:    cfg.System,
		character: cfg.Character,
		rally:     cfg.Rally,
		special:   cfg.Special,
	}
}

// Dispatch runs one raw event through validate, categorise, route and log.
// It never returns an error: malformed events and handler failures are
// recorded and the stream continues.
func (r *Router) Dispatch(ctx context.Context, data []byte) {
	ev, err := ParseEvent(data)
	if err != nil {
		r.invalid.Add(1)
		slog.WarnContext(ctx, "Dropping invalid stream event", "error", err)
		return
	}
	r.lastEvent.Store(time.Now().UnixNano())

	cat := Categorise(ev.Type)
	handler := r.handlerFor(cat)

	switch cat {
	case CategoryUnknown:
		r.unknown.Add(1)
		slog.WarnContext(ctx, "Dropping event of unknown type", "type", ev.Type, "event_id", ev.ID)
		return
	case CategoryReserved:
		r.ignored.Add(1)
		slog.DebugContext(ctx, "Ignoring reserved event type", "type", ev.Type)
		return
	}
	if handler == nil {
		r.ignored.Add(1)
		return
	}

	start := time.Now()
	res, err := handler(ctx, ev)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		r.failed.Add(1)
		slog.ErrorContext(ctx, "Event handler failed",
			"type", ev.Type,
			"event_id", ev.ID,
			"category", cat.String(),
			"error", err)
	case res == ResultIgnored:
		r.ignored.Add(1)
	default:
		r.processed.Add(1)
		slog.DebugContext(ctx, "Event processed",
			"type", ev.Type,
			"event_id", ev.ID,
			"duration_ms", elapsed.Milliseconds())
	}

	if r.OnProcessed != nil {
		r.OnProcessed(ev, cat, elapsed, err)
	}
}

func (r *Router) handlerFor(cat Category) HandlerFunc {
	switch cat {
	case CategorySystem:
		return r.system
	case CategoryCharacter:
		return r.character
	case CategoryRally:
		return r.rally
	case CategorySpecial:
		return r.special
	default:
		return nil
	}
}

// Stats snapshots the counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Processed:   r.processed.Load(),
		Failed:      r.failed.Load(),
		Invalid:     r.invalid.Load(),
		Ignored:     r.ignored.Load(),
		Unknown:     r.unknown.Load(),
		LastEventAt: time.Unix(0, r.lastEvent.Load()),
	}
}
