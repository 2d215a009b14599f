// Package license gates notification features behind a periodically
// revalidated license. The state is owned by a single goroutine; accessors
// communicate over a command channel so readers never race the refresher.
package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// State of the gate.
type State int

const (
	StateUnknown State = iota
	StateValid
	StatePartialValid
	StateInvalid
	StateFrozen
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateValid:
		return "valid"
	case StatePartialValid:
		return "partial_valid"
	case StateInvalid:
		return "invalid"
	case StateFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// Validation errors surfaced alongside the (possibly frozen) verdict.
var (
	ErrTimeout     = errors.New("timeout")
	ErrRateLimited = errors.New("rate_limited")
)

const validationDeadline = 3 * time.Second

// devSentinel is the self-reported body used in dev/test with no credentials.
const devSentinel = "dev-mode license"

// Status is the externally visible verdict.
type Status struct {
	State         State     `json:"-"`
	StateName     string    `json:"state"`
	Valid         bool      `json:"valid"`
	BotAssigned   bool      `json:"bot_assigned"`
	Details       string    `json:"details,omitempty"`
	Features      []string  `json:"features,omitempty"`
	Error         string    `json:"error,omitempty"`
	LastValidated time.Time `json:"last_validated,omitempty"`
}

// validateResponse is the license server's response body.
type validateResponse struct {
	Valid       bool     `json:"valid"`
	BotAssigned bool     `json:"bot_assigned"`
	Details     string   `json:"details"`
	Features    []string `json:"features"`
}

// Config for the gate.
type Config struct {
	LicenseKey      string
	BaseURL         string
	APIToken        string
	RefreshInterval time.Duration
	DevMode         bool
}

// Counters tracks notifications sent per kind. They increment atomically and
// survive state transitions.
type Counters struct {
	System    atomic.Int64
	Character atomic.Int64
	Killmail  atomic.Int64
}

// CountersSnapshot is a copy of the per-kind counters.
type CountersSnapshot struct {
	System    int64 `json:"system"`
	Character int64 `json:"character"`
	Killmail  int64 `json:"killmail"`
}

// Service runs the license gate.
type Service struct {
	cfg        Config
	httpClient *http.Client
	commands   chan command
	counters   Counters
	started    atomic.Bool
}

type command struct {
	kind  cmdKind
	reply chan Status
}

type cmdKind int

const (
	cmdGet cmdKind = iota
	cmdRevalidate
)

// NewService creates the gate in the Unknown state.
func NewService(cfg Config) *Service {
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: validationDeadline},
		commands:   make(chan command),
	}
}

// Start launches the owner goroutine: an immediate validation, then periodic
// refreshes until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	status := Status{State: StateUnknown, StateName: StateUnknown.String()}
	status = s.revalidate(ctx, status)

	interval := s.cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status = s.revalidate(ctx, status)
		case cmd := <-s.commands:
			switch cmd.kind {
			case cmdRevalidate:
				status = s.revalidate(ctx, status)
			}
			cmd.reply <- status
		}
	}
}

// Current returns the current verdict. Before Start it reports Unknown.
func (s *Service) Current(ctx context.Context) Status {
	if !s.started.Load() {
		return Status{State: StateUnknown, StateName: StateUnknown.String()}
	}
	reply := make(chan Status, 1)
	select {
	case s.commands <- command{kind: cmdGet, reply: reply}:
		return <-reply
	case <-ctx.Done():
		return Status{State: StateUnknown, StateName: StateUnknown.String(), Error: ctx.Err().Error()}
	}
}

// ForceRevalidate triggers an immediate validation and returns the verdict.
func (s *Service) ForceRevalidate(ctx context.Context) Status {
	if !s.started.Load() {
		return Status{State: StateUnknown, StateName: StateUnknown.String()}
	}
	reply := make(chan Status, 1)
	select {
	case s.commands <- command{kind: cmdRevalidate, reply: reply}:
		return <-reply
	case <-ctx.Done():
		return Status{State: StateUnknown, StateName: StateUnknown.String(), Error: ctx.Err().Error()}
	}
}

// FeatureEnabled reports whether the cached successful response lists the
// feature. An absent feature list disables everything.
func (s *Service) FeatureEnabled(ctx context.Context, feature string) bool {
	status := s.Current(ctx)
	if status.State != StateValid && status.State != StatePartialValid && status.State != StateFrozen {
		return false
	}
	for _, f := range status.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// NotificationsAllowed reports whether the gate permits sending notifications.
func (s *Service) NotificationsAllowed(ctx context.Context) bool {
	st := s.Current(ctx)
	return st.Valid
}

// CountNotification increments the per-kind counter.
func (s *Service) CountNotification(kind string) {
	switch kind {
	case "system":
		s.counters.System.Add(1)
	case "character":
		s.counters.Character.Add(1)
	case "kill", "killmail":
		s.counters.Killmail.Add(1)
	}
}

// CountersSnapshot copies the notification counters.
func (s *Service) CountersSnapshot() CountersSnapshot {
	return CountersSnapshot{
		System:    s.counters.System.Load(),
		Character: s.counters.Character.Load(),
		Killmail:  s.counters.Killmail.Load(),
	}
}

// revalidate performs one validation call and computes the next status.
// Timeouts leave the verdict unchanged; a 429 freezes the previous verdict.
func (s *Service) revalidate(ctx context.Context, prev Status) Status {
	if s.cfg.DevMode && s.cfg.LicenseKey == "" {
		return Status{
			State:         StateValid,
			StateName:     StateValid.String(),
			Valid:         true,
			BotAssigned:   true,
			Details:       devSentinel,
			Features:      []string{"system_tracking", "character_tracking", "notifications"},
			LastValidated: time.Now(),
		}
	}

	resp, err := s.callValidate(ctx)
	switch {
	case errors.Is(err, ErrTimeout):
		// State unchanged, error surfaced.
		prev.Error = ErrTimeout.Error()
		slog.Warn("License validation timed out, keeping previous state", "state", prev.State.String())
		return prev
	case errors.Is(err, ErrRateLimited):
		// Freeze the previous verdict.
		frozen := prev
		frozen.State = StateFrozen
		frozen.StateName = StateFrozen.String()
		frozen.Error = ErrRateLimited.Error()
		slog.Warn("License validation rate limited, freezing previous verdict",
			"valid", frozen.Valid, "bot_assigned", frozen.BotAssigned)
		return frozen
	case err != nil:
		next := Status{
			State:         StateInvalid,
			StateName:     StateInvalid.String(),
			Error:         err.Error(),
			LastValidated: time.Now(),
		}
		slog.Error("License validation failed", "error", err)
		return next
	}

	next := Status{
		Valid:         resp.Valid,
		BotAssigned:   resp.BotAssigned,
		Details:       resp.Details,
		Features:      resp.Features,
		LastValidated: time.Now(),
	}
	switch {
	case resp.Valid && resp.BotAssigned:
		next.State = StateValid
	case resp.Valid:
		next.State = StatePartialValid
	default:
		next.State = StateInvalid
	}
	next.StateName = next.State.String()

	slog.Info("License validated", "state", next.StateName, "features", len(next.Features))
	return next
}

func (s *Service) callValidate(ctx context.Context) (*validateResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, validationDeadline)
	defer cancel()

	body := strings.NewReader(fmt.Sprintf(`{"license_key":%q}`, s.cfg.LicenseKey))
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/api/validate_bot"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("license server returned status %d", resp.StatusCode)
	}

	var vr validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("failed to parse validation response: %w", err)
	}
	return &vr, nil
}
