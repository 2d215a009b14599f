package killmail

import (
	"log/slog"
	"sync"
	"time"
)

// OverrideState is the validation-override arming state.
type OverrideState int

const (
	OverrideDisabled OverrideState = iota
	OverrideArmedSystem
	OverrideArmedCharacter
)

func (s OverrideState) String() string {
	switch s {
	case OverrideArmedSystem:
		return "armed_system"
	case OverrideArmedCharacter:
		return "armed_character"
	default:
		return "disabled"
	}
}

// overrideTTL bounds how long an armed override stays live.
const overrideTTL = 5 * time.Minute

// Override is the single-shot operator control that forces the next killmail
// through as a system or character notification. It decays to disabled on
// consume or on timeout, whichever comes first.
type Override struct {
	mu      sync.Mutex
	state   OverrideState
	armedAt time.Time
}

// NewOverride starts disabled.
func NewOverride() *Override {
	return &Override{}
}

// ArmSystem arms the system path, replacing any previous arming.
func (o *Override) ArmSystem() {
	o.arm(OverrideArmedSystem)
}

// ArmCharacter arms the character path, replacing any previous arming.
func (o *Override) ArmCharacter() {
	o.arm(OverrideArmedCharacter)
}

func (o *Override) arm(state OverrideState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
	o.armedAt = time.Now()
	slog.Info("Killmail validation override armed", "state", state.String())
}

// Disarm returns to disabled.
func (o *Override) Disarm() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != OverrideDisabled {
		slog.Info("Killmail validation override disarmed")
	}
	o.state = OverrideDisabled
}

// State reports the current state, applying expiry.
func (o *Override) State() OverrideState {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expireLocked()
	return o.state
}

// Consume takes the armed path if live, single shot.
func (o *Override) Consume() ForcedPath {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expireLocked()

	switch o.state {
	case OverrideArmedSystem:
		o.state = OverrideDisabled
		slog.Info("Killmail validation override consumed", "path", "system")
		return ForcedSystem
	case OverrideArmedCharacter:
		o.state = OverrideDisabled
		slog.Info("Killmail validation override consumed", "path", "character")
		return ForcedCharacter
	default:
		return ForcedNone
	}
}

func (o *Override) expireLocked() {
	if o.state != OverrideDisabled && time.Since(o.armedAt) > overrideTTL {
		slog.Info("Killmail validation override expired")
		o.state = OverrideDisabled
	}
}
