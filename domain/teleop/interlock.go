package teleop

import (
	"fmt"

	"github.com/open-teleop/rover-controller/domain/hazard"
)

// EffectiveMode is the safety-adjusted operating mode.
type EffectiveMode int

const (
	ModeNormal EffectiveMode = iota
	ModeEmergencyStopped
	ModeOverridden
)

func (m EffectiveMode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeEmergencyStopped:
		return "EMERGENCY_STOPPED"
	case ModeOverridden:
		return "OVERRIDDEN"
	default:
		return fmt.Sprintf("EffectiveMode(%d)", int(m))
	}
}

func (m EffectiveMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ResolveMode combines the hazard state with the operator override.
// EMERGENCY without override stops; EMERGENCY with override is OVERRIDDEN.
func ResolveMode(state hazard.SafetyState, override bool) EffectiveMode {
	if state != hazard.Emergency {
		return ModeNormal
	}
	if override {
		return ModeOverridden
	}
	return ModeEmergencyStopped
}

// Gate applies the interlock to a fused intent. An emergency stop always
// yields the exact zero intent whatever the input.
func Gate(intent VelocityIntent, state hazard.SafetyState, override bool) (VelocityIntent, EffectiveMode) {
	mode := ResolveMode(state, override)
	if mode == ModeEmergencyStopped {
		return ZeroIntent, mode
	}
	return intent, mode
}
