package teleop

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// FusionConfig holds the input-fusion tuning.
type FusionConfig struct {
	// Deadzone: any axis with |v| <= Deadzone reads as exactly 0.
	Deadzone float64
	// AxisGain scales controller axes before they are added to the pad.
	AxisGain float64
	// SpeedNudgeStep is the speed change per poll at full axis-3 deflection.
	SpeedNudgeStep float64
}

// DefaultFusionConfig matches the reference gamepad handling.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{Deadzone: 0.2, AxisGain: 1.0, SpeedNudgeStep: 0.05}
}

// Fusion combines the manual pad and an optional controller into one
// VelocityIntent. It has no state and no side effects.
type Fusion struct {
	cfg FusionConfig
}

func NewFusion(cfg FusionConfig) *Fusion {
	return &Fusion{cfg: cfg}
}

func (f *Fusion) Config() FusionConfig { return f.cfg }

// Fuse sums the opposing pad buttons per axis (both held cancel to 0), adds
// the deadzoned controller axes and scales (Forward, Turn) back onto the
// unit circle if the sum leaves it. Speed is the operator slider, clamped.
func (f *Fusion) Fuse(manual ButtonState, speed float64, controller Controller) VelocityIntent {
	forward := boolAxis(manual.Forward) - boolAxis(manual.Backward)
	turn := boolAxis(manual.Left) - boolAxis(manual.Right)

	if sample, ok := controller.Get(); ok {
		// Stick up reads negative on the longitudinal axis.
		forward += -f.cfg.AxisGain * f.deadzone(sample.Axis(AxisLongitudinal))
		turn += f.cfg.AxisGain * f.deadzone(sample.Axis(AxisLateral))
	}

	dir := []float64{forward, turn}
	if norm := floats.Norm(dir, 2); norm > 1 {
		floats.Scale(1/norm, dir)
	}

	return VelocityIntent{
		Forward: clamp(dir[0], -1, 1),
		Turn:    clamp(dir[1], -1, 1),
		Speed:   clampSpeed(speed),
	}
}

// NudgeSpeed moves the slider by the deadzoned speed axis. Without a
// controller the speed is returned unchanged (clamped).
func (f *Fusion) NudgeSpeed(speed float64, controller Controller) float64 {
	sample, ok := controller.Get()
	if !ok {
		return clampSpeed(speed)
	}
	return clampSpeed(speed + f.deadzone(sample.Axis(AxisSpeed))*f.cfg.SpeedNudgeStep)
}

func (f *Fusion) deadzone(v float64) float64 {
	if math.Abs(v) <= f.cfg.Deadzone {
		return 0
	}
	return v
}

func boolAxis(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clampSpeed(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
