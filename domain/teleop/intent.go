package teleop

import (
	"fmt"
	"math"
)

// VelocityIntent is the normalized motion command: direction in
// (Forward, Turn), each in [-1, 1] with Euclidean norm <= 1, and a separate
// Speed scale in [0, 1].
type VelocityIntent struct {
	Forward float64 `json:"forward"`
	Turn    float64 `json:"turn"`
	Speed   float64 `json:"speed"`
}

// ZeroIntent is the stop command.
var ZeroIntent = VelocityIntent{}

// Direction returns the magnitude of the (Forward, Turn) vector.
func (v VelocityIntent) Direction() float64 {
	return math.Hypot(v.Forward, v.Turn)
}

// Twist maps the intent onto a differential-drive twist: linear.x and
// angular.z are the direction components scaled by speed.
func (v VelocityIntent) Twist() (linearX, angularZ float64) {
	return v.Forward * v.Speed, v.Turn * v.Speed
}

func (v VelocityIntent) String() string {
	return fmt.Sprintf("x: %.2f | z: %.2f | speed: %.2f", v.Forward, v.Turn, v.Speed)
}

// ButtonState is the manual direction pad.
type ButtonState struct {
	Forward  bool `json:"forward"`
	Backward bool `json:"backward"`
	Left     bool `json:"left"`
	Right    bool `json:"right"`
}

// Gamepad layout used by the fusion and poll activities.
const (
	AxisLateral      = 0
	AxisLongitudinal = 1
	AxisSpeed        = 3
	ButtonStart      = 9
)

// ControllerSample is one raw reading from a physical controller.
type ControllerSample struct {
	Axes    []float64 `json:"axes"`
	Buttons uint32    `json:"buttons"`
}

// Axis returns axis i, or 0 when the controller has no such axis or the
// reading is not a finite number.
func (s ControllerSample) Axis(i int) float64 {
	if i < 0 || i >= len(s.Axes) {
		return 0
	}
	v := s.Axes[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Pressed reports whether button i is held.
func (s ControllerSample) Pressed(i int) bool {
	if i < 0 || i >= 32 {
		return false
	}
	return s.Buttons&(1<<uint(i)) != 0
}

// Controller is either a present controller with a sample or an absent one.
// Call sites go through Get so a disconnect is always handled explicitly.
type Controller struct {
	sample  ControllerSample
	present bool
}

// SomeController wraps a reading from a connected controller. The axes are
// copied so the caller may reuse its buffer.
func SomeController(s ControllerSample) Controller {
	axes := make([]float64, len(s.Axes))
	copy(axes, s.Axes)
	return Controller{sample: ControllerSample{Axes: axes, Buttons: s.Buttons}, present: true}
}

// NoController is the disconnected variant.
func NoController() Controller {
	return Controller{}
}

// Get returns the sample and whether a controller is present.
func (c Controller) Get() (ControllerSample, bool) {
	return c.sample, c.present
}

// ControllerSource is polled by the controller-poll activity. Read must not
// block on I/O; a failed read returns NoController.
type ControllerSource interface {
	Read() Controller
}

// ControllerSourceFunc adapts a function to ControllerSource.
type ControllerSourceFunc func() Controller

func (f ControllerSourceFunc) Read() Controller { return f() }

// FirstPresent polls sources in order and returns the first connected one.
type FirstPresent []ControllerSource

func (p FirstPresent) Read() Controller {
	for _, src := range p {
		if src == nil {
			continue
		}
		if c := src.Read(); c.present {
			return c
		}
	}
	return NoController()
}
