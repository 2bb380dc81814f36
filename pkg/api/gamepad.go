package api

import (
	"sync"
	"time"

	"github.com/open-teleop/rover-controller/domain/teleop"
	"github.com/open-teleop/rover-controller/pkg/timeutil"
)

// GamepadFeed is a controller source fed by a browser's Gamepad API over the
// control WebSocket. One session owns the feed at a time; a reading older
// than staleAfter counts as no controller.
type GamepadFeed struct {
	clock      timeutil.Clock
	staleAfter time.Duration

	mu        sync.RWMutex
	owner     string
	sample    teleop.ControllerSample
	updatedAt time.Time
	present   bool
}

var _ teleop.ControllerSource = (*GamepadFeed)(nil)

func NewGamepadFeed(staleAfter time.Duration, clock timeutil.Clock) *GamepadFeed {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &GamepadFeed{clock: clock, staleAfter: staleAfter}
}

// Update stores a reading from session owner. It returns false when
// another session currently owns a fresh feed.
func (f *GamepadFeed) Update(owner string, sample teleop.ControllerSample) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	if f.present && f.owner != owner && !f.staleLocked(now) {
		return false
	}
	f.owner = owner
	f.sample = teleop.ControllerSample{
		Axes:    append([]float64(nil), sample.Axes...),
		Buttons: sample.Buttons,
	}
	f.updatedAt = now
	f.present = true
	return true
}

// Release drops the feed if owner holds it.
func (f *GamepadFeed) Release(owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner == owner {
		f.present = false
		f.owner = ""
		f.sample = teleop.ControllerSample{}
	}
}

// Read implements teleop.ControllerSource.
func (f *GamepadFeed) Read() teleop.Controller {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.present || f.staleLocked(f.clock.Now()) {
		return teleop.NoController()
	}
	return teleop.SomeController(f.sample)
}

func (f *GamepadFeed) staleLocked(now time.Time) bool {
	return f.staleAfter > 0 && now.Sub(f.updatedAt) > f.staleAfter
}
