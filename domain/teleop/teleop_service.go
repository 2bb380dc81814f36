package teleop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/open-teleop/rover-controller/domain/hazard"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/timeutil"
)

var ErrInvalidSettings = errors.New("invalid teleop settings")

// Settings are the tunables the service reads on every tick.
type Settings struct {
	Fusion           FusionConfig
	ChangeEpsilon    float64
	DispatchHz       float64
	ControllerPollHz float64
	// StaleAfter only affects the Stale flag in Status; the distance is
	// kept regardless of age.
	StaleAfter time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Fusion:           DefaultFusionConfig(),
		ChangeEpsilon:    0.01,
		DispatchHz:       20,
		ControllerPollHz: 2,
		StaleAfter:       2 * time.Second,
	}
}

func (s Settings) Validate() error {
	switch {
	case math.IsNaN(s.ChangeEpsilon) || s.ChangeEpsilon <= 0:
		return fmt.Errorf("%w: change epsilon %v must be > 0", ErrInvalidSettings, s.ChangeEpsilon)
	case math.IsNaN(s.Fusion.Deadzone) || s.Fusion.Deadzone < 0 || s.Fusion.Deadzone >= 1:
		return fmt.Errorf("%w: deadzone %v must be in [0,1)", ErrInvalidSettings, s.Fusion.Deadzone)
	case math.IsNaN(s.Fusion.AxisGain) || math.IsInf(s.Fusion.AxisGain, 0):
		return fmt.Errorf("%w: axis gain %v must be finite", ErrInvalidSettings, s.Fusion.AxisGain)
	case s.DispatchHz <= 0 || s.ControllerPollHz <= 0:
		return fmt.Errorf("%w: loop rates must be > 0 (dispatch %v Hz, poll %v Hz)", ErrInvalidSettings, s.DispatchHz, s.ControllerPollHz)
	}
	return nil
}

// Config wires a TeleopService. Monitor is required; a nil Sink, Alerts or
// Controller degrades to no transport, no alerts or manual-only input.
type Config struct {
	Monitor    *hazard.Monitor
	Sink       CommandSink
	Alerts     AlertSink
	Controller ControllerSource
	Clock      timeutil.Clock
	Logger     customlog.Logger
	Settings   Settings
}

// Status is a presentation snapshot of the arbiter.
type Status struct {
	Mode                EffectiveMode   `json:"mode"`
	Hazard              hazard.Snapshot `json:"hazard"`
	HazardAgeMs         int64           `json:"hazard_age_ms"`
	Stale               bool            `json:"stale"`
	Intent              VelocityIntent  `json:"intent"`
	Buttons             ButtonState     `json:"buttons"`
	Speed               float64         `json:"speed"`
	ControllerConnected bool            `json:"controller_connected"`
	TransportConnected  bool            `json:"transport_connected"`
	LastDispatch        DispatchState   `json:"last_dispatch"`
}

// TeleopService arbitrates operator input against the hazard interlock.
//
// Three activities share it: transport goroutines push hazard samples
// through HandleHazardSample, the poll loop refreshes the controller
// reading and the dispatch loop fuses, gates and sends. Operator setters
// may be called from any goroutine.
type TeleopService struct {
	monitor    *hazard.Monitor
	sink       CommandSink
	alerts     AlertSink
	controller ControllerSource
	clock      timeutil.Clock
	logger     customlog.Logger

	inputMu   sync.Mutex
	buttons   ButtonState
	speed     float64
	reading   Controller
	connected bool
	startHeld bool
	fusion    *Fusion
	epsilon   float64
	settings  Settings

	// tickMu serializes DispatchOnce; the dispatcher itself is unsynchronized.
	tickMu     sync.Mutex
	dispatcher *Dispatcher

	statusMu     sync.RWMutex
	intent       VelocityIntent
	lastMode     EffectiveMode
	lastDispatch DispatchState

	hazardSamples     metric.Int64Counter
	hazardTransitions metric.Int64Counter
}

func NewTeleopService(cfg Config) (*TeleopService, error) {
	if cfg.Monitor == nil {
		return nil, errors.New("teleop service requires a hazard monitor")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = customlog.NewNopLogger()
	}

	d, err := NewDispatcher(cfg.Sink, cfg.Settings.ChangeEpsilon, cfg.Clock, cfg.Logger.WithField("component", "dispatcher"))
	if err != nil {
		return nil, err
	}

	samples, err := meter().Int64Counter(
		"rover.hazard.samples",
		metric.WithDescription("Hazard samples received, by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating hazard sample counter: %w", err)
	}
	transitions, err := meter().Int64Counter(
		"rover.hazard.transitions",
		metric.WithDescription("Safety state changes, by new state"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating hazard transition counter: %w", err)
	}

	return &TeleopService{
		monitor:           cfg.Monitor,
		sink:              cfg.Sink,
		alerts:            cfg.Alerts,
		controller:        cfg.Controller,
		clock:             cfg.Clock,
		logger:            cfg.Logger,
		reading:           NoController(),
		fusion:            NewFusion(cfg.Settings.Fusion),
		epsilon:           cfg.Settings.ChangeEpsilon,
		settings:          cfg.Settings,
		dispatcher:        d,
		lastMode:          ResolveMode(cfg.Monitor.State(), cfg.Monitor.Override()),
		hazardSamples:     samples,
		hazardTransitions: transitions,
	}, nil
}

// Run drives the controller-poll and dispatch loops until ctx is done.
func (s *TeleopService) Run(ctx context.Context) error {
	s.inputMu.Lock()
	pollPeriod := timeutil.HzToPeriod(s.settings.ControllerPollHz)
	dispatchPeriod := timeutil.HzToPeriod(s.settings.DispatchHz)
	s.inputMu.Unlock()

	s.logger.Infof("Teleop arbiter running: dispatch every %v, controller poll every %v", dispatchPeriod, pollPeriod)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, pollPeriod, s.PollOnce)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, dispatchPeriod, func() { s.DispatchOnce() })
	}()
	wg.Wait()

	s.logger.Infof("Teleop arbiter stopped")
	return nil
}

func (s *TeleopService) loop(ctx context.Context, period time.Duration, tick func()) {
	ticker := s.clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			tick()
		}
	}
}

// PollOnce reads the controller once. A missing controller leaves fusion
// on manual input only.
func (s *TeleopService) PollOnce() {
	reading := NoController()
	if s.controller != nil {
		reading = s.controller.Read()
	}
	sample, present := reading.Get()

	s.inputMu.Lock()
	wasConnected := s.connected
	s.reading = reading
	s.connected = present
	start := present && sample.Pressed(ButtonStart)
	startEdge := start && !s.startHeld
	s.startHeld = start
	if present {
		s.speed = s.fusion.NudgeSpeed(s.speed, reading)
	}
	if start {
		s.buttons = ButtonState{}
		s.speed = 0
	}
	s.inputMu.Unlock()

	switch {
	case present && !wasConnected:
		s.logger.Infof("Controller connected (%d axes)", len(sample.Axes))
	case !present && wasConnected:
		s.logger.Warnf("Controller disconnected, continuing with manual input only")
	}
	if startEdge {
		s.logger.Infof("Operator stop from controller START button")
	}
}

// DispatchOnce runs one dispatch tick: fuse, then gate, then change-gate
// and send. It reports whether a command was sent.
func (s *TeleopService) DispatchOnce() bool {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.inputMu.Lock()
	buttons, speed, reading := s.buttons, s.speed, s.reading
	fusion, epsilon := s.fusion, s.epsilon
	s.inputMu.Unlock()

	if epsilon != s.dispatcher.Epsilon() {
		if err := s.dispatcher.SetEpsilon(epsilon); err != nil {
			s.logger.Errorf("Keeping change epsilon %v: %v", s.dispatcher.Epsilon(), err)
		}
	}

	intent := fusion.Fuse(buttons, speed, reading)
	snap := s.monitor.Snapshot()
	gated, mode := Gate(intent, snap.State, snap.Override)
	sent := s.dispatcher.Tick(gated, mode, snap.Override)

	s.statusMu.Lock()
	prevMode := s.lastMode
	s.intent = gated
	s.lastMode = mode
	s.lastDispatch = s.dispatcher.State()
	s.statusMu.Unlock()

	if mode != prevMode {
		s.logger.WithField("mode", mode).Infof("Effective mode %s -> %s (distance %.2fm, threshold %.2fm)",
			prevMode, mode, snap.DistanceM, snap.ThresholdM)
	}
	return sent
}

// HandleHazardSample is the hazard-ingest entry point. It is safe to call
// from any goroutine; invalid samples are dropped and the last distance is
// kept.
func (s *TeleopService) HandleHazardSample(sample hazard.Sample) error {
	if sample.ReceivedAt.IsZero() {
		sample.ReceivedAt = s.clock.Now()
	}
	tr, err := s.monitor.Update(sample)
	if err != nil {
		s.hazardSamples.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", "rejected")))
		s.logger.Warnf("Dropping hazard sample: %v", err)
		return err
	}
	s.hazardSamples.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", "accepted")))
	s.announce(tr)
	return nil
}

// SetButtons replaces the manual pad state.
func (s *TeleopService) SetButtons(b ButtonState) {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	s.buttons = b
}

// SetSpeed sets the speed slider, clamped to [0,1].
func (s *TeleopService) SetSpeed(speed float64) {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	s.speed = clampSpeed(speed)
}

// SetThreshold changes the hazard threshold. Non-positive values are
// rejected with hazard.ErrInvalidThreshold and the old value is kept.
func (s *TeleopService) SetThreshold(thresholdM float64) error {
	tr, err := s.monitor.SetThreshold(thresholdM)
	if err != nil {
		return err
	}
	s.logger.Infof("Hazard threshold set to %.2fm", thresholdM)
	s.announce(tr)
	return nil
}

// SetOverride toggles the operator override of the interlock.
func (s *TeleopService) SetOverride(enabled bool) {
	prev := s.monitor.SetOverride(enabled)
	if prev == enabled {
		return
	}
	if !enabled {
		s.logger.Infof("Safety interlock override disabled")
		return
	}
	s.logger.Warnf("Safety interlock override enabled")
	if s.monitor.State() == hazard.Emergency {
		s.alert("WARNING: safety interlock overridden - full control enabled")
	}
}

// Stop clears the pad and zeroes the speed. The resulting zero intent goes
// through the normal change gate on the next dispatch tick.
func (s *TeleopService) Stop() {
	s.inputMu.Lock()
	s.buttons = ButtonState{}
	s.speed = 0
	s.inputMu.Unlock()
	s.logger.Infof("Operator stop")
}

// ApplySettings swaps in new fusion tuning and change epsilon. Loop rates
// only take effect on the next Run.
func (s *TeleopService) ApplySettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	s.fusion = NewFusion(settings.Fusion)
	s.epsilon = settings.ChangeEpsilon
	s.settings = settings
	return nil
}

func (s *TeleopService) Settings() Settings {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	return s.settings
}

// CurrentEffectiveMode is evaluated from the live hazard cell, so it can
// run ahead of the last dispatch tick.
func (s *TeleopService) CurrentEffectiveMode() EffectiveMode {
	snap := s.monitor.Snapshot()
	return ResolveMode(snap.State, snap.Override)
}

func (s *TeleopService) CurrentDistance() float64 {
	return s.monitor.Distance()
}

// CurrentIntent is the gated intent of the last dispatch tick.
func (s *TeleopService) CurrentIntent() VelocityIntent {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.intent
}

func (s *TeleopService) IsControllerConnected() bool {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	return s.connected
}

func (s *TeleopService) IsTransportConnected() bool {
	return s.sink != nil && s.sink.Connected()
}

func (s *TeleopService) Status() Status {
	snap := s.monitor.Snapshot()
	now := s.clock.Now()

	s.inputMu.Lock()
	buttons, speed, connected := s.buttons, s.speed, s.connected
	staleAfter := s.settings.StaleAfter
	s.inputMu.Unlock()

	s.statusMu.RLock()
	intent, last := s.intent, s.lastDispatch
	s.statusMu.RUnlock()

	age := snap.Age(now)
	return Status{
		Mode:                ResolveMode(snap.State, snap.Override),
		Hazard:              snap,
		HazardAgeMs:         age.Milliseconds(),
		Stale:               staleAfter > 0 && (snap.ReceivedAt.IsZero() || age > staleAfter),
		Intent:              intent,
		Buttons:             buttons,
		Speed:               speed,
		ControllerConnected: connected,
		TransportConnected:  s.IsTransportConnected(),
		LastDispatch:        last,
	}
}

func (s *TeleopService) announce(tr hazard.Transition) {
	if !tr.Changed() {
		return
	}
	s.hazardTransitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("to", tr.To.String())))
	snap := s.monitor.Snapshot()
	switch tr.To {
	case hazard.Emergency:
		msg := fmt.Sprintf("EMERGENCY: hazard at %.2fm (threshold %.2fm)", snap.DistanceM, snap.ThresholdM)
		s.logger.Warnf("%s", msg)
		s.alert(msg)
	case hazard.Normal:
		msg := fmt.Sprintf("CLEAR: hazard distance %.2fm", snap.DistanceM)
		s.logger.Infof("%s", msg)
		s.alert(msg)
	}
}

func (s *TeleopService) alert(msg string) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Alert(msg); err != nil {
		s.logger.Debugf("Alert not published: %v", err)
	}
}
