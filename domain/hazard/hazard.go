// Package hazard tracks the latest hazard-distance reading and derives the
// rover's safety state from it.
//
// The Monitor is the single synchronized cell shared by the hazard-ingest
// goroutine and the dispatch loop. It holds the current distance, the
// operator-set threshold and the interlock override flag. Only the most
// recent sample is kept.
package hazard

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	ErrInvalidThreshold = errors.New("hazard threshold must be a positive number of meters")
	ErrInvalidSample    = errors.New("hazard distance must be a non-negative number of meters")
)

const (
	DefaultThresholdM      = 5.0
	DefaultInitialDistance = 999.0
)

// SafetyState is the hazard classification of the current distance.
type SafetyState int

const (
	Normal SafetyState = iota
	Emergency
)

func (s SafetyState) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Emergency:
		return "EMERGENCY"
	default:
		return fmt.Sprintf("SafetyState(%d)", int(s))
	}
}

// MarshalText lets the state appear by name in JSON status payloads.
func (s SafetyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Evaluate is Emergency iff distance < threshold. A distance exactly at the
// threshold is Normal.
//
// TODO: a hysteresis band or minimum dwell before clearing would stop
// NORMAL/EMERGENCY flapping near the threshold; see DESIGN.md open questions.
func Evaluate(distanceM, thresholdM float64) SafetyState {
	if distanceM < thresholdM {
		return Emergency
	}
	return Normal
}

// Sample is a single hazard-distance reading.
type Sample struct {
	DistanceM  float64   `json:"distance_m"`
	ReceivedAt time.Time `json:"received_at"`
}

// Validate rejects negative and non-finite distances.
func (s Sample) Validate() error {
	if math.IsNaN(s.DistanceM) || math.IsInf(s.DistanceM, 0) || s.DistanceM < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidSample, s.DistanceM)
	}
	return nil
}

// Transition records the safety state before and after a mutation.
type Transition struct {
	From SafetyState
	To   SafetyState
}

// Changed reports whether the mutation flipped the safety state.
func (t Transition) Changed() bool { return t.From != t.To }

// Snapshot is a consistent copy of the monitor cell.
type Snapshot struct {
	DistanceM  float64     `json:"distance_m"`
	ThresholdM float64     `json:"threshold_m"`
	Override   bool        `json:"override"`
	State      SafetyState `json:"state"`
	ReceivedAt time.Time   `json:"received_at"`
	Samples    uint64      `json:"samples"`
}

// Age reports how long ago the current distance arrived. The distance is
// never discarded for being old; Age exists for display only.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.ReceivedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ReceivedAt)
}

// Monitor is the hazard cell. All methods are safe for concurrent use.
type Monitor struct {
	mu         sync.RWMutex
	distanceM  float64
	receivedAt time.Time
	thresholdM float64
	override   bool
	samples    uint64
}

// NewMonitor creates a monitor with the given threshold and the distance
// reported until the first sample arrives.
func NewMonitor(thresholdM, initialDistanceM float64) (*Monitor, error) {
	if err := validateThreshold(thresholdM); err != nil {
		return nil, err
	}
	if err := (Sample{DistanceM: initialDistanceM}).Validate(); err != nil {
		return nil, err
	}
	return &Monitor{thresholdM: thresholdM, distanceM: initialDistanceM}, nil
}

// Update replaces the current distance with the sample. Invalid samples are
// rejected and the previous distance is kept.
func (m *Monitor) Update(s Sample) (Transition, error) {
	if err := s.Validate(); err != nil {
		return Transition{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := Evaluate(m.distanceM, m.thresholdM)
	m.distanceM = s.DistanceM
	m.receivedAt = s.ReceivedAt
	m.samples++
	return Transition{From: from, To: Evaluate(m.distanceM, m.thresholdM)}, nil
}

// State re-evaluates the current distance against the current threshold.
func (m *Monitor) State() SafetyState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Evaluate(m.distanceM, m.thresholdM)
}

// Snapshot returns the whole cell under one lock acquisition.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		DistanceM:  m.distanceM,
		ThresholdM: m.thresholdM,
		Override:   m.override,
		State:      Evaluate(m.distanceM, m.thresholdM),
		ReceivedAt: m.receivedAt,
		Samples:    m.samples,
	}
}

// SetThreshold changes the threshold. Values <= 0 are rejected and the
// previous threshold is retained.
func (m *Monitor) SetThreshold(thresholdM float64) (Transition, error) {
	if err := validateThreshold(thresholdM); err != nil {
		return Transition{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := Evaluate(m.distanceM, m.thresholdM)
	m.thresholdM = thresholdM
	return Transition{From: from, To: Evaluate(m.distanceM, m.thresholdM)}, nil
}

// SetOverride sets the operator override and returns the previous value.
func (m *Monitor) SetOverride(enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.override
	m.override = enabled
	return prev
}

func (m *Monitor) Override() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.override
}

func (m *Monitor) Distance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.distanceM
}

func (m *Monitor) Threshold() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholdM
}

func validateThreshold(thresholdM float64) error {
	if math.IsNaN(thresholdM) || math.IsInf(thresholdM, 0) || thresholdM <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, thresholdM)
	}
	return nil
}
