// Package diagnostic aggregates arbiter status, bus traffic and process
// statistics for the /api/diagnostics endpoint and the periodic summary log.
package diagnostic

import (
	"context"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/rover-controller/domain/teleop"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/processing"
	"github.com/open-teleop/rover-controller/pkg/timeutil"
)

// SystemMetrics represents process diagnostics information
type SystemMetrics struct {
	Goroutines     int     `json:"goroutines"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// FeedStats counts frames from a hazard feed.
type FeedStats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

// FeedCounter is implemented by hazard sources that count their frames.
type FeedCounter interface {
	Received() uint64
	Dropped() uint64
}

// Snapshot is one diagnostics report.
type Snapshot struct {
	Timestamp  time.Time                       `json:"timestamp"`
	RobotID    string                          `json:"robot_id"`
	Teleop     teleop.Status                   `json:"teleop"`
	Topics     map[string]processing.TopicInfo `json:"topics"`
	HazardFeed *FeedStats                      `json:"hazard_feed,omitempty"`
	System     SystemMetrics                   `json:"system"`
}

// Sources are the components a DiagnosticService reads. Only Status is
// required.
type Sources struct {
	Status   func() teleop.Status
	Registry *processing.TopicRegistry
	Feed     FeedCounter
	RobotID  func() string
}

// DiagnosticService handles system diagnostics
type DiagnosticService struct {
	sources Sources
	clock   timeutil.Clock
	logger  customlog.Logger
	started time.Time
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(sources Sources, clock timeutil.Clock, logger customlog.Logger) *DiagnosticService {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &DiagnosticService{
		sources: sources,
		clock:   clock,
		logger:  logger,
		started: clock.Now(),
	}
}

// Snapshot collects a report.
func (s *DiagnosticService) Snapshot() Snapshot {
	now := s.clock.Now()
	snap := Snapshot{
		Timestamp: now,
		Teleop:    s.sources.Status(),
		Topics:    map[string]processing.TopicInfo{},
		System:    s.systemMetrics(now),
	}
	if s.sources.RobotID != nil {
		snap.RobotID = s.sources.RobotID()
	}
	if s.sources.Registry != nil {
		snap.Topics = s.sources.Registry.GetTopicStats()
	}
	if s.sources.Feed != nil {
		snap.HazardFeed = &FeedStats{
			Received: s.sources.Feed.Received(),
			Dropped:  s.sources.Feed.Dropped(),
		}
	}
	return snap
}

func (s *DiagnosticService) systemMetrics(now time.Time) SystemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return SystemMetrics{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		UptimeSeconds:  now.Sub(s.started).Seconds(),
	}
}

// GetMetricsHandler handles API requests for diagnostics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.Snapshot(),
	})
}

// Run logs a one-line summary every interval until ctx is done.
func (s *DiagnosticService) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.logSummary(s.Snapshot())
		}
	}
}

func (s *DiagnosticService) logSummary(snap Snapshot) {
	st := snap.Teleop
	logger := s.logger.WithField("mode", st.Mode.String())
	if st.Stale {
		logger.Warnf("Hazard feed stale: last distance %.2fm is %dms old", st.Hazard.DistanceM, st.HazardAgeMs)
		return
	}
	logger.Infof("distance=%.2fm threshold=%.2fm intent=[%s] controller=%t transport=%t",
		st.Hazard.DistanceM, st.Hazard.ThresholdM, st.Intent, st.ControllerConnected, st.TransportConnected)
}
