package teleop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/timeutil"
)

var ErrInvalidEpsilon = errors.New("change epsilon must be a positive number")

// CommandSink is the outbound command channel. Send is fire-and-forget: an
// error means the command was not handed to the transport.
type CommandSink interface {
	Send(intent VelocityIntent, override bool) error
	Connected() bool
}

// AlertSink receives operator-facing safety alerts.
type AlertSink interface {
	Alert(message string) error
}

// DispatchState is the last command the sink accepted.
type DispatchState struct {
	LastSent   VelocityIntent `json:"last_sent"`
	LastSentAt time.Time      `json:"last_sent_at"`
}

// Dispatcher decides once per tick whether the gated intent differs enough
// from the last sent command to be sent again. It is owned by the dispatch
// goroutine and is not safe for concurrent use.
type Dispatcher struct {
	sink    CommandSink
	epsilon float64
	clock   timeutil.Clock
	logger  customlog.Logger

	state DispatchState
	// Until the first successful send every candidate is dispatched.
	primed bool

	sent       metric.Int64Counter
	suppressed metric.Int64Counter
	failed     metric.Int64Counter
}

// NewDispatcher creates a dispatcher. Counters use the global OTel meter
// (no-op if not configured).
func NewDispatcher(sink CommandSink, epsilon float64, clock timeutil.Clock, logger customlog.Logger) (*Dispatcher, error) {
	if math.IsNaN(epsilon) || epsilon <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidEpsilon, epsilon)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	d := &Dispatcher{sink: sink, epsilon: epsilon, clock: clock, logger: logger}

	m := meter()
	var err error
	d.sent, err = m.Int64Counter(
		"rover.dispatch.sent",
		metric.WithDescription("Commands handed to the transport"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}
	d.suppressed, err = m.Int64Counter(
		"rover.dispatch.suppressed",
		metric.WithDescription("Ticks whose command was within the change epsilon"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating suppressed counter: %w", err)
	}
	d.failed, err = m.Int64Counter(
		"rover.dispatch.failed",
		metric.WithDescription("Sends rejected by the transport"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return d, nil
}

// Changed reports whether any field of next differs from prev by more than
// epsilon.
func Changed(prev, next VelocityIntent, epsilon float64) bool {
	return math.Abs(next.Forward-prev.Forward) > epsilon ||
		math.Abs(next.Turn-prev.Turn) > epsilon ||
		math.Abs(next.Speed-prev.Speed) > epsilon
}

// Tick sends intent if it passes the change gate and reports whether the
// sink accepted it. A failed send leaves DispatchState untouched so the
// next tick compares against the last command actually delivered.
func (d *Dispatcher) Tick(intent VelocityIntent, mode EffectiveMode, override bool) bool {
	attrs := metric.WithAttributes(attribute.String("mode", mode.String()))

	if d.primed && !Changed(d.state.LastSent, intent, d.epsilon) {
		d.suppressed.Add(context.Background(), 1, attrs)
		return false
	}

	if d.sink == nil {
		d.failed.Add(context.Background(), 1, attrs)
		return false
	}
	if err := d.sink.Send(intent, override); err != nil {
		d.failed.Add(context.Background(), 1, attrs)
		d.logger.Debugf("command not sent (%s): %v", intent, err)
		return false
	}

	d.state = DispatchState{LastSent: intent, LastSentAt: d.clock.Now()}
	d.primed = true
	d.sent.Add(context.Background(), 1, attrs)
	d.logger.Debugf("sent %s mode=%s", intent, mode)
	return true
}

func (d *Dispatcher) State() DispatchState {
	return d.state
}

// Epsilon returns the change-gate threshold.
func (d *Dispatcher) Epsilon() float64 {
	return d.epsilon
}

// SetEpsilon changes the change-gate threshold. Must be called from the
// goroutine that calls Tick.
func (d *Dispatcher) SetEpsilon(epsilon float64) error {
	if math.IsNaN(epsilon) || epsilon <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidEpsilon, epsilon)
	}
	d.epsilon = epsilon
	return nil
}
