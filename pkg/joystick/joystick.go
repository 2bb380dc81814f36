// Package joystick reads a Linux joystick device (/dev/input/jsN) and
// exposes its latest axes and buttons as a teleop controller source.
package joystick

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/open-teleop/rover-controller/domain/teleop"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/timeutil"
)

const (
	eventSize = 8

	eventButton = 0x01
	eventAxis   = 0x02
	eventInit   = 0x80

	// maxAxes bounds the axis slice against corrupt axis numbers.
	maxAxes = 32
)

// Event is one struct js_event from the kernel joystick API.
type Event struct {
	TimeMs uint32
	Value  int16
	Type   uint8
	Number uint8
}

func (e Event) IsAxis() bool   { return e.Type&^eventInit == eventAxis }
func (e Event) IsButton() bool { return e.Type&^eventInit == eventButton }

// AxisValue scales a raw axis reading to [-1, 1].
func (e Event) AxisValue() float64 {
	v := float64(e.Value) / 32767
	if v < -1 {
		v = -1
	}
	return v
}

// DecodeEvent parses one little-endian js_event record.
func DecodeEvent(b []byte) (Event, error) {
	if len(b) < eventSize {
		return Event{}, fmt.Errorf("short joystick event: %d bytes", len(b))
	}
	return Event{
		TimeMs: binary.LittleEndian.Uint32(b[0:4]),
		Value:  int16(binary.LittleEndian.Uint16(b[4:6])),
		Type:   b[6],
		Number: b[7],
	}, nil
}

// OpenFunc opens the device stream.
type OpenFunc func() (io.ReadCloser, error)

// Device tracks a joystick that may be plugged and unplugged at any time.
// Read never blocks; it reports the last known state, or no controller
// while the device is absent.
type Device struct {
	name   string
	open   OpenFunc
	clock  timeutil.Clock
	logger customlog.Logger

	mu      sync.RWMutex
	present bool
	axes    []float64
	buttons uint32
}

var _ teleop.ControllerSource = (*Device)(nil)

// NewDevice creates a Device for the joystick at path.
func NewDevice(path string, clock timeutil.Clock, logger customlog.Logger) *Device {
	return NewDeviceWithOpener(path, func() (io.ReadCloser, error) { return os.Open(path) }, clock, logger)
}

func NewDeviceWithOpener(name string, open OpenFunc, clock timeutil.Clock, logger customlog.Logger) *Device {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Device{
		name:   name,
		open:   open,
		clock:  clock,
		logger: logger.WithField("joystick", name),
	}
}

// Read implements teleop.ControllerSource.
func (d *Device) Read() teleop.Controller {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.present {
		return teleop.NoController()
	}
	return teleop.SomeController(teleop.ControllerSample{Axes: d.axes, Buttons: d.buttons})
}

// Run keeps the device open, retrying every retry interval while it is
// missing. It returns when ctx is done.
func (d *Device) Run(ctx context.Context, retry time.Duration) {
	var lastErr string
	for ctx.Err() == nil {
		rc, err := d.open()
		if err != nil {
			if err.Error() != lastErr {
				d.logger.Debugf("Joystick not available: %v", err)
				lastErr = err.Error()
			}
		} else {
			lastErr = ""
			d.logger.Infof("Joystick connected")
			err = d.consume(ctx, rc)
			d.reset()
			if ctx.Err() != nil {
				return
			}
			d.logger.Warnf("Joystick disconnected: %v", err)
		}

		ticker := d.clock.NewTicker(retry)
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C():
			ticker.Stop()
		}
	}
}

func (d *Device) consume(ctx context.Context, rc io.ReadCloser) error {
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer func() {
		if stop() {
			rc.Close()
		}
	}()

	d.mu.Lock()
	d.present = true
	d.mu.Unlock()

	buf := make([]byte, eventSize)
	for {
		if _, err := io.ReadFull(rc, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("truncated joystick event: %w", err)
			}
			return err
		}
		ev, _ := DecodeEvent(buf)
		d.apply(ev)
	}
}

func (d *Device) apply(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case ev.IsAxis():
		n := int(ev.Number)
		if n >= maxAxes {
			return
		}
		if n >= len(d.axes) {
			grown := make([]float64, n+1)
			copy(grown, d.axes)
			d.axes = grown
		}
		d.axes[n] = ev.AxisValue()
	case ev.IsButton():
		if ev.Number >= 32 {
			return
		}
		bit := uint32(1) << ev.Number
		if ev.Value != 0 {
			d.buttons |= bit
		} else {
			d.buttons &^= bit
		}
	}
}

func (d *Device) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.present = false
	d.axes = nil
	d.buttons = 0
}
