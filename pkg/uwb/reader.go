// Package uwb reads hazard distances from a UWB ranging radio attached over
// a serial line. The radio prints one reading per line.
package uwb

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/open-teleop/rover-controller/domain/hazard"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/timeutil"
)

// ErrNoReading marks a line that carries no distance, such as a firmware
// banner or an empty line.
var ErrNoReading = errors.New("line carries no distance reading")

// ParseLine extracts a distance in meters from one radio line. Accepted
// forms are a bare number ("4.02"), a key/value pair ("d=4.02" or
// "dist: 4.02"), a CSV record ("DIST,4.02,m") and a JSON object
// ({"distance_m": 4.02}).
func ParseLine(line string) (float64, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, ErrNoReading
	}

	if strings.HasPrefix(line, "{") {
		var obj struct {
			DistanceM *float64 `json:"distance_m"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return 0, fmt.Errorf("malformed JSON reading %q: %w", line, err)
		}
		if obj.DistanceM == nil {
			return 0, ErrNoReading
		}
		return *obj.DistanceM, nil
	}

	if v, err := strconv.ParseFloat(line, 64); err == nil {
		return v, nil
	}

	if fields := strings.Split(line, ","); len(fields) >= 2 {
		if strings.EqualFold(strings.TrimSpace(fields[0]), "DIST") {
			return parseNumber(fields[1], line)
		}
		return 0, ErrNoReading
	}

	if i := strings.IndexAny(line, "=:"); i > 0 {
		return parseNumber(strings.TrimSuffix(strings.TrimSpace(line[i+1:]), "m"), line)
	}

	return 0, ErrNoReading
}

func parseNumber(field, line string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, fmt.Errorf("malformed reading %q: %w", line, err)
	}
	return v, nil
}

// Handler receives each parsed sample.
type Handler func(sample hazard.Sample) error

// Reader turns radio lines into hazard samples.
type Reader struct {
	port   io.Reader
	clock  timeutil.Clock
	logger customlog.Logger

	lines   uint64
	skipped uint64
}

func NewReader(port io.Reader, clock timeutil.Clock, logger customlog.Logger) *Reader {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Reader{port: port, clock: clock, logger: logger}
}

// Run scans the port until EOF, a read error or ctx cancellation. Lines
// that cannot be parsed are skipped; samples the handler rejects are
// logged and skipped.
func (r *Reader) Run(ctx context.Context, handler Handler) error {
	scan := bufio.NewScanner(r.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return io.EOF
				}
			}
			r.handleLine(line, handler)
		}
	}
}

func (r *Reader) handleLine(line string, handler Handler) {
	r.lines++
	distance, err := ParseLine(line)
	if err != nil {
		r.skipped++
		if !errors.Is(err, ErrNoReading) {
			r.logger.Debugf("Skipping UWB line: %v", err)
		}
		return
	}
	if err := handler(hazard.Sample{DistanceM: distance, ReceivedAt: r.clock.Now()}); err != nil {
		r.skipped++
		r.logger.Warnf("UWB reading %.3fm rejected: %v", distance, err)
	}
}

// Stats reports how many lines were read and how many were skipped. Only
// meaningful after Run returns.
func (r *Reader) Stats() (lines, skipped uint64) {
	return r.lines, r.skipped
}

// OpenFunc opens the radio port. Supervise calls it on every (re)connect.
type OpenFunc func() (io.ReadCloser, error)

// Supervise keeps a reader attached to the radio, reopening the port after
// retry whenever it fails or reaches EOF. It returns when ctx is done.
func Supervise(ctx context.Context, open OpenFunc, retry time.Duration, clock timeutil.Clock, logger customlog.Logger, handler Handler) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	for ctx.Err() == nil {
		port, err := open()
		if err != nil {
			logger.Warnf("UWB radio unavailable: %v", err)
		} else {
			logger.Infof("UWB radio connected")
			err = runAndClose(ctx, port, clock, logger, handler)
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("UWB radio disconnected: %v", err)
		}

		if !wait(ctx, clock, retry) {
			return
		}
	}
}

func wait(ctx context.Context, clock timeutil.Clock, d time.Duration) bool {
	ticker := clock.NewTicker(d)
	defer ticker.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C():
		return true
	}
}

func runAndClose(ctx context.Context, port io.ReadCloser, clock timeutil.Clock, logger customlog.Logger, handler Handler) error {
	// Closing the port unblocks the scanner goroutine on cancellation.
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()
	return NewReader(port, clock, logger).Run(ctx, handler)
}
