package uwb

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/rover-controller/domain/hazard"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/timeutil"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want float64
	}{
		{"4.02", 4.02},
		{"  7.5\r", 7.5},
		{"d=4.02", 4.02},
		{"dist: 3.10m", 3.10},
		{"DIST,4.02,m", 4.02},
		{"dist,0.85", 0.85},
		{`{"distance_m": 12.5}`, 12.5},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseLineRejects(t *testing.T) {
	for _, line := range []string{"", "   ", "DW1000 ranging ready", "ANCHOR,ready", `{"rssi": -80}`} {
		_, err := ParseLine(line)
		assert.ErrorIs(t, err, ErrNoReading, "line %q", line)
	}

	for _, line := range []string{"d=far", "DIST,x,m", `{"distance_m":`} {
		_, err := ParseLine(line)
		assert.Error(t, err, "line %q", line)
		assert.NotErrorIs(t, err, ErrNoReading, "line %q", line)
	}
}

type sampleLog struct {
	mu      sync.Mutex
	samples []hazard.Sample
	err     error
}

func (l *sampleLog) handle(s hazard.Sample) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.samples = append(l.samples, s)
	return nil
}

func (l *sampleLog) distances() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]float64, len(l.samples))
	for i, s := range l.samples {
		out[i] = s.DistanceM
	}
	return out
}

func TestReaderRunUntilEOF(t *testing.T) {
	epoch := time.Date(2025, 4, 6, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(epoch)
	input := "UWB tag online\n6.00\nd=4.50\nnoise\nDIST,2.25,m\n"

	var log sampleLog
	r := NewReader(strings.NewReader(input), clock, customlog.NewNopLogger())
	err := r.Run(context.Background(), log.handle)

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []float64{6.00, 4.50, 2.25}, log.distances())
	assert.True(t, log.samples[0].ReceivedAt.Equal(epoch))

	lines, skipped := r.Stats()
	assert.Equal(t, uint64(5), lines)
	assert.Equal(t, uint64(2), skipped)
}

func TestReaderCountsRejectedSamples(t *testing.T) {
	log := sampleLog{err: hazard.ErrInvalidSample}
	r := NewReader(strings.NewReader("-1\n3\n"), nil, nil)
	assert.ErrorIs(t, r.Run(context.Background(), log.handle), io.EOF)

	lines, skipped := r.Stats()
	assert.Equal(t, uint64(2), lines)
	assert.Equal(t, uint64(2), skipped)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestReaderReturnsReadError(t *testing.T) {
	boom := errors.New("port unplugged")
	r := NewReader(failingReader{err: boom}, nil, nil)
	assert.ErrorIs(t, r.Run(context.Background(), (&sampleLog{}).handle), boom)
}

func TestReaderStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var log sampleLog
	done := make(chan error, 1)
	go func() { done <- NewReader(pr, nil, nil).Run(ctx, log.handle) }()

	_, err := pw.Write([]byte("5.5\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(log.distances()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reader did not stop on cancel")
	}
}

func TestSuperviseReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		opens int
	)
	open := func() (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		switch opens {
		case 1:
			return nil, errors.New("no such device")
		case 2:
			return io.NopCloser(strings.NewReader("8.0\n")), nil
		default:
			return io.NopCloser(strings.NewReader("1.5\n")), nil
		}
	}

	var log sampleLog
	done := make(chan struct{})
	go func() {
		Supervise(ctx, open, time.Millisecond, timeutil.RealClock{}, customlog.NewNopLogger(), log.handle)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(log.distances()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Supervise did not return after cancel")
	}

	got := log.distances()
	assert.Equal(t, 8.0, got[0])
	assert.Equal(t, 1.5, got[1])
}
