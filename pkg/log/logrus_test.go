package log

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestSimpleFormatterLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug")

	logger.WithField("mode", "NORMAL").WithField("distance", 4.5).Warnf("hazard %s", "near")

	line := buf.String()
	pattern := regexp.MustCompile(`^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\.\d{6} \[WAR\] hazard near distance=4.5 mode=NORMAL\n$`)
	if !pattern.MatchString(line) {
		t.Errorf("unexpected log line: %q", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	logger.Infof("dropped")
	logger.Errorf("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "[ERR] kept") {
		t.Errorf("expected error line, got %q", out)
	}
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "chatty")

	logger.Debugf("debug line")
	logger.Infof("info line")

	out := buf.String()
	if strings.Contains(out, "debug line") {
		t.Errorf("debug should be filtered at the default info level")
	}
	if !strings.Contains(out, "info line") {
		t.Errorf("expected info line, got %q", out)
	}
}

func TestNewWritesRotatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, err := New(Options{Level: "info", Dir: dir, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Infof("written to file")

	data, err := os.ReadFile(filepath.Join(dir, "controller.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "[INF] written to file") {
		t.Errorf("log file missing entry: %q", string(data))
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.WithField("k", "v").Errorf("ignored %d", 1)
}
