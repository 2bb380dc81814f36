package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()

	configContent := `
version: "1.0"
config_id: "test-arbiter-config"
lastUpdated: "2025-04-06T00:00:00Z"
robot_id: "test-rover"

hazard:
  threshold_m: 3.5
  initial_distance_m: 999.0
  stale_after_ms: 1500

fusion:
  deadzone: 0.15
  axis_gain: 0.8
  speed_nudge_step: 0.1

dispatch:
  change_epsilon: 0.02
  dispatch_hz: 25
  controller_poll_hz: 4

topics:
  hazard_distance: "teleop.sensor.uwb"
  cmd_vel: "teleop.control.velocity"
  emergency_alert: "teleop.alert.hazard"
`

	configPath := filepath.Join(tempDir, "arbiter_config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.ConfigID != "test-arbiter-config" {
		t.Errorf("Expected config_id test-arbiter-config, got %s", config.ConfigID)
	}
	if config.RobotID != "test-rover" {
		t.Errorf("Expected robot_id test-rover, got %s", config.RobotID)
	}
	if config.Hazard.ThresholdM != 3.5 {
		t.Errorf("Expected threshold_m 3.5, got %v", config.Hazard.ThresholdM)
	}
	if config.Hazard.StaleAfterMs != 1500 {
		t.Errorf("Expected stale_after_ms 1500, got %d", config.Hazard.StaleAfterMs)
	}
	if config.Fusion.Deadzone != 0.15 || config.Fusion.AxisGain != 0.8 || config.Fusion.SpeedNudgeStep != 0.1 {
		t.Errorf("Unexpected fusion config: %+v", config.Fusion)
	}
	if config.Dispatch.ChangeEpsilon != 0.02 || config.Dispatch.DispatchHz != 25 || config.Dispatch.ControllerPollHz != 4 {
		t.Errorf("Unexpected dispatch config: %+v", config.Dispatch)
	}
	if config.Topics.CmdVel != "teleop.control.velocity" {
		t.Errorf("Expected cmd_vel topic teleop.control.velocity, got %s", config.Topics.CmdVel)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "arbiter_config.yaml")
	minimal := "config_id: minimal\nrobot_id: rover-1\n"
	if err := os.WriteFile(configPath, []byte(minimal), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := DefaultArbiterConfig()
	want.ConfigID = "minimal"
	want.RobotID = "rover-1"
	if *config != want {
		t.Errorf("Defaults not applied:\n got  %+v\n want %+v", *config, want)
	}
	if config.Hazard.ThresholdM != 5.0 || config.Hazard.InitialDistanceM != 999.0 {
		t.Errorf("Unexpected hazard defaults: %+v", config.Hazard)
	}
	if config.Dispatch.DispatchHz != 20 || config.Dispatch.ControllerPollHz != 2 {
		t.Errorf("Unexpected dispatch defaults: %+v", config.Dispatch)
	}
}

func TestParseArbiterConfigRejectsOutOfRange(t *testing.T) {
	cases := map[string]string{
		"negative threshold": "hazard:\n  threshold_m: -1\n",
		"deadzone of one":    "fusion:\n  deadzone: 1.0\n  axis_gain: 1\n",
		"negative epsilon":   "dispatch:\n  change_epsilon: -0.5\n",
		"negative rate":      "dispatch:\n  dispatch_hz: -20\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseArbiterConfig([]byte("config_id: c\nrobot_id: r\n" + body))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParseArbiterConfigRequiresIdentity(t *testing.T) {
	_, err := ParseArbiterConfig([]byte("hazard:\n  threshold_m: 4\n"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "config_id") {
		t.Errorf("Expected error to name config_id, got %v", err)
	}

	if _, err := ParseArbiterConfig([]byte("::not yaml")); err == nil {
		t.Errorf("Expected YAML error")
	}
}

func TestZeroDeadzoneIsKept(t *testing.T) {
	cfg, err := ParseArbiterConfig([]byte("config_id: c\nrobot_id: r\nfusion:\n  deadzone: 0\n  axis_gain: 2\n"))
	if err != nil {
		t.Fatalf("ParseArbiterConfig failed: %v", err)
	}
	if cfg.Fusion.Deadzone != 0 {
		t.Errorf("Expected deadzone 0 to be kept, got %v", cfg.Fusion.Deadzone)
	}
	if cfg.Fusion.SpeedNudgeStep != 0.05 {
		t.Errorf("Expected default speed_nudge_step, got %v", cfg.Fusion.SpeedNudgeStep)
	}
}

func TestLoadBootstrapConfig(t *testing.T) {
	tempDir := t.TempDir()

	bootstrapContent := `
logging:
  level: "debug"
  log_path: "/var/log/controller"
  max_size_mb: 20
  max_backups: 3
server:
  http_port: 9090
zeromq:
  hazard_subscribe_address: "tcp://rover.local:5556"
  command_publish_address: "tcp://*:5557"
  request_bind_address: "tcp://*:5555"
joystick:
  device: "/dev/input/js0"
data:
  directory: "/etc/rover"
  arbiter_config_file: "arbiter_config.yaml"
`
	if err := os.WriteFile(filepath.Join(tempDir, "controller_config.yaml"), []byte(bootstrapContent), 0644); err != nil {
		t.Fatalf("Failed to write bootstrap config: %v", err)
	}

	cfg, err := LoadBootstrapConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadBootstrapConfig failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected logging level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB != 20 || cfg.Logging.MaxBackups != 3 {
		t.Errorf("Unexpected rotation settings: %+v", cfg.Logging)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("Expected http_port 9090, got %d", cfg.Server.HTTPPort)
	}
	if cfg.HazardSource != HazardSourceZeroMQ {
		t.Errorf("Expected default hazard source zeromq, got %s", cfg.HazardSource)
	}
	if cfg.ZeroMQ.ReconnectIntervalMs != 1000 {
		t.Errorf("Expected default reconnect interval 1000, got %d", cfg.ZeroMQ.ReconnectIntervalMs)
	}
	if cfg.Joystick.Device != "/dev/input/js0" {
		t.Errorf("Expected joystick device /dev/input/js0, got %s", cfg.Joystick.Device)
	}
	if got := cfg.Data.ArbiterConfigPath(); got != filepath.Join("/etc/rover", "arbiter_config.yaml") {
		t.Errorf("Unexpected arbiter config path %s", got)
	}
}

func TestLoadBootstrapConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing publish address",
			content: `
zeromq:
  hazard_subscribe_address: "tcp://localhost:5556"
  request_bind_address: "tcp://*:5555"
data: {directory: "/tmp", arbiter_config_file: "a.yaml"}
`,
			wantErr: "zeromq.command_publish_address",
		},
		{
			name: "serial without path",
			content: `
hazard_source: serial
zeromq:
  command_publish_address: "tcp://*:5557"
  request_bind_address: "tcp://*:5555"
data: {directory: "/tmp", arbiter_config_file: "a.yaml"}
`,
			wantErr: "serial.path",
		},
		{
			name: "unknown hazard source",
			content: `
hazard_source: carrier-pigeon
zeromq:
  command_publish_address: "tcp://*:5557"
  request_bind_address: "tcp://*:5555"
data: {directory: "/tmp", arbiter_config_file: "a.yaml"}
`,
			wantErr: "hazard_source",
		},
		{
			name: "missing data file",
			content: `
zeromq:
  hazard_subscribe_address: "tcp://localhost:5556"
  command_publish_address: "tcp://*:5557"
  request_bind_address: "tcp://*:5555"
data: {directory: "/tmp"}
`,
			wantErr: "data.arbiter_config_file",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "controller_config.yaml"), []byte(tc.content), 0644); err != nil {
				t.Fatalf("Failed to write bootstrap config: %v", err)
			}
			_, err := LoadBootstrapConfig(dir)
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}

	if _, err := LoadBootstrapConfig(t.TempDir()); err == nil {
		t.Errorf("Expected error for missing controller_config.yaml")
	}
}
