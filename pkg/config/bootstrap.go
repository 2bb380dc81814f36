package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Hazard sources selectable in the bootstrap config.
const (
	HazardSourceZeroMQ = "zeromq"
	HazardSourceSerial = "serial"
)

// BootstrapConfig holds the initial configuration loaded from controller_config.yaml
type BootstrapConfig struct {
	Logging      LoggingConfig         `yaml:"logging"`
	Server       BootstrapServerConfig `yaml:"server"`
	ZeroMQ       ZeroMQBootstrap       `yaml:"zeromq"`
	HazardSource string                `yaml:"hazard_source"`
	Serial       SerialConfig          `yaml:"serial"`
	Joystick     JoystickConfig        `yaml:"joystick"`
	Data         DataConfig            `yaml:"data"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogPath    string `yaml:"log_path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

type BootstrapServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// ZeroMQBootstrap holds ZeroMQ settings from bootstrap
type ZeroMQBootstrap struct {
	// Hazard distance frames are received on a SUB socket connected here.
	HazardSubscribeAddress string `yaml:"hazard_subscribe_address"`
	// Commands and alerts are published on a PUB socket bound here.
	CommandPublishAddress string `yaml:"command_publish_address"`
	// STATUS_REQUEST / CONFIG_REQUEST are answered on a REP socket bound here.
	RequestBindAddress  string `yaml:"request_bind_address"`
	ReconnectIntervalMs int    `yaml:"reconnect_interval_ms"`
}

// SerialConfig describes the UWB ranging radio used when hazard_source is serial.
type SerialConfig struct {
	Path     string `yaml:"path"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// JoystickConfig points at a Linux joystick device. Empty disables it.
type JoystickConfig struct {
	Device string `yaml:"device"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory             string `yaml:"directory"`
	ArbiterConfigFilename string `yaml:"arbiter_config_file"`
}

// ArbiterConfigPath joins the data directory and the operational config file.
func (d DataConfig) ArbiterConfigPath() string {
	return filepath.Join(d.Directory, d.ArbiterConfigFilename)
}

// LoadBootstrapConfig loads the bootstrap configuration from controller_config.yaml
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, "controller_config.yaml")

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if bootstrapCfg.HazardSource == "" {
		bootstrapCfg.HazardSource = HazardSourceZeroMQ
	}
	if bootstrapCfg.ZeroMQ.ReconnectIntervalMs <= 0 {
		bootstrapCfg.ZeroMQ.ReconnectIntervalMs = 1000
	}

	if bootstrapCfg.ZeroMQ.CommandPublishAddress == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.command_publish_address")
	}
	if bootstrapCfg.ZeroMQ.RequestBindAddress == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.request_bind_address")
	}
	switch bootstrapCfg.HazardSource {
	case HazardSourceZeroMQ:
		if bootstrapCfg.ZeroMQ.HazardSubscribeAddress == "" {
			return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.hazard_subscribe_address")
		}
	case HazardSourceSerial:
		if bootstrapCfg.Serial.Path == "" {
			return nil, fmt.Errorf("missing required field in bootstrap config: serial.path")
		}
	default:
		return nil, fmt.Errorf("invalid hazard_source in bootstrap config: %q (want %q or %q)",
			bootstrapCfg.HazardSource, HazardSourceZeroMQ, HazardSourceSerial)
	}
	if bootstrapCfg.Data.Directory == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if bootstrapCfg.Data.ArbiterConfigFilename == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.arbiter_config_file")
	}

	return &bootstrapCfg, nil
}
