package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid arbiter configuration")

// ArbiterConfig is the operational configuration of the motion arbiter,
// editable at runtime through the config API.
type ArbiterConfig struct {
	Version     string         `yaml:"version" json:"version"`
	ConfigID    string         `yaml:"config_id" json:"config_id"`
	LastUpdated string         `yaml:"lastUpdated" json:"lastUpdated"`
	RobotID     string         `yaml:"robot_id" json:"robot_id"`
	Hazard      HazardConfig   `yaml:"hazard" json:"hazard"`
	Fusion      FusionConfig   `yaml:"fusion" json:"fusion"`
	Dispatch    DispatchConfig `yaml:"dispatch" json:"dispatch"`
	Topics      TopicsConfig   `yaml:"topics" json:"topics"`
}

type HazardConfig struct {
	ThresholdM       float64 `yaml:"threshold_m" json:"threshold_m"`
	InitialDistanceM float64 `yaml:"initial_distance_m" json:"initial_distance_m"`
	// StaleAfterMs marks the hazard feed stale in status output. The last
	// distance is still used by the interlock.
	StaleAfterMs int `yaml:"stale_after_ms" json:"stale_after_ms"`
}

type FusionConfig struct {
	Deadzone       float64 `yaml:"deadzone" json:"deadzone"`
	AxisGain       float64 `yaml:"axis_gain" json:"axis_gain"`
	SpeedNudgeStep float64 `yaml:"speed_nudge_step" json:"speed_nudge_step"`
}

type DispatchConfig struct {
	ChangeEpsilon    float64 `yaml:"change_epsilon" json:"change_epsilon"`
	DispatchHz       float64 `yaml:"dispatch_hz" json:"dispatch_hz"`
	ControllerPollHz float64 `yaml:"controller_poll_hz" json:"controller_poll_hz"`
}

// TopicsConfig names the Open-Teleop topics the controller uses.
type TopicsConfig struct {
	HazardDistance string `yaml:"hazard_distance" json:"hazard_distance"`
	CmdVel         string `yaml:"cmd_vel" json:"cmd_vel"`
	EmergencyAlert string `yaml:"emergency_alert" json:"emergency_alert"`
}

// DefaultArbiterConfig returns the reference rover tuning.
func DefaultArbiterConfig() ArbiterConfig {
	var c ArbiterConfig
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every zero-valued field with its default.
func (c *ArbiterConfig) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Hazard.ThresholdM == 0 {
		c.Hazard.ThresholdM = 5.0
	}
	if c.Hazard.InitialDistanceM == 0 {
		c.Hazard.InitialDistanceM = 999.0
	}
	if c.Hazard.StaleAfterMs == 0 {
		c.Hazard.StaleAfterMs = 2000
	}
	// A zero deadzone is a legitimate setting, so only a fully empty
	// fusion block gets the default.
	if c.Fusion == (FusionConfig{}) {
		c.Fusion = FusionConfig{Deadzone: 0.2, AxisGain: 1.0, SpeedNudgeStep: 0.05}
	}
	if c.Fusion.AxisGain == 0 {
		c.Fusion.AxisGain = 1.0
	}
	if c.Fusion.SpeedNudgeStep == 0 {
		c.Fusion.SpeedNudgeStep = 0.05
	}
	if c.Dispatch.ChangeEpsilon == 0 {
		c.Dispatch.ChangeEpsilon = 0.01
	}
	if c.Dispatch.DispatchHz == 0 {
		c.Dispatch.DispatchHz = 20
	}
	if c.Dispatch.ControllerPollHz == 0 {
		c.Dispatch.ControllerPollHz = 2
	}
	if c.Topics.HazardDistance == "" {
		c.Topics.HazardDistance = "teleop.sensor.uwb_distance"
	}
	if c.Topics.CmdVel == "" {
		c.Topics.CmdVel = "teleop.control.cmd_vel"
	}
	if c.Topics.EmergencyAlert == "" {
		c.Topics.EmergencyAlert = "teleop.alert.emergency"
	}
}

// Validate checks ranges. It does not apply defaults.
func (c *ArbiterConfig) Validate() error {
	if c.ConfigID == "" || c.Version == "" || c.RobotID == "" {
		return fmt.Errorf("%w: missing required fields (config_id, version, robot_id)", ErrInvalidConfig)
	}
	if !positive(c.Hazard.ThresholdM) {
		return fmt.Errorf("%w: hazard.threshold_m must be > 0, got %v", ErrInvalidConfig, c.Hazard.ThresholdM)
	}
	if math.IsNaN(c.Hazard.InitialDistanceM) || c.Hazard.InitialDistanceM < 0 {
		return fmt.Errorf("%w: hazard.initial_distance_m must be >= 0, got %v", ErrInvalidConfig, c.Hazard.InitialDistanceM)
	}
	if c.Hazard.StaleAfterMs < 0 {
		return fmt.Errorf("%w: hazard.stale_after_ms must be >= 0, got %d", ErrInvalidConfig, c.Hazard.StaleAfterMs)
	}
	if math.IsNaN(c.Fusion.Deadzone) || c.Fusion.Deadzone < 0 || c.Fusion.Deadzone >= 1 {
		return fmt.Errorf("%w: fusion.deadzone must be in [0,1), got %v", ErrInvalidConfig, c.Fusion.Deadzone)
	}
	if math.IsNaN(c.Fusion.AxisGain) || math.IsInf(c.Fusion.AxisGain, 0) {
		return fmt.Errorf("%w: fusion.axis_gain must be finite, got %v", ErrInvalidConfig, c.Fusion.AxisGain)
	}
	if !positive(c.Dispatch.ChangeEpsilon) {
		return fmt.Errorf("%w: dispatch.change_epsilon must be > 0, got %v", ErrInvalidConfig, c.Dispatch.ChangeEpsilon)
	}
	if !positive(c.Dispatch.DispatchHz) || !positive(c.Dispatch.ControllerPollHz) {
		return fmt.Errorf("%w: dispatch rates must be > 0", ErrInvalidConfig)
	}
	if c.Topics.HazardDistance == "" || c.Topics.CmdVel == "" || c.Topics.EmergencyAlert == "" {
		return fmt.Errorf("%w: topics.hazard_distance, topics.cmd_vel and topics.emergency_alert are required", ErrInvalidConfig)
	}
	return nil
}

// ParseArbiterConfig decodes YAML, applies defaults and validates.
func ParseArbiterConfig(data []byte) (*ArbiterConfig, error) {
	var cfg ArbiterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML format: %v", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads the operational configuration from the specified file path
func LoadConfig(path string) (*ArbiterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := ParseArbiterConfig(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

func positive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
