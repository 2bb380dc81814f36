package services

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/open-teleop/rover-controller/pkg/config"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
)

// ErrNoConfig is returned when nothing has been loaded yet.
var ErrNoConfig = errors.New("arbiter configuration not loaded")

// ConfigPublisher defines the interface for publishing configuration updates.
// This avoids a direct dependency on the concrete ZeroMQService or ConfigPublisher implementation.
type ConfigPublisher interface {
	PublishConfigUpdatedNotification() error
}

// Applier pushes a validated configuration into the running components.
type Applier interface {
	Apply(cfg *config.ArbiterConfig) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(cfg *config.ArbiterConfig) error

func (f ApplierFunc) Apply(cfg *config.ArbiterConfig) error { return f(cfg) }

// ArbiterConfigService manages the operational arbiter configuration.
type ArbiterConfigService interface {
	LoadConfig() error
	GetCurrentConfig() *config.ArbiterConfig
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	PersistConfig(yamlData []byte) error
	SetPublisher(p ConfigPublisher)
	SetApplier(a Applier)
}

type arbiterConfigService struct {
	operationalConfigPath string
	logger                customlog.Logger
	configPublisher       ConfigPublisher
	applier               Applier
	currentConfig         *config.ArbiterConfig
	mu                    sync.RWMutex
}

// NewArbiterConfigService creates the service and attempts an initial load.
// A missing file is not fatal: the defaults are used until a config is
// provided via the API.
func NewArbiterConfigService(operationalConfigPath string, logger customlog.Logger) (ArbiterConfigService, error) {
	if operationalConfigPath == "" {
		return nil, fmt.Errorf("operational configuration path cannot be empty")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	service := &arbiterConfigService{
		operationalConfigPath: operationalConfigPath,
		logger:                logger,
	}

	if err := service.LoadConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		defaults := config.DefaultArbiterConfig()
		defaults.ConfigID = uuid.NewString()
		defaults.RobotID = "rover"
		service.currentConfig = &defaults
		logger.Warnf("Operational config '%s' not found, using defaults (ID: %s)", operationalConfigPath, defaults.ConfigID)
		return service, nil
	}

	logger.Infof("ArbiterConfigService initialized for path: %s", operationalConfigPath)
	return service, nil
}

// LoadConfig reads the operational config file from disk. On failure the
// current configuration is kept.
func (s *arbiterConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading operational configuration from: %s", s.operationalConfigPath)
	cfg, err := config.LoadConfig(s.operationalConfigPath)
	if err != nil {
		return err
	}

	s.currentConfig = cfg
	s.logger.Infof("Loaded operational configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

// GetCurrentConfig returns a copy of the active configuration.
func (s *arbiterConfigService) GetCurrentConfig() *config.ArbiterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentConfig == nil {
		return nil
	}
	cfg := *s.currentConfig
	return &cfg
}

// GetCurrentConfigYAML renders the active configuration, defaults included.
func (s *arbiterConfigService) GetCurrentConfigYAML() ([]byte, error) {
	cfg := s.GetCurrentConfig()
	if cfg == nil {
		return nil, ErrNoConfig
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	return data, nil
}

// UpdateConfig validates, persists and applies a new configuration, then
// notifies gateways. An invalid document wraps config.ErrInvalidConfig and
// leaves everything unchanged.
func (s *arbiterConfigService) UpdateConfig(newConfigYAML []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCfg, err := config.ParseArbiterConfig(newConfigYAML)
	if err != nil {
		s.logger.Errorf("Rejected configuration update: %v", err)
		return err
	}
	newCfg.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := yaml.Marshal(newCfg)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	if err := s.persistConfigUnlocked(data); err != nil {
		return err
	}

	if s.applier != nil {
		if err := s.applier.Apply(newCfg); err != nil {
			return fmt.Errorf("failed to apply configuration: %w", err)
		}
	}

	oldCfgID := "N/A"
	if s.currentConfig != nil {
		oldCfgID = s.currentConfig.ConfigID
	}
	s.currentConfig = newCfg
	s.logger.Infof("Updated operational configuration. ID %s -> %s, Version: %s", oldCfgID, newCfg.ConfigID, newCfg.Version)

	if s.configPublisher != nil {
		go func(publisher ConfigPublisher) {
			if err := publisher.PublishConfigUpdatedNotification(); err != nil {
				s.logger.Warnf("Failed to publish config update notification: %v", err)
			}
		}(s.configPublisher)
	}
	return nil
}

// PersistConfig writes the given YAML data to the operational config file path.
func (s *arbiterConfigService) PersistConfig(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistConfigUnlocked(yamlData)
}

func (s *arbiterConfigService) persistConfigUnlocked(yamlData []byte) error {
	s.logger.Infof("Persisting operational configuration to: %s", s.operationalConfigPath)
	if err := os.WriteFile(s.operationalConfigPath, yamlData, 0644); err != nil {
		return fmt.Errorf("error writing operational config file '%s': %w", s.operationalConfigPath, err)
	}
	return nil
}

// SetPublisher allows injecting the ConfigPublisher after initialization.
func (s *arbiterConfigService) SetPublisher(p ConfigPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPublisher = p
}

// SetApplier injects the component that receives applied configurations.
func (s *arbiterConfigService) SetApplier(a Applier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applier = a
}
