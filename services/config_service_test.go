package services

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/open-teleop/rover-controller/domain/hazard"
	"github.com/open-teleop/rover-controller/domain/teleop"
	"github.com/open-teleop/rover-controller/pkg/config"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/processing"
)

const validYAML = `version: "1.1"
config_id: arbiter-test
robot_id: rover-01
hazard:
  threshold_m: 3.5
  stale_after_ms: 1500
fusion:
  deadzone: 0.1
  axis_gain: 0.8
  speed_nudge_step: 0.1
dispatch:
  change_epsilon: 0.02
  dispatch_hz: 25
  controller_poll_hz: 4
`

type countingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPublisher) PublishConfigUpdatedNotification() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return nil
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newService(t *testing.T, contents string) (ArbiterConfigService, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbiter_config.yaml")
	if contents != "" {
		if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
	}
	svc, err := NewArbiterConfigService(path, customlog.NewNopLogger())
	if err != nil {
		t.Fatalf("NewArbiterConfigService() error = %v", err)
	}
	return svc, path
}

func TestArbiterConfigServiceLoadsFile(t *testing.T) {
	svc, _ := newService(t, validYAML)

	cfg := svc.GetCurrentConfig()
	if cfg == nil {
		t.Fatal("expected config to be loaded")
	}
	if cfg.ConfigID != "arbiter-test" || cfg.Hazard.ThresholdM != 3.5 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Topics.CmdVel != "teleop.control.cmd_vel" {
		t.Errorf("topic defaults not applied: %+v", cfg.Topics)
	}

	data, err := svc.GetCurrentConfigYAML()
	if err != nil {
		t.Fatalf("GetCurrentConfigYAML() error = %v", err)
	}
	parsed, err := config.ParseArbiterConfig(data)
	if err != nil {
		t.Fatalf("rendered YAML does not parse: %v", err)
	}
	if *parsed != *cfg {
		t.Errorf("rendered YAML = %+v, want %+v", parsed, cfg)
	}
}

func TestArbiterConfigServiceMissingFileUsesDefaults(t *testing.T) {
	svc, _ := newService(t, "")
	cfg := svc.GetCurrentConfig()
	if cfg == nil {
		t.Fatal("expected default config")
	}
	if cfg.ConfigID == "" || cfg.Hazard.ThresholdM != 5.0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestArbiterConfigServiceRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbiter_config.yaml")
	if err := os.WriteFile(path, []byte("hazard: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewArbiterConfigService(path, nil); err == nil {
		t.Fatal("expected error for corrupt config file")
	}
}

func TestUpdateConfigAppliesPersistsAndNotifies(t *testing.T) {
	svc, path := newService(t, "")

	monitor, err := hazard.NewMonitor(5, 4)
	if err != nil {
		t.Fatal(err)
	}
	teleopSvc, err := teleop.NewTeleopService(teleop.Config{Monitor: monitor, Settings: teleop.DefaultSettings()})
	if err != nil {
		t.Fatal(err)
	}
	registry := processing.NewTopicRegistry(nil)
	svc.SetApplier(&TeleopApplier{Service: teleopSvc, Registry: registry})
	pub := &countingPublisher{}
	svc.SetPublisher(pub)

	if err := svc.UpdateConfig([]byte(validYAML)); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}

	if got := svc.GetCurrentConfig().ConfigID; got != "arbiter-test" {
		t.Errorf("ConfigID = %q", got)
	}
	if got := monitor.Threshold(); got != 3.5 {
		t.Errorf("threshold = %v, want 3.5", got)
	}
	if got := monitor.State(); got != hazard.Normal {
		t.Errorf("4m against a 3.5m threshold should be NORMAL, got %v", got)
	}
	settings := teleopSvc.Settings()
	if settings.ChangeEpsilon != 0.02 || settings.Fusion.AxisGain != 0.8 || settings.StaleAfter != 1500*time.Millisecond {
		t.Errorf("settings not applied: %+v", settings)
	}
	if _, ok := registry.GetTopicInfo("teleop.sensor.uwb_distance"); !ok {
		t.Error("registry not reloaded")
	}

	onDisk, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("persisted config does not load: %v", err)
	}
	if onDisk.ConfigID != "arbiter-test" || onDisk.LastUpdated == "" {
		t.Errorf("persisted config = %+v", onDisk)
	}

	deadline := time.Now().Add(time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() != 1 {
		t.Errorf("notifications = %d, want 1", pub.count())
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	svc, path := newService(t, validYAML)
	applied := false
	svc.SetApplier(ApplierFunc(func(*config.ArbiterConfig) error {
		applied = true
		return nil
	}))

	tests := map[string]string{
		"yaml":      "hazard: [",
		"missing":   "hazard:\n  threshold_m: 2\n",
		"threshold": "version: \"1\"\nconfig_id: x\nrobot_id: r\nhazard:\n  threshold_m: -1\n",
		"deadzone":  "version: \"1\"\nconfig_id: x\nrobot_id: r\nfusion:\n  deadzone: 1.5\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			err := svc.UpdateConfig([]byte(doc))
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Fatalf("UpdateConfig() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if applied {
		t.Error("applier called for invalid config")
	}
	if got := svc.GetCurrentConfig().ConfigID; got != "arbiter-test" {
		t.Errorf("current config changed to %q", got)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != validYAML {
		t.Error("config file rewritten by a rejected update")
	}
}

func TestUpdateConfigApplierFailure(t *testing.T) {
	svc, _ := newService(t, validYAML)
	boom := errors.New("apply failed")
	svc.SetApplier(ApplierFunc(func(*config.ArbiterConfig) error { return boom }))

	doc := []byte("version: \"2\"\nconfig_id: next\nrobot_id: rover-01\n")
	if err := svc.UpdateConfig(doc); !errors.Is(err, boom) {
		t.Fatalf("UpdateConfig() error = %v, want %v", err, boom)
	}
	if got := svc.GetCurrentConfig().ConfigID; got != "arbiter-test" {
		t.Errorf("in-memory config changed to %q after failed apply", got)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.DefaultArbiterConfig()
	s := SettingsFromConfig(&cfg)
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	if s != teleop.DefaultSettings() {
		t.Errorf("SettingsFromConfig(defaults) = %+v, want %+v", s, teleop.DefaultSettings())
	}
}
