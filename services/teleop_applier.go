package services

import (
	"fmt"
	"time"

	"github.com/open-teleop/rover-controller/domain/teleop"
	"github.com/open-teleop/rover-controller/pkg/config"
	"github.com/open-teleop/rover-controller/pkg/processing"
	"github.com/open-teleop/rover-controller/pkg/zeromq"
)

// SettingsFromConfig converts the operational config into teleop settings.
func SettingsFromConfig(cfg *config.ArbiterConfig) teleop.Settings {
	return teleop.Settings{
		Fusion: teleop.FusionConfig{
			Deadzone:       cfg.Fusion.Deadzone,
			AxisGain:       cfg.Fusion.AxisGain,
			SpeedNudgeStep: cfg.Fusion.SpeedNudgeStep,
		},
		ChangeEpsilon:    cfg.Dispatch.ChangeEpsilon,
		DispatchHz:       cfg.Dispatch.DispatchHz,
		ControllerPollHz: cfg.Dispatch.ControllerPollHz,
		StaleAfter:       time.Duration(cfg.Hazard.StaleAfterMs) * time.Millisecond,
	}
}

// TeleopApplier applies configuration updates to the running arbiter.
// Publisher and Registry are optional.
type TeleopApplier struct {
	Service   *teleop.TeleopService
	Publisher *zeromq.CommandPublisher
	Registry  *processing.TopicRegistry
}

func (a *TeleopApplier) Apply(cfg *config.ArbiterConfig) error {
	settings := SettingsFromConfig(cfg)
	if err := a.Service.ApplySettings(settings); err != nil {
		return err
	}
	if err := a.Service.SetThreshold(cfg.Hazard.ThresholdM); err != nil {
		return fmt.Errorf("threshold: %w", err)
	}
	if a.Registry != nil {
		a.Registry.LoadFromConfig(cfg)
	}
	if a.Publisher != nil {
		a.Publisher.Reconfigure(zeromq.TopicsFromConfig(cfg), settings.StaleAfter)
	}
	return nil
}
