package zeromq

import (
	"fmt"
	"sync"
	"time"

	"github.com/open-teleop/rover-controller/domain/teleop"
	"github.com/open-teleop/rover-controller/pkg/config"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/processing"
	"github.com/open-teleop/rover-controller/pkg/timeutil"
)

// Config notification topic
const TopicConfigNotification = "configuration.notification"

// Publisher is the outbound side of ZeroMQService.
type Publisher interface {
	PublishMessage(topic string, payload []byte) error
	PublishJSON(topic string, messageType string, data interface{}) error
	Running() bool
}

// Topics names the arbiter's topics on the bus.
type Topics struct {
	HazardDistance string
	CmdVel         string
	EmergencyAlert string
}

// TopicsFromConfig extracts the topic names from the operational config.
func TopicsFromConfig(cfg *config.ArbiterConfig) Topics {
	return Topics{
		HazardDistance: cfg.Topics.HazardDistance,
		CmdVel:         cfg.Topics.CmdVel,
		EmergencyAlert: cfg.Topics.EmergencyAlert,
	}
}

// CommandPublisher sends gated velocity commands on the cmd_vel topic and
// alerts on the emergency topic. It implements teleop.CommandSink and
// teleop.AlertSink.
type CommandPublisher struct {
	service  Publisher
	registry *processing.TopicRegistry
	clock    timeutil.Clock
	logger   customlog.Logger

	mu         sync.RWMutex
	topics     Topics
	staleAfter time.Duration
}

var (
	_ teleop.CommandSink = (*CommandPublisher)(nil)
	_ teleop.AlertSink   = (*CommandPublisher)(nil)
)

// NewCommandPublisher creates a publisher. The link counts as connected
// while the service runs and a hazard frame arrived within staleAfter.
func NewCommandPublisher(service Publisher, topics Topics, staleAfter time.Duration, registry *processing.TopicRegistry, clock timeutil.Clock, logger customlog.Logger) *CommandPublisher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &CommandPublisher{
		service:    service,
		registry:   registry,
		clock:      clock,
		logger:     logger,
		topics:     topics,
		staleAfter: staleAfter,
	}
}

// Reconfigure swaps topic names and the staleness window.
func (p *CommandPublisher) Reconfigure(topics Topics, staleAfter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = topics
	p.staleAfter = staleAfter
}

func (p *CommandPublisher) Topics() Topics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.topics
}

// Send publishes a gated intent. It never blocks on slow subscribers.
func (p *CommandPublisher) Send(intent teleop.VelocityIntent, override bool) error {
	now := p.clock.Now()
	topic := p.Topics().CmdVel

	frame, err := EncodeCommand(topic, intent, override, now)
	if err != nil {
		return err
	}
	if err := p.service.PublishMessage(topic, frame); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	if p.registry != nil {
		p.registry.UpdateTopicStats(topic, now.UnixNano())
	}
	return nil
}

// Alert publishes an operator alert string.
func (p *CommandPublisher) Alert(text string) error {
	now := p.clock.Now()
	topic := p.Topics().EmergencyAlert

	frame, err := EncodeAlert(topic, text, now)
	if err != nil {
		return err
	}
	if err := p.service.PublishMessage(topic, frame); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	if p.registry != nil {
		p.registry.UpdateTopicStats(topic, now.UnixNano())
	}
	return nil
}

// Connected reports whether the rover side of the link looks alive.
func (p *CommandPublisher) Connected() bool {
	if p.service == nil || !p.service.Running() {
		return false
	}
	if p.registry == nil {
		return true
	}

	p.mu.RLock()
	hazardTopic, staleAfter := p.topics.HazardDistance, p.staleAfter
	p.mu.RUnlock()

	seen, ok := p.registry.LastSeen(hazardTopic)
	if !ok {
		return false
	}
	return staleAfter <= 0 || p.clock.Since(seen) <= staleAfter
}

// ConfigPublisher publishes configuration updates to gateways
type ConfigPublisher struct {
	service Publisher
	current func() *config.ArbiterConfig
	logger  customlog.Logger
}

// NewConfigPublisher creates a new publisher for configuration updates.
// current is called at publish time so the notification reflects the
// applied config.
func NewConfigPublisher(service Publisher, current func() *config.ArbiterConfig, logger customlog.Logger) *ConfigPublisher {
	return &ConfigPublisher{
		service: service,
		current: current,
		logger:  logger,
	}
}

// PublishConfigUpdatedNotification publishes a notification that the config has been updated
func (p *ConfigPublisher) PublishConfigUpdatedNotification() error {
	cfg := p.current()
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}
	p.logger.Infof("Publishing configuration update notification (ID: %s)", cfg.ConfigID)

	notification := map[string]interface{}{
		"config_id":    cfg.ConfigID,
		"version":      cfg.Version,
		"last_updated": cfg.LastUpdated,
	}
	return p.service.PublishJSON(TopicConfigNotification, MsgTypeConfigUpdated, notification)
}
