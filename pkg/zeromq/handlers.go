package zeromq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/open-teleop/rover-controller/pkg/config"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/processing"
)

// ConfigHandler handles CONFIG_REQUEST messages
type ConfigHandler struct {
	current func() *config.ArbiterConfig
	logger  customlog.Logger
}

// NewConfigHandler creates a new handler for configuration requests
func NewConfigHandler(current func() *config.ArbiterConfig, logger customlog.Logger) *ConfigHandler {
	return &ConfigHandler{
		current: current,
		logger:  logger,
	}
}

// HandleMessage processes a CONFIG_REQUEST message and returns a CONFIG_RESPONSE
func (h *ConfigHandler) HandleMessage(data []byte) ([]byte, error) {
	if err := expectType(data, MsgTypeConfigRequest); err != nil {
		return nil, err
	}

	cfg := h.current()
	if cfg == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}

	h.logger.Debugf("Processing configuration request")
	return marshalResponse(MsgTypeConfigResponse, cfg)
}

// StatusHandler handles STATUS_REQUEST messages with the arbiter status
type StatusHandler struct {
	status func() interface{}
	logger customlog.Logger
}

// NewStatusHandler creates a handler that replies with status()
func NewStatusHandler(status func() interface{}, logger customlog.Logger) *StatusHandler {
	return &StatusHandler{status: status, logger: logger}
}

// HandleMessage processes a STATUS_REQUEST message and returns a STATUS_RESPONSE
func (h *StatusHandler) HandleMessage(data []byte) ([]byte, error) {
	if err := expectType(data, MsgTypeStatusRequest); err != nil {
		return nil, err
	}
	return marshalResponse(MsgTypeStatusResponse, h.status())
}

// RegisterArbiterHandlers registers the request handlers and returns the
// config publisher.
func RegisterArbiterHandlers(service *ZeroMQService, status func() interface{}, current func() *config.ArbiterConfig, logger customlog.Logger) *ConfigPublisher {
	service.RegisterHandler(MsgTypeConfigRequest, NewConfigHandler(current, logger))
	service.RegisterHandler(MsgTypeStatusRequest, NewStatusHandler(status, logger))

	logger.Infof("Registered status and configuration handlers")
	return NewConfigPublisher(service, current, logger)
}

// RegisterHazardTopic lets a gateway push hazard frames over REQ/REP as well
// as over PUB/SUB.
func RegisterHazardTopic(service *ZeroMQService, topic string, handler HazardHandler, registry *processing.TopicRegistry) {
	service.RegisterTopicHandler(topic, func(env Envelope) error {
		now := time.Now()
		sample, err := HazardFromEnvelope(env, now)
		if err != nil {
			return err
		}
		if registry != nil {
			registry.UpdateTopicStats(topic, now.UnixNano())
		}
		return handler(sample)
	})
}

func expectType(data []byte, want string) error {
	var msg ZeroMQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrUnknownMessageType, want, msg.Type)
	}
	return nil
}

func marshalResponse(msgType string, data interface{}) ([]byte, error) {
	response := ZeroMQMessage{
		Type:      msgType,
		Timestamp: float64(time.Now().Unix()),
		Data:      data,
	}
	out, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	return out, nil
}
