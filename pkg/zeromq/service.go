package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/open-teleop/rover-controller/pkg/config"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
)

// Common errors
var (
	ErrServiceClosed      = errors.New("zeromq service is closed")
	ErrInvalidMessage     = errors.New("invalid message format")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrUnknownTopic       = errors.New("no handler for topic")
)

// Message types
const (
	MsgTypeConfigRequest  = "CONFIG_REQUEST"
	MsgTypeConfigResponse = "CONFIG_RESPONSE"
	MsgTypeStatusRequest  = "STATUS_REQUEST"
	MsgTypeStatusResponse = "STATUS_RESPONSE"
	MsgTypeConfigUpdated  = "CONFIG_UPDATED"
	MsgTypeAck            = "ACK"
	MsgTypeError          = "ERROR"
)

// pollTimeout bounds how long a socket loop waits before rechecking for shutdown.
const pollTimeout = 250 * time.Millisecond

// ZeroMQMessage represents a generic message structure for ZeroMQ communication
type ZeroMQMessage struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ErrorResponse represents an error response message
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// MessageHandler defines the interface for handlers that process specific message types
type MessageHandler interface {
	HandleMessage(data []byte) ([]byte, error)
}

// HandlerFunc is a function type that implements MessageHandler
type HandlerFunc func(data []byte) ([]byte, error)

// HandleMessage calls the function
func (f HandlerFunc) HandleMessage(data []byte) ([]byte, error) {
	return f(data)
}

// TopicHandler consumes a raw OttMessage delivered on the request socket.
type TopicHandler func(env Envelope) error

// MessageReceiver answers requests on a REP socket
type MessageReceiver struct {
	socket     *zmq4.Socket
	dispatcher *MessageDispatcher
	poller     *zmq4.Poller
	logger     customlog.Logger
	running    atomic.Bool
	wg         *sync.WaitGroup
}

func newMessageReceiver(ctx *zmq4.Context, address string, dispatcher *MessageDispatcher, logger customlog.Logger, wg *sync.WaitGroup) (*MessageReceiver, error) {
	socket, err := ctx.NewSocket(zmq4.REP)
	if err != nil {
		return nil, fmt.Errorf("failed to create REP socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	// Timeouts keep a half-finished request/reply from blocking shutdown.
	const socketTimeout = 1 * time.Second
	if err := socket.SetRcvtimeo(socketTimeout); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}
	if err := socket.SetSndtimeo(socketTimeout); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set send timeout: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	logger.Infof("MessageReceiver initialized on %s", address)

	return &MessageReceiver{
		socket:     socket,
		dispatcher: dispatcher,
		poller:     poller,
		logger:     logger,
		wg:         wg,
	}, nil
}

// Start begins the request loop. The socket is owned by the loop goroutine
// and closed when it exits.
func (r *MessageReceiver) Start() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.socket.Close()
		r.logger.Infof("MessageReceiver started")

		for r.running.Load() {
			sockets, err := r.poller.Poll(pollTimeout)
			if err != nil {
				if r.running.Load() {
					r.logger.Errorf("Error polling socket: %v", err)
				}
				continue
			}
			if len(sockets) == 0 {
				continue
			}

			msg, err := r.socket.RecvBytes(0)
			if err != nil {
				if r.running.Load() {
					r.logger.Errorf("Error receiving message: %v", err)
				}
				continue
			}
			r.logger.Debugf("Received request (%d bytes)", len(msg))

			response, err := r.dispatcher.Dispatch(msg)
			if err != nil {
				r.logger.Warnf("Error dispatching message: %v", err)
				response = errorResponse(err)
			}

			if _, err := r.socket.SendBytes(response, 0); err != nil && r.running.Load() {
				r.logger.Errorf("Error sending response: %v", err)
			}
		}
		r.logger.Infof("MessageReceiver stopped")
	}()
}

// Stop asks the loop to exit; it notices within one poll interval.
func (r *MessageReceiver) Stop() {
	r.running.Store(false)
}

func errorResponse(err error) []byte {
	code := 500
	if errors.Is(err, ErrUnknownMessageType) || errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrUnknownTopic) {
		code = 400
	}
	data, _ := json.Marshal(ZeroMQMessage{
		Type:      MsgTypeError,
		Timestamp: float64(time.Now().Unix()),
		Data: ErrorResponse{
			Message: err.Error(),
			Code:    code,
		},
	})
	return data
}

// MessageSender publishes frames on a PUB socket
type MessageSender struct {
	socket  *zmq4.Socket
	logger  customlog.Logger
	running bool
	mu      sync.Mutex
}

func newMessageSender(ctx *zmq4.Context, address string, logger customlog.Logger) (*MessageSender, error) {
	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	// A slow subscriber must never stall the dispatch loop.
	if err := socket.SetSndtimeo(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set send timeout: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	logger.Infof("MessageSender initialized on %s", address)

	return &MessageSender{
		socket:  socket,
		logger:  logger,
		running: true,
	}, nil
}

// PublishMessage sends a topic frame followed by the payload frame
func (s *MessageSender) PublishMessage(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServiceClosed
	}

	if _, err := s.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := s.socket.SendBytes(payload, zmq4.DONTWAIT); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close cleans up resources
func (s *MessageSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.socket != nil {
		s.socket.Close()
		s.socket = nil
	}
}

// MessageDispatcher routes requests to the appropriate handlers: JSON
// envelopes by their type field, raw OttMessage frames by topic.
type MessageDispatcher struct {
	handlers      map[string]MessageHandler
	topicHandlers map[string]TopicHandler
	logger        customlog.Logger
	mu            sync.RWMutex
}

// NewMessageDispatcher creates a new message dispatcher
func NewMessageDispatcher(logger customlog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers:      make(map[string]MessageHandler),
		topicHandlers: make(map[string]TopicHandler),
		logger:        logger,
	}
}

// RegisterHandler adds a handler for a specific message type
func (d *MessageDispatcher) RegisterHandler(messageType string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[messageType] = handler
	d.logger.Debugf("Registered handler for message type: %s", messageType)
}

// RegisterTopicHandler adds a handler for raw OttMessage frames on a topic
func (d *MessageDispatcher) RegisterTopicHandler(topic string, handler TopicHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.topicHandlers[topic] = handler
	d.logger.Debugf("Registered handler for topic: %s", topic)
}

// Dispatch processes a request and returns the reply
func (d *MessageDispatcher) Dispatch(data []byte) ([]byte, error) {
	var msg ZeroMQMessage
	if err := json.Unmarshal(data, &msg); err == nil && msg.Type != "" {
		d.mu.RLock()
		handler, exists := d.handlers[msg.Type]
		d.mu.RUnlock()

		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
		}
		return handler.HandleMessage(data)
	}

	return d.handleRawFlatbuffer(data)
}

func (d *MessageDispatcher) handleRawFlatbuffer(data []byte) ([]byte, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	handler, exists := d.topicHandlers[env.Topic]
	d.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, env.Topic)
	}

	if err := handler(env); err != nil {
		return nil, fmt.Errorf("topic %s: %w", env.Topic, err)
	}

	return json.Marshal(ZeroMQMessage{
		Type:      MsgTypeAck,
		Timestamp: float64(time.Now().Unix()),
		Data: map[string]interface{}{
			"status": "OK",
			"topic":  env.Topic,
		},
	})
}

// ZeroMQService coordinates ZeroMQ communications for the controller
type ZeroMQService struct {
	config     config.ZeroMQBootstrap
	ctx        *zmq4.Context
	receiver   *MessageReceiver
	sender     *MessageSender
	dispatcher *MessageDispatcher
	logger     customlog.Logger
	running    atomic.Bool
	wg         sync.WaitGroup

	listenersMu sync.Mutex
	listeners   []*HazardListener
}

// NewZeroMQService binds the request and publish sockets.
func NewZeroMQService(cfg config.ZeroMQBootstrap, logger customlog.Logger) (*ZeroMQService, error) {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	s := &ZeroMQService{
		config:     cfg,
		ctx:        ctx,
		dispatcher: NewMessageDispatcher(logger),
		logger:     logger,
	}

	s.receiver, err = newMessageReceiver(ctx, cfg.RequestBindAddress, s.dispatcher, logger, &s.wg)
	if err != nil {
		ctx.Term()
		return nil, err
	}

	s.sender, err = newMessageSender(ctx, cfg.CommandPublishAddress, logger)
	if err != nil {
		s.receiver.socket.Close()
		ctx.Term()
		return nil, err
	}

	return s, nil
}

// RegisterHandler adds a handler for a specific message type
func (s *ZeroMQService) RegisterHandler(messageType string, handler MessageHandler) {
	s.dispatcher.RegisterHandler(messageType, handler)
}

// RegisterHandlerFunc adds a handler function for a specific message type
func (s *ZeroMQService) RegisterHandlerFunc(messageType string, handler func([]byte) ([]byte, error)) {
	s.dispatcher.RegisterHandler(messageType, HandlerFunc(handler))
}

// RegisterTopicHandler accepts raw OttMessage frames for topic on the
// request socket.
func (s *ZeroMQService) RegisterTopicHandler(topic string, handler TopicHandler) {
	s.dispatcher.RegisterTopicHandler(topic, handler)
}

// Start begins the ZeroMQ service
func (s *ZeroMQService) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Infof("Starting ZeroMQ service")
	s.receiver.Start()

	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for _, l := range s.listeners {
		if err := l.start(); err != nil {
			return err
		}
	}
	return nil
}

// Running reports whether Start has been called and Stop has not.
func (s *ZeroMQService) Running() bool {
	return s.running.Load()
}

// Stop halts the ZeroMQ service
func (s *ZeroMQService) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.logger.Infof("Stopping ZeroMQ service")

	s.receiver.Stop()
	s.listenersMu.Lock()
	for _, l := range s.listeners {
		l.stop()
	}
	s.listenersMu.Unlock()
	s.sender.Close()

	s.logger.Debugf("Waiting for socket goroutines to finish...")
	s.wg.Wait()

	if s.ctx != nil {
		s.ctx.Term()
		s.ctx = nil
	}

	s.logger.Infof("ZeroMQ service stopped")
}

// PublishMessage sends a message with the given topic
func (s *ZeroMQService) PublishMessage(topic string, payload []byte) error {
	if !s.running.Load() {
		return ErrServiceClosed
	}
	return s.sender.PublishMessage(topic, payload)
}

// PublishJSON publishes a JSON-serializable message with the given topic
func (s *ZeroMQService) PublishJSON(topic string, messageType string, data interface{}) error {
	msg := ZeroMQMessage{
		Type:      messageType,
		Timestamp: float64(time.Now().Unix()),
		Data:      data,
	}

	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return s.PublishMessage(topic, msgData)
}
