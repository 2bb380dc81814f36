package zeromq

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/open-teleop/rover-controller/domain/hazard"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
	"github.com/open-teleop/rover-controller/pkg/processing"
)

// HazardHandler receives every decoded hazard sample. It runs on the
// listener goroutine and must not block.
type HazardHandler func(sample hazard.Sample) error

// HazardListener subscribes to the hazard distance topic and pushes each
// sample straight to its handler. Nothing is queued: a slow handler only
// delays the next receive, and ZeroMQ drops what the subscriber cannot keep up with.
type HazardListener struct {
	service  *ZeroMQService
	address  string
	topic    string
	handler  HazardHandler
	registry *processing.TopicRegistry
	logger   customlog.Logger

	running  atomic.Bool
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewHazardListener attaches a SUB listener to the service. It connects
// when the service starts.
func (s *ZeroMQService) NewHazardListener(topic string, handler HazardHandler, registry *processing.TopicRegistry) *HazardListener {
	l := &HazardListener{
		service:  s,
		address:  s.config.HazardSubscribeAddress,
		topic:    topic,
		handler:  handler,
		registry: registry,
		logger:   s.logger.WithField("listener", "hazard"),
	}

	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()

	if s.running.Load() {
		if err := l.start(); err != nil {
			l.logger.Errorf("Hazard listener failed to start: %v", err)
		}
	}
	return l
}

// Received reports how many samples were handed to the handler.
func (l *HazardListener) Received() uint64 { return l.received.Load() }

// Dropped reports how many frames could not be decoded or were rejected.
func (l *HazardListener) Dropped() uint64 { return l.dropped.Load() }

func (l *HazardListener) start() error {
	if !l.running.CompareAndSwap(false, true) {
		return nil
	}

	socket, err := l.service.ctx.NewSocket(zmq4.SUB)
	if err != nil {
		l.running.Store(false)
		return fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if err := l.configure(socket); err != nil {
		socket.Close()
		l.running.Store(false)
		return err
	}

	l.service.wg.Add(1)
	go l.receiveLoop(socket)

	l.logger.Infof("Hazard listener connected to %s (topic %s)", l.address, l.topic)
	return nil
}

func (l *HazardListener) configure(socket *zmq4.Socket) error {
	if err := socket.SetLinger(0); err != nil {
		return fmt.Errorf("failed to set linger option: %w", err)
	}
	if ms := l.service.config.ReconnectIntervalMs; ms > 0 {
		if err := socket.SetReconnectIvl(time.Duration(ms) * time.Millisecond); err != nil {
			return fmt.Errorf("failed to set reconnect interval: %w", err)
		}
	}
	// Only the newest frame matters.
	if err := socket.SetRcvhwm(1); err != nil {
		return fmt.Errorf("failed to set receive high-water mark: %w", err)
	}
	if err := socket.SetSubscribe(l.topic); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", l.topic, err)
	}
	if err := socket.Connect(l.address); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", l.address, err)
	}
	return nil
}

func (l *HazardListener) stop() {
	l.running.Store(false)
}

func (l *HazardListener) receiveLoop(socket *zmq4.Socket) {
	defer l.service.wg.Done()
	defer socket.Close()

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	for l.running.Load() {
		sockets, err := poller.Poll(pollTimeout)
		if err != nil {
			if l.running.Load() {
				l.logger.Errorf("Error polling hazard socket: %v", err)
				time.Sleep(pollTimeout)
			}
			continue
		}
		if len(sockets) == 0 {
			continue
		}

		frames, err := socket.RecvMessageBytes(0)
		if err != nil {
			if l.running.Load() {
				l.logger.Warnf("Error receiving hazard frame: %v", err)
			}
			continue
		}
		l.handleFrames(frames, time.Now())
	}
	l.logger.Infof("Hazard listener stopped")
}

// handleFrames accepts [topic, payload] multipart messages as well as a
// bare payload frame.
func (l *HazardListener) handleFrames(frames [][]byte, now time.Time) {
	if len(frames) == 0 {
		return
	}
	payload := frames[len(frames)-1]

	topic, sample, err := DecodeHazard(payload, now)
	if err != nil {
		l.dropped.Add(1)
		l.logger.Warnf("Dropping hazard frame: %v", err)
		return
	}
	if topic == "" {
		topic = l.topic
	}
	if l.registry != nil {
		l.registry.UpdateTopicStats(topic, now.UnixNano())
	}

	if err := l.handler(sample); err != nil {
		l.dropped.Add(1)
		if !errors.Is(err, hazard.ErrInvalidSample) {
			l.logger.Warnf("Hazard handler rejected sample: %v", err)
		}
		return
	}
	l.received.Add(1)
}
