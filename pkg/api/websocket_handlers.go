package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"syscall"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/open-teleop/rover-controller/domain/teleop"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
)

// Operator is the part of the teleop service the control socket drives.
type Operator interface {
	SetButtons(b teleop.ButtonState)
	SetSpeed(speed float64)
	SetOverride(enabled bool)
	SetThreshold(thresholdM float64) error
	Stop()
	Status() teleop.Status
}

var _ Operator = (*teleop.TeleopService)(nil)

// ControlSession applies one WebSocket client's messages.
type ControlSession struct {
	ID       string
	operator Operator
	feed     *GamepadFeed
	logger   customlog.Logger
}

func NewControlSession(operator Operator, feed *GamepadFeed, logger customlog.Logger) *ControlSession {
	id := uuid.NewString()
	return &ControlSession{
		ID:       id,
		operator: operator,
		feed:     feed,
		logger:   logger.WithField("session", id),
	}
}

// Handle applies a raw text message and builds the reply.
func (s *ControlSession) Handle(raw []byte) ControlReply {
	if err := s.apply(raw); err != nil {
		return ControlReply{Type: MsgError, Session: s.ID, Error: err.Error()}
	}
	status := s.operator.Status()
	return ControlReply{Type: MsgStatus, Session: s.ID, Status: &status}
}

func (s *ControlSession) apply(raw []byte) error {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("malformed control message: %w", err)
	}

	switch msg.Type {
	case MsgStatus:
		return nil
	case MsgButtons:
		var b teleop.ButtonState
		if len(msg.Buttons) == 0 {
			return errors.New("buttons message without buttons")
		}
		if err := json.Unmarshal(msg.Buttons, &b); err != nil {
			return fmt.Errorf("malformed buttons: %w", err)
		}
		s.operator.SetButtons(b)
	case MsgSpeed:
		if msg.Speed == nil {
			return errors.New("missing field: speed")
		}
		s.operator.SetSpeed(*msg.Speed)
	case MsgOverride:
		if msg.Enabled == nil {
			return errors.New("missing field: enabled")
		}
		s.operator.SetOverride(*msg.Enabled)
	case MsgThreshold:
		if msg.ThresholdM == nil {
			return errors.New("missing field: threshold_m")
		}
		return s.operator.SetThreshold(*msg.ThresholdM)
	case MsgStop:
		s.operator.Stop()
	case MsgGamepad:
		return s.applyGamepad(msg)
	default:
		return fmt.Errorf("unknown control message type %q", msg.Type)
	}
	return nil
}

func (s *ControlSession) applyGamepad(msg ControlMessage) error {
	if s.feed == nil {
		return errors.New("browser gamepad input is disabled")
	}
	var pressed []bool
	if len(msg.Buttons) > 0 {
		if err := json.Unmarshal(msg.Buttons, &pressed); err != nil {
			return fmt.Errorf("malformed gamepad buttons: %w", err)
		}
	}
	var mask uint32
	for i, p := range pressed {
		if p && i < 32 {
			mask |= 1 << uint(i)
		}
	}
	if !s.feed.Update(s.ID, teleop.ControllerSample{Axes: msg.Axes, Buttons: mask}) {
		return errors.New("gamepad feed is owned by another session")
	}
	return nil
}

// Close releases anything the session holds.
func (s *ControlSession) Close() {
	if s.feed != nil {
		s.feed.Release(s.ID)
	}
}

// ControlWebSocketHandler handles incoming WebSocket messages for rover control.
func ControlWebSocketHandler(conn *websocket.Conn, operator Operator, feed *GamepadFeed, logger customlog.Logger) {
	session := NewControlSession(operator, feed, logger)
	defer session.Close()

	session.logger.Infof("Control WebSocket connected: %s", conn.RemoteAddr())
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				session.logger.Errorf("Control WS read error: %v", err)
			} else if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				session.logger.Infof("Control WS connection closed: %v", err)
			} else {
				session.logger.Infof("Control WS connection closed normally.")
			}
			break
		}

		if mt != websocket.TextMessage {
			session.logger.Infof("Ignoring non-text Control WS message type: %d", mt)
			continue
		}

		reply := session.Handle(msg)
		if reply.Type == MsgError {
			session.logger.Warnf("Rejected control message: %s", reply.Error)
		}
		if err := conn.WriteJSON(reply); err != nil {
			session.logger.Warnf("Control WS write failed: %v", err)
			break
		}
	}
	session.logger.Infof("Control WebSocket disconnected: %s", conn.RemoteAddr())
}

// RegisterControlWebSocket mounts /ws/control.
func RegisterControlWebSocket(app *fiber.App, operator Operator, feed *GamepadFeed, logger customlog.Logger) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/control", websocket.New(func(conn *websocket.Conn) {
		ControlWebSocketHandler(conn, operator, feed, logger)
	}))
	logger.Infof("Registered control WebSocket at /ws/control")
}
