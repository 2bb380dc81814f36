package zeromq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/open-teleop/rover-controller/domain/hazard"
	"github.com/open-teleop/rover-controller/domain/teleop"
	message "github.com/open-teleop/rover-controller/pkg/flatbuffers/open_teleop/message"
)

// Envelope is a decoded OttMessage.
type Envelope struct {
	Version     byte
	Topic       string
	ContentType message.ContentType
	Payload     []byte
	TimestampNs int64
}

// Vector3 defines a standard 3D vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// CommandMessage is the cmd_vel payload: a geometry_msgs/Twist plus the
// interlock context the command was produced under.
type CommandMessage struct {
	Linear   Vector3               `json:"linear"`
	Angular  Vector3               `json:"angular"`
	Override bool                  `json:"override"`
	Intent   teleop.VelocityIntent `json:"intent"`
}

// AlertMessage is a std_msgs/String payload.
type AlertMessage struct {
	Data string `json:"data"`
}

// hazardPayload accepts std_msgs/Float32 ({"data": x}) and the
// {"distance_m": x} form used by the ranging bridge.
type hazardPayload struct {
	Data      *float64 `json:"data"`
	DistanceM *float64 `json:"distance_m"`
}

// EncodeEnvelope wraps payload in an OttMessage flatbuffer.
func EncodeEnvelope(topic string, contentType message.ContentType, payload []byte, ts time.Time) []byte {
	builder := flatbuffers.NewBuilder(64 + len(topic) + len(payload))
	topicOffset := builder.CreateString(topic)
	payloadOffset := builder.CreateByteVector(payload)

	message.OttMessageStart(builder)
	message.OttMessageAddVersion(builder, 1)
	message.OttMessageAddOtt(builder, topicOffset)
	message.OttMessageAddContentType(builder, contentType)
	message.OttMessageAddPayload(builder, payloadOffset)
	message.OttMessageAddTimestampNs(builder, ts.UnixNano())
	message.FinishOttMessageBuffer(builder, message.OttMessageEnd(builder))

	return builder.FinishedBytes()
}

// DecodeEnvelope parses an OttMessage. Truncated or garbled buffers return
// ErrInvalidMessage instead of panicking.
func DecodeEnvelope(data []byte) (env Envelope, err error) {
	if len(data) < 8 {
		return Envelope{}, fmt.Errorf("%w: %d byte frame is too short for an OttMessage", ErrInvalidMessage, len(data))
	}
	defer func() {
		if r := recover(); r != nil {
			env = Envelope{}
			err = fmt.Errorf("%w: malformed OttMessage: %v", ErrInvalidMessage, r)
		}
	}()

	msg := message.GetRootAsOttMessage(data, 0)
	payload := msg.PayloadBytes()
	env = Envelope{
		Version:     msg.Version(),
		Topic:       string(msg.Ott()),
		ContentType: msg.ContentType(),
		Payload:     append([]byte(nil), payload...),
		TimestampNs: msg.TimestampNs(),
	}
	return env, nil
}

// EncodeCommand builds the cmd_vel frame for a gated intent.
func EncodeCommand(topic string, intent teleop.VelocityIntent, override bool, ts time.Time) ([]byte, error) {
	linearX, angularZ := intent.Twist()
	payload, err := json.Marshal(CommandMessage{
		Linear:   Vector3{X: linearX},
		Angular:  Vector3{Z: angularZ},
		Override: override,
		Intent:   intent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	return EncodeEnvelope(topic, message.ContentTypeJSON_COMMAND, payload, ts), nil
}

// DecodeCommand is the inverse of EncodeCommand, used by tools and tests.
func DecodeCommand(data []byte) (string, CommandMessage, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return "", CommandMessage{}, err
	}
	var cmd CommandMessage
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		return env.Topic, CommandMessage{}, fmt.Errorf("%w: command payload: %v", ErrInvalidMessage, err)
	}
	return env.Topic, cmd, nil
}

// EncodeAlert builds an emergency alert frame.
func EncodeAlert(topic, text string, ts time.Time) ([]byte, error) {
	payload, err := json.Marshal(AlertMessage{Data: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}
	return EncodeEnvelope(topic, message.ContentTypeJSON_SENSOR, payload, ts), nil
}

// EncodeHazard builds a hazard distance frame as published by the sensor
// bridge.
func EncodeHazard(topic string, distanceM float64, ts time.Time) []byte {
	payload, _ := json.Marshal(map[string]float64{"data": distanceM})
	return EncodeEnvelope(topic, message.ContentTypeJSON_SENSOR, payload, ts)
}

// DecodeHazard extracts a hazard sample from an OttMessage frame.
func DecodeHazard(data []byte, now time.Time) (string, hazard.Sample, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return "", hazard.Sample{}, err
	}
	sample, err := HazardFromEnvelope(env, now)
	return env.Topic, sample, err
}

// HazardFromEnvelope reads the distance from an envelope payload. JSON
// payloads carry {"data": x} or {"distance_m": x}; TEXT payloads carry the
// bare number. ReceivedAt is the local arrival time; range checks are left
// to hazard.Monitor.
func HazardFromEnvelope(env Envelope, now time.Time) (hazard.Sample, error) {
	var distance float64
	switch env.ContentType {
	case message.ContentTypeTEXT:
		v, err := strconv.ParseFloat(string(bytes.TrimSpace(env.Payload)), 64)
		if err != nil {
			return hazard.Sample{}, fmt.Errorf("%w: hazard text payload: %v", ErrInvalidMessage, err)
		}
		distance = v
	case message.ContentTypeJSON_SENSOR, message.ContentTypeJSON_COMMAND, message.ContentTypeUNKNOWN:
		var p hazardPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return hazard.Sample{}, fmt.Errorf("%w: hazard payload: %v", ErrInvalidMessage, err)
		}
		switch {
		case p.Data != nil:
			distance = *p.Data
		case p.DistanceM != nil:
			distance = *p.DistanceM
		default:
			return hazard.Sample{}, fmt.Errorf("%w: hazard payload has no distance", ErrInvalidMessage)
		}
	default:
		return hazard.Sample{}, fmt.Errorf("%w: unsupported hazard content type %s", ErrInvalidMessage, env.ContentType)
	}
	return hazard.Sample{DistanceM: distance, ReceivedAt: now}, nil
}
