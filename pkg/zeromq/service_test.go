package zeromq

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/rover-controller/domain/hazard"
	"github.com/open-teleop/rover-controller/pkg/config"
	message "github.com/open-teleop/rover-controller/pkg/flatbuffers/open_teleop/message"
	customlog "github.com/open-teleop/rover-controller/pkg/log"
)

func request(t *testing.T, msgType string) []byte {
	t.Helper()
	data, err := json.Marshal(ZeroMQMessage{Type: msgType, Timestamp: 1})
	require.NoError(t, err)
	return data
}

func decodeReply(t *testing.T, data []byte) ZeroMQMessage {
	t.Helper()
	var msg ZeroMQMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewMessageDispatcher(customlog.NewNopLogger())
	cfg := config.DefaultArbiterConfig()
	cfg.ConfigID = "rover-arbiter"

	d.RegisterHandler(MsgTypeConfigRequest, NewConfigHandler(func() *config.ArbiterConfig { return &cfg }, customlog.NewNopLogger()))
	d.RegisterHandler(MsgTypeStatusRequest, NewStatusHandler(func() interface{} {
		return map[string]string{"mode": "NORMAL"}
	}, customlog.NewNopLogger()))

	reply, err := d.Dispatch(request(t, MsgTypeStatusRequest))
	require.NoError(t, err)
	msg := decodeReply(t, reply)
	assert.Equal(t, MsgTypeStatusResponse, msg.Type)
	assert.Equal(t, map[string]interface{}{"mode": "NORMAL"}, msg.Data)

	reply, err = d.Dispatch(request(t, MsgTypeConfigRequest))
	require.NoError(t, err)
	msg = decodeReply(t, reply)
	assert.Equal(t, MsgTypeConfigResponse, msg.Type)
	assert.Equal(t, "rover-arbiter", msg.Data.(map[string]interface{})["config_id"])
}

func TestDispatcherUnknownType(t *testing.T) {
	d := NewMessageDispatcher(customlog.NewNopLogger())
	_, err := d.Dispatch(request(t, "TELEPORT_REQUEST"))
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	reply := decodeReply(t, errorResponse(err))
	assert.Equal(t, MsgTypeError, reply.Type)
	assert.Equal(t, float64(400), reply.Data.(map[string]interface{})["code"])
}

func TestDispatcherRoutesRawFramesByTopic(t *testing.T) {
	d := NewMessageDispatcher(customlog.NewNopLogger())
	var got []Envelope
	d.RegisterTopicHandler("teleop.sensor.uwb_distance", func(env Envelope) error {
		got = append(got, env)
		return nil
	})

	frame := EncodeHazard("teleop.sensor.uwb_distance", 3.25, codecEpoch)
	reply, err := d.Dispatch(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeAck, decodeReply(t, reply).Type)
	require.Len(t, got, 1)
	assert.Equal(t, message.ContentTypeJSON_SENSOR, got[0].ContentType)

	_, err = d.Dispatch(EncodeHazard("teleop.other", 1, codecEpoch))
	assert.ErrorIs(t, err, ErrUnknownTopic)

	_, err = d.Dispatch([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestHazardListenerHandleFrames(t *testing.T) {
	var samples []hazard.Sample
	reject := errors.New("monitor busy")
	var fail bool

	registry := newRegistry()
	l := &HazardListener{
		topic:    "teleop.sensor.uwb_distance",
		registry: registry,
		logger:   customlog.NewNopLogger(),
		handler: func(s hazard.Sample) error {
			if fail {
				return reject
			}
			samples = append(samples, s)
			return nil
		},
	}
	now := codecEpoch.Add(time.Minute)

	l.handleFrames([][]byte{
		[]byte("teleop.sensor.uwb_distance"),
		EncodeHazard("teleop.sensor.uwb_distance", 4.0, codecEpoch),
	}, now)
	l.handleFrames([][]byte{EncodeHazard("teleop.sensor.uwb_distance", 6.0, codecEpoch)}, now)
	l.handleFrames([][]byte{[]byte("garbage")}, now)
	fail = true
	l.handleFrames([][]byte{EncodeHazard("teleop.sensor.uwb_distance", 1.0, codecEpoch)}, now)

	require.Len(t, samples, 2)
	assert.Equal(t, 4.0, samples[0].DistanceM)
	assert.Equal(t, 6.0, samples[1].DistanceM)
	assert.True(t, samples[0].ReceivedAt.Equal(now))
	assert.Equal(t, uint64(2), l.Received())
	assert.Equal(t, uint64(2), l.Dropped())

	seen, ok := registry.LastSeen("teleop.sensor.uwb_distance")
	require.True(t, ok)
	assert.True(t, seen.Equal(now))
}
