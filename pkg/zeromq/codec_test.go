package zeromq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/rover-controller/domain/teleop"
	message "github.com/open-teleop/rover-controller/pkg/flatbuffers/open_teleop/message"
)

var codecEpoch = time.Date(2025, 4, 6, 17, 30, 0, 0, time.UTC)

func TestEncodeCommandScalesDirectionBySpeed(t *testing.T) {
	intent := teleop.VelocityIntent{Forward: 0.5, Turn: -0.5, Speed: 0.5}
	frame, err := EncodeCommand("teleop.control.cmd_vel", intent, true, codecEpoch)
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, "teleop.control.cmd_vel", env.Topic)
	assert.Equal(t, message.ContentTypeJSON_COMMAND, env.ContentType)
	assert.Equal(t, byte(1), env.Version)
	assert.Equal(t, codecEpoch.UnixNano(), env.TimestampNs)

	var raw map[string]map[string]float64
	require.NoError(t, json.Unmarshal(env.Payload, &raw))
	assert.Equal(t, 0.25, raw["linear"]["x"])
	assert.Equal(t, -0.25, raw["angular"]["z"])

	_, cmd, err := DecodeCommand(frame)
	require.NoError(t, err)
	assert.True(t, cmd.Override)
	assert.Equal(t, intent, cmd.Intent)
}

func TestDecodeHazardPayloadForms(t *testing.T) {
	now := codecEpoch.Add(time.Second)
	cases := []struct {
		name        string
		contentType message.ContentType
		payload     string
		want        float64
	}{
		{"std_msgs float32", message.ContentTypeJSON_SENSOR, `{"data": 4.0}`, 4.0},
		{"distance field", message.ContentTypeJSON_SENSOR, `{"distance_m": 2.75}`, 2.75},
		{"untyped json", message.ContentTypeUNKNOWN, `{"data": 12}`, 12},
		{"text", message.ContentTypeTEXT, " 3.5\n", 3.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := EncodeEnvelope("teleop.sensor.uwb_distance", tc.contentType, []byte(tc.payload), codecEpoch)
			topic, sample, err := DecodeHazard(frame, now)
			require.NoError(t, err)
			assert.Equal(t, "teleop.sensor.uwb_distance", topic)
			assert.Equal(t, tc.want, sample.DistanceM)
			assert.True(t, sample.ReceivedAt.Equal(now))
		})
	}
}

func TestDecodeHazardRejectsBadPayloads(t *testing.T) {
	cases := map[string][]byte{
		"no distance": EncodeEnvelope("t", message.ContentTypeJSON_SENSOR, []byte(`{"range": 1}`), codecEpoch),
		"not json":    EncodeEnvelope("t", message.ContentTypeJSON_SENSOR, []byte(`four`), codecEpoch),
		"bad text":    EncodeEnvelope("t", message.ContentTypeTEXT, []byte(`far`), codecEpoch),
		"cdr":         EncodeEnvelope("t", message.ContentTypeROS2_CDR, []byte{0, 1, 0, 0}, codecEpoch),
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeHazard(frame, codecEpoch)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestDecodeEnvelopeGarbageDoesNotPanic(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		{1, 2, 3},
		{0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0, 0, 0},
		[]byte(`{"type":"STATUS_REQUEST"}`),
	} {
		assert.NotPanics(t, func() {
			_, err := DecodeEnvelope(data)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestEncodeAlert(t *testing.T) {
	frame, err := EncodeAlert("teleop.alert.emergency", "EMERGENCY: hazard at 4.00m (threshold 5.00m)", codecEpoch)
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	var alert AlertMessage
	require.NoError(t, json.Unmarshal(env.Payload, &alert))
	assert.Equal(t, "EMERGENCY: hazard at 4.00m (threshold 5.00m)", alert.Data)
}
