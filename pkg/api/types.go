package api

import (
	"encoding/json"

	"github.com/open-teleop/rover-controller/domain/teleop"
)

// Control message types accepted on /ws/control.
const (
	MsgButtons   = "buttons"
	MsgSpeed     = "speed"
	MsgOverride  = "override"
	MsgThreshold = "threshold"
	MsgStop      = "stop"
	MsgGamepad   = "gamepad"
	MsgStatus    = "status"
	MsgError     = "error"
)

// ControlMessage is one operator message from the browser UI.
//
// buttons:   {"type":"buttons","buttons":{"forward":true,...}}
// gamepad:   {"type":"gamepad","axes":[0.1,-0.9],"buttons":[false,true]}
type ControlMessage struct {
	Type       string          `json:"type"`
	Buttons    json.RawMessage `json:"buttons,omitempty"`
	Speed      *float64        `json:"speed,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
	ThresholdM *float64        `json:"threshold_m,omitempty"`
	Axes       []float64       `json:"axes,omitempty"`
}

// ControlReply answers every control message with the resulting status.
type ControlReply struct {
	Type    string         `json:"type"`
	Session string         `json:"session"`
	Status  *teleop.Status `json:"status,omitempty"`
	Error   string         `json:"error,omitempty"`
}
