package protocol

import (
	"bytes"
	"encoding/json"

	"gimbal-remote/internal/tpu"
)

// Message types
const (
	TypePing          = "ping"
	TypePong          = "pong"
	TypeStatus        = "status"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeICECandidate  = "ice_candidate"
	TypePTZCommand    = "ptz_command"
	TypePTZStop       = "ptz_stop"
	TypePTZCenter     = "ptz_center"
	TypeGimbalCommand = "gimbal_command"
	TypeGimbalReply   = "gimbal_reply"
	TypeError         = "error"
)

// Error codes
const (
	ErrGimbalDisconnected = "GIMBAL_DISCONNECTED"
	ErrUnsupported        = "UNSUPPORTED_COMMAND"
	ErrTransport          = "TRANSPORT_ERROR"
	ErrInvalidMessage     = "INVALID_MESSAGE"
	ErrVideo              = "VIDEO_ERROR"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload for status messages
type StatusPayload struct {
	ClientID        string `json:"client_id"`
	GimbalConnected bool   `json:"gimbal_connected"`
	SerialDevice    string `json:"serial_device,omitempty"`
	VideoEnabled    bool   `json:"video_enabled"`
	ControlProtocol string `json:"control_protocol"`
	VideoProtocol   string `json:"video_protocol,omitempty"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// PTZCommandPayload for joystick messages, each axis in -1..1
type PTZCommandPayload struct {
	Pan   float64 `json:"pan"`
	Tilt  float64 `json:"tilt"`
	Zoom  float64 `json:"zoom"`
	Focus float64 `json:"focus"`
}

// GimbalCommandPayload carries one raw gimbal command
type GimbalCommandPayload struct {
	ID     string     `json:"id,omitempty"` // echoed in the reply
	Family tpu.Family `json:"family"`
	Mode   string     `json:"mode"`
	Params tpu.Params `json:"params,omitempty"`
}

// Command converts the payload into a registry command.
func (p GimbalCommandPayload) Command() tpu.Command {
	return tpu.Command{Family: p.Family, Mode: p.Mode, Params: p.Params}
}

// GimbalReplyPayload reports a sent frame and the bytes read back. Reply
// holds the raw bytes as upper-case hex since they need not be UTF-8.
type GimbalReplyPayload struct {
	ID    string `json:"id,omitempty"`
	Frame string `json:"frame"`
	Reply string `json:"reply,omitempty"`
	Query bool   `json:"query"`
	Short bool   `json:"short,omitempty"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct. Numbers are
// kept as json.Number so that command parameters stay exact.
func (m *Message) ParsePayload(v any) error {
	dec := json.NewDecoder(bytes.NewReader(m.Payload))
	dec.UseNumber()
	return dec.Decode(v)
}
