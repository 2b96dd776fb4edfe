package gateway

import "github.com/gorilla/websocket"

// FrameType tags a websocket frame with its opcode variant.
type FrameType int

// Frame variants, matching the websocket message types.
const (
	FrameBinary FrameType = websocket.BinaryMessage
	FrameText   FrameType = websocket.TextMessage
	FramePing   FrameType = websocket.PingMessage
	FramePong   FrameType = websocket.PongMessage
	FrameClose  FrameType = websocket.CloseMessage
)

// Frame is a single websocket message tagged with its variant. Close frames
// carry Code and Reason instead of Data.
type Frame struct {
	Type   FrameType
	Data   []byte
	Code   int
	Reason string
}

// IsControl reports whether the frame is a ping or pong, which carry no
// gateway payload.
func (f Frame) IsControl() bool {
	return f.Type == FramePing || f.Type == FramePong
}
