package gateway

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// ErrWSAlreadyOpen is thrown when you attempt to open
// a websocket that already is open.
var ErrWSAlreadyOpen = errors.New("web socket already opened")

// ErrWSNotFound is thrown when you attempt to use a websocket
// that doesn't exist
var ErrWSNotFound = errors.New("no websocket connection exists")

// ErrWSShardBounds is thrown when you try to use a shard ID that is
// not less than the total shard count
var ErrWSShardBounds = errors.New("ShardID must be less than ShardCount")

// ErrNoMessage is surfaced when the inbound stream ends without a close
// frame, usually because the reader goroutine died.
var ErrNoMessage = errors.New("message stream ended")

// ReasonConnectionReset is the protocol error raised when the peer drops
// the TCP connection without a closing handshake.
const ReasonConnectionReset = "Connection reset without closing handshake"

// CapacityError is returned when an inbound frame exceeds MaxFramePayload.
// The frame has already been discarded; the connection is still usable.
type CapacityError struct {
	Size int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("frame of %d bytes exceeds capacity", e.Size)
}

// ProtocolError is returned for websocket protocol violations that are not
// close frames.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// IsConnectionReset reports whether err is the protocol error for a peer
// dropping the connection without a closing handshake.
func IsConnectionReset(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Reason == ReasonConnectionReset
	}

	return false
}

// CloseCode extracts the close frame from err if the connection was closed
// by the peer.
func CloseCode(err error) (*websocket.CloseError, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce, true
	}

	return nil, false
}
