package gateway

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// VERSION of sharder, following Semantic Versioning.
const VERSION = "0.1"

// APIVersion we will use from discord
const APIVersion = "8"

// EndpointDiscord denotes the base URL for all api requests
const EndpointDiscord = "https://discord.com/"

// EndpointAPI is the url subset for getting the actual API base url
const EndpointAPI = EndpointDiscord + "api/v" + APIVersion + "/"

// EndpointGatewayBot is the URL path for retrieving the recommended shards and gateway url
const EndpointGatewayBot = EndpointAPI + "gateway/bot"

// GatewayQuery selects the protocol version and encoding on the socket url.
const GatewayQuery = "?v=" + APIVersion + "&encoding=json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Gateway opcodes.
const (
	OpDispatch            = 0
	OpHeartbeat           = 1
	OpIdentify            = 2
	OpStatusUpdate        = 3
	OpVoiceStateUpdate    = 4
	OpResume              = 6
	OpReconnect           = 7
	OpRequestGuildMembers = 8
	OpInvalidSession      = 9
	OpHello               = 10
	OpHeartbeatACK        = 11
)

// Gateway close codes.
const (
	CloseUnknownError         = 4000
	CloseUnknownOpCode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimeout       = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// FailedHeartbeatAcks is the number of heartbeat intervals to wait until
// forcing a connection restart.
const FailedHeartbeatAcks = 5

// MaxFramePayload is the soft ceiling on an inbound frame. Frames above it
// surface a CapacityError instead of being forwarded.
const MaxFramePayload = 1 << 21

// Non-heartbeat sends run below the gateway's 120 per minute budget so
// heartbeats always have headroom.
const (
	sendBudget   = 115
	sendInterval = time.Minute
)

// messageChannelBuffer sets the inbound frame buffer per connection.
const messageChannelBuffer = 64

// IsFatalCloseCode reports whether a close code means re-identifying can
// never succeed and the shard should stop.
func IsFatalCloseCode(code int) bool {
	switch code {
	case CloseNotAuthenticated,
		CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return true
	}

	return false
}
