package gateway

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Event provides a basic initial struct for all websocket events.
type Event struct {
	Operation int                 `json:"op"`
	Sequence  int64               `json:"s"`
	Type      string              `json:"t"`
	RawData   jsoniter.RawMessage `json:"d"`
}

// Hello is the data sent for the Hello event.
type Hello struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

// Heartbeat is the packet sent to keep the session alive.
type Heartbeat struct {
	Op   int   `json:"op"`
	Data int64 `json:"d"`
}

// Identify is the packet sent when identifying.
type Identify struct {
	Op   int          `json:"op"`
	Data identifyData `json:"d"`
}

type identifyProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

type identifyData struct {
	Token          string             `json:"token"`
	Properties     identifyProperties `json:"properties"`
	LargeThreshold int                `json:"large_threshold"`
	Compress       bool               `json:"compress"`
	Shard          *[2]int            `json:"shard,omitempty"`
}

// Resume is the packet sent to continue an existing session.
type Resume struct {
	Op   int `json:"op"`
	Data struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id"`
		Sequence  int64  `json:"seq"`
	} `json:"d"`
}

// Ready stores the fields of the READY event the shard tracks.
type Ready struct {
	Version   int    `json:"v"`
	SessionID string `json:"session_id"`
}

// Resumed is the data for a Resumed event.
type Resumed struct {
	Trace []string `json:"_trace"`
}

// InvalidSession is the payload of an Op 9, indicating whether the dropped
// session can be resumed.
type InvalidSession bool

// GatewayBotResponse stores the data for the gateway/bot response
type GatewayBotResponse struct {
	URL          string        `json:"url"`
	Shards       int           `json:"shards"`
	SessionLimit SessionLimits `json:"session_start_limit"`
}

// SessionLimits stores data for the session_start_limit value of gateway response
type SessionLimits struct {
	Total          int           `json:"total"`
	Remaining      int           `json:"remaining"`
	ResetAfter     time.Duration `json:"reset_after"`
	MaxConcurrency int           `json:"max_concurrency"`
}

// TooManyRequests holds information received when hitting a HTTP 429.
type TooManyRequests struct {
	Bucket     string        `json:"bucket"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after"`
}
