package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Shard is a single gateway websocket session. A shard is driven from the
// outside: the owner reads frames from Messages and feeds decoded events
// back through Process, which performs the protocol work (heartbeats,
// identify, resume, reconnect requests).
//
// One goroutine owns Messages and Process. Send and SessionID are safe to
// call concurrently with them.
type Shard struct {
	// Prevent other major Shard functions being called concurrently.
	sync.RWMutex

	// Authentication token
	Token string

	// Sharding
	ShardID    int
	ShardCount int

	// Stores the last HeartbeatAck that was received (in UTC)
	LastHeartbeatAck time.Time

	// Stores the last Heartbeat sent (in UTC)
	LastHeartbeatSent time.Time

	// The websocket connection.
	wsConn *websocket.Conn

	// When nil, no connection is established.
	listening chan interface{}

	// sequence tracks the current gateway api websocket sequence number
	sequence *int64

	// stores the gateway url being dialled
	gateway string

	// stores session ID of current gateway connection
	sessionID string

	// used to make sure gateway websocket writes do not happen concurrently
	wsMutex sync.Mutex

	// messages carries inbound frames for the current connection. The
	// reader closes it when the connection dies.
	messages chan Frame

	// errs surfaces read failures to the consumer.
	errs chan error

	// limiter paces non-heartbeat sends below the gateway budget.
	limiter *rate.Limiter

	// reconnectWait is the delay applied before the next reconnect attempt.
	reconnectWait time.Duration

	log zerolog.Logger
}

// NewShard creates a shard for id out of count using the given gateway url.
// Open must be called before the shard produces frames.
func NewShard(token string, shardID int, shardCount int, gatewayURL string, log zerolog.Logger) *Shard {
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}

	return &Shard{
		Token:            token,
		ShardID:          shardID,
		ShardCount:       shardCount,
		sequence:         new(int64),
		LastHeartbeatAck: time.Now().UTC(),
		gateway:          gatewayURL,
		errs:             make(chan error, 1),
		limiter:          rate.NewLimiter(rate.Every(sendInterval/sendBudget), sendBudget),
		log:              log,
	}
}

// Open dials the gateway and starts the reader. The protocol handshake is
// not performed here: the HELLO packet arrives through Messages and the
// owner drives identify or resume by passing it to Process.
func (s *Shard) Open(ctx context.Context) error {
	var err error

	s.Lock()
	defer s.Unlock()

	// If the websocket is already open, we should not reopen.
	if s.wsConn != nil {
		return ErrWSAlreadyOpen
	}

	// Stale errors from a previous connection must not leak into this one.
	select {
	case <-s.errs:
	default:
	}

	s.log.Info().Str("gateway", s.gateway).Msg("connecting to gateway")

	s.wsConn, _, err = websocket.DefaultDialer.DialContext(ctx, s.gateway, nil)
	if err != nil {
		s.log.Error().Err(err).Str("gateway", s.gateway).Msg("error connecting to gateway")
		s.wsConn = nil // remove ws just incase.
		return err
	}

	s.wsConn.SetCloseHandler(func(code int, text string) error {
		return nil
	})

	messages := make(chan Frame, messageChannelBuffer)
	wsConn := s.wsConn

	// Control frames never surface from ReadMessage, so forward them from
	// the handlers to keep the frame stream complete.
	wsConn.SetPingHandler(func(appData string) error {
		select {
		case messages <- Frame{Type: FramePing, Data: []byte(appData)}:
		default:
		}

		err := wsConn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if err != nil && err != websocket.ErrCloseSent {
			return err
		}

		return nil
	})
	wsConn.SetPongHandler(func(appData string) error {
		select {
		case messages <- Frame{Type: FramePong, Data: []byte(appData)}:
		default:
		}

		return nil
	})

	s.messages = messages
	s.listening = make(chan interface{})

	go s.feedWebsocket(wsConn, messages)

	return nil
}

// Messages returns the inbound frame stream of the current connection. The
// channel is closed when the connection dies; fetch it again after a
// reconnect.
func (s *Shard) Messages() <-chan Frame {
	s.RLock()
	defer s.RUnlock()

	return s.messages
}

// Errors surfaces connection failures. Consumers should drain it before
// waiting on Messages.
func (s *Shard) Errors() <-chan error {
	return s.errs
}

// feedWebsocket reads websocket messages and feeds them through a channel.
func (s *Shard) feedWebsocket(wsConn *websocket.Conn, messages chan Frame) {
	for {
		messageType, message, err := wsConn.ReadMessage()
		if err != nil {
			// Detect if we have been closed manually. If a Close() has
			// already happened, the websocket we are listening on will be
			// different to the current shard connection.
			s.RLock()
			sameConnection := s.wsConn == wsConn
			s.RUnlock()

			if sameConnection {
				select {
				case s.errs <- translateReadError(err):
				default:
				}
			}

			close(messages)

			return
		}

		if len(message) > MaxFramePayload {
			shardFramesOversized.WithLabelValues(shardLabel(s.ShardID)).Inc()
			select {
			case s.errs <- &CapacityError{Size: len(message)}:
			default:
			}

			continue
		}

		messages <- Frame{Type: FrameType(messageType), Data: message}
	}
}

// translateReadError maps a read failure onto the error taxonomy. Close
// frames pass through so their code and reason stay inspectable.
func translateReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) {
		return &ProtocolError{Reason: ReasonConnectionReset}
	}

	return &ProtocolError{Reason: err.Error()}
}

// Process performs the gateway protocol work for a decoded event. The owner
// must call it for every frame it reads, in order.
func (s *Shard) Process(e *Event) error {
	switch e.Operation {
	case OpHello:
		return s.onHello(e)

	case OpHeartbeat:
		// Must respond with a heartbeat packet within 5 seconds
		s.log.Debug().Msg("sending heartbeat in response to Op1")

		if err := s.writeJSON(Heartbeat{OpHeartbeat, atomic.LoadInt64(s.sequence)}); err != nil {
			s.log.Error().Err(err).Msg("error sending heartbeat in response to Op1")
			return err
		}

		return nil

	case OpReconnect:
		// Must disconnect so the owner moves us to a new gateway. The
		// session is kept so the next connection resumes.
		s.log.Debug().Msg("closing in response to Op7")

		return s.CloseWithCode(CloseUnknownError)

	case OpInvalidSession:
		var resumable InvalidSession
		if err := json.Unmarshal(e.RawData, &resumable); err != nil {
			resumable = false
		}

		s.log.Warn().Bool("resumable", bool(resumable)).Msg("gateway invalidated session")

		if !resumable {
			s.Lock()
			s.sessionID = ""
			s.Unlock()
			atomic.StoreInt64(s.sequence, 0)
		}

		return s.CloseWithCode(CloseUnknownError)

	case OpHeartbeatACK:
		s.Lock()
		s.LastHeartbeatAck = time.Now().UTC()
		latency := s.LastHeartbeatAck.Sub(s.LastHeartbeatSent)
		s.Unlock()

		s.log.Trace().Int("shard", s.ShardID).Dur("latency", latency).Msg("received heartbeat ack")
		shardHeartbeatLatency.WithLabelValues(shardLabel(s.ShardID)).Set(latency.Seconds())

		return nil

	case OpDispatch:
		// Store the message sequence
		atomic.StoreInt64(s.sequence, e.Sequence)

		return s.onDispatch(e)
	}

	// But we probably should be doing something with them.
	s.log.Warn().Int("op", e.Operation).Int64("seq", e.Sequence).Str("type", e.Type).Str("data", string(e.RawData)).Msg("unknown operation")

	return nil
}

// onHello starts the heartbeat loop and authenticates with either identify
// or resume depending on whether a session is held.
func (s *Shard) onHello(e *Event) error {
	var h Hello
	if err := json.Unmarshal(e.RawData, &h); err != nil {
		return fmt.Errorf("error unmarshalling Hello, %s", err)
	}

	s.log.Debug().Msg("Op 10 packet received from gateway")

	s.Lock()
	s.LastHeartbeatAck = time.Now().UTC()
	wsConn, listening := s.wsConn, s.listening
	sessionID := s.sessionID
	s.Unlock()

	if wsConn == nil {
		return ErrWSNotFound
	}

	go s.heartbeat(wsConn, listening, h.HeartbeatInterval*time.Millisecond)

	// We now have to either Resume or Identify.
	sequence := atomic.LoadInt64(s.sequence)
	if sessionID == "" && sequence == 0 {
		// Send Op 2 Identify Packet
		if err := s.identify(); err != nil {
			return fmt.Errorf("error sending identify packet to gateway, %s, %s", s.gateway, err)
		}

		shardIdentifies.WithLabelValues(shardLabel(s.ShardID)).Inc()
	} else {
		// Send Op 6 Resume Packet
		p := Resume{Op: OpResume}
		p.Data.Token = s.Token
		p.Data.SessionID = sessionID
		p.Data.Sequence = sequence

		s.log.Debug().Msg("sending resume packet to gateway")

		if err := s.writeJSON(p); err != nil {
			return fmt.Errorf("error sending gateway resume packet, %s, %s", s.gateway, err)
		}

		shardResumes.WithLabelValues(shardLabel(s.ShardID)).Inc()
	}

	return nil
}

func (s *Shard) onDispatch(e *Event) error {
	switch e.Type {
	case "READY":
		var ready Ready
		if err := json.Unmarshal(e.RawData, &ready); err != nil {
			return fmt.Errorf("error unmarshalling READY, %s", err)
		}

		s.Lock()
		s.sessionID = ready.SessionID
		s.Unlock()

		s.log.Info().Int("shard", s.ShardID).Msg("shard is ready")

	case "RESUMED":
		s.log.Info().Int("shard", s.ShardID).Msg("shard resumed session")
	}

	return nil
}

// heartbeat sends regular heartbeats to the gateway so it knows the client
// is still connected. Missing too many acks forces the connection closed so
// the owner reconnects.
func (s *Shard) heartbeat(wsConn *websocket.Conn, listening <-chan interface{}, interval time.Duration) {
	if listening == nil || wsConn == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sequence := atomic.LoadInt64(s.sequence)
		s.log.Debug().Int("shard", s.ShardID).Int64("seq", sequence).Msg("sending gateway websocket heartbeat")

		s.Lock()
		s.LastHeartbeatSent = time.Now().UTC()
		s.Unlock()

		s.wsMutex.Lock()
		err := wsConn.WriteJSON(Heartbeat{OpHeartbeat, sequence})
		s.wsMutex.Unlock()

		s.RLock()
		last := s.LastHeartbeatAck
		s.RUnlock()

		if err != nil || time.Now().UTC().Sub(last) > interval*FailedHeartbeatAcks {
			if err != nil {
				s.log.Error().Str("gateway", s.gateway).Err(err).Msg("error sending heartbeat to gateway")
			} else {
				s.log.Error().Dur("duration", time.Now().UTC().Sub(last)).Msg("haven't gotten heartbeat ACK, closing for reconnect")
			}

			s.Lock()
			if s.wsConn == wsConn {
				s.closeLocked(CloseUnknownError)
			}
			s.Unlock()

			return
		}

		select {
		case <-ticker.C:
			// continue loop and send heartbeat
		case <-listening:
			return
		}
	}
}

// identify sends the identify packet to the gateway
func (s *Shard) identify() error {
	properties := identifyProperties{
		runtime.GOOS,
		"sharder v" + VERSION,
		"sharder v" + VERSION,
	}

	data := identifyData{
		Token:          s.Token,
		Properties:     properties,
		LargeThreshold: 250,
		Compress:       false,
	}

	if s.ShardCount > 1 {
		if s.ShardID >= s.ShardCount {
			return ErrWSShardBounds
		}

		data.Shard = &[2]int{s.ShardID, s.ShardCount}
	}

	return s.writeJSON(Identify{OpIdentify, data})
}

func (s *Shard) writeJSON(v interface{}) error {
	s.RLock()
	wsConn := s.wsConn
	s.RUnlock()

	if wsConn == nil {
		return ErrWSNotFound
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	return wsConn.WriteJSON(v)
}

// Send delivers a frame to the gateway. It is safe for use concurrently
// with the frame pump and is paced below the gateway send budget.
func (s *Shard) Send(ctx context.Context, f Frame) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	s.RLock()
	wsConn := s.wsConn
	s.RUnlock()

	if wsConn == nil {
		return ErrWSNotFound
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	if f.Type == FrameClose {
		return wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.Code, f.Reason))
	}

	return wsConn.WriteMessage(int(f.Type), f.Data)
}

// SessionID returns the session of the current connection, or an empty
// string when the shard has not seen a READY yet.
func (s *Shard) SessionID() string {
	s.RLock()
	defer s.RUnlock()

	return s.sessionID
}

// Sequence returns the last dispatch sequence number seen.
func (s *Shard) Sequence() int64 {
	return atomic.LoadInt64(s.sequence)
}

// HeartbeatLatency retrieves the round trip time between ack and sending
func (s *Shard) HeartbeatLatency() time.Duration {
	s.RLock()
	defer s.RUnlock()

	return s.LastHeartbeatAck.Sub(s.LastHeartbeatSent)
}

// Autoreconnect tears down whatever connection remains and dials again,
// waiting out an exponential backoff after earlier failures. Whether the
// new connection resumes or identifies is decided when its HELLO is
// processed.
func (s *Shard) Autoreconnect(ctx context.Context) error {
	s.CloseWithCode(CloseUnknownError)

	s.Lock()
	wait := s.reconnectWait
	s.Unlock()

	if wait > 0 {
		s.log.Info().Int("shard", s.ShardID).Dur("wait", wait).Msg("waiting before reconnecting to gateway")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := s.Open(ctx)

	s.Lock()
	if err != nil {
		if wait < time.Second {
			wait = time.Second
		} else {
			wait *= 2
			if wait > 600*time.Second {
				wait = 600 * time.Second
			}
		}
		s.reconnectWait = wait
	} else {
		s.reconnectWait = 0
	}
	s.Unlock()

	if err == ErrWSAlreadyOpen {
		s.log.Info().Msg("websocket already exists, no need to reconnect")
		return nil
	}

	return err
}

// CloseWithCode closes the websocket with a status code and stops the
// heartbeat goroutine. Closing with a non-1000 code keeps the session
// resumable on the gateway side.
func (s *Shard) CloseWithCode(statusCode int) error {
	s.Lock()
	defer s.Unlock()

	s.closeLocked(statusCode)

	return nil
}

func (s *Shard) closeLocked(statusCode int) {
	if s.listening != nil {
		s.log.Debug().Msg("closing listening channel")
		close(s.listening)
		s.listening = nil
	}

	if s.wsConn != nil {
		s.log.Debug().Msg("sending close frame")

		s.wsMutex.Lock()
		err := s.wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(statusCode, ""))
		s.wsMutex.Unlock()

		if err != nil {
			s.log.Warn().Err(err).Msg("error closing websocket")
		}

		s.log.Debug().Msg("closing gateway websocket")

		if err = s.wsConn.Close(); err != nil {
			s.log.Warn().Err(err).Msg("error closing websocket")
		}
		s.wsConn = nil
	}
}

// Close closes the websocket and invalidates the session on the gateway.
func (s *Shard) Close() error {
	return s.CloseWithCode(websocket.CloseNormalClosure)
}
