package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/scalebots/sharder/gateway"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Supervisor phases, exported through the shard phase gauge.
const (
	phaseQueuing = iota
	phaseConnecting
	phaseRunning
	phaseResuming
)

// ShardConn is the surface the supervisor drives. *gateway.Shard implements
// it.
type ShardConn interface {
	shardSender

	Messages() <-chan gateway.Frame
	Errors() <-chan error
	Process(e *gateway.Event) error
	Autoreconnect(ctx context.Context) error
	SessionID() string
	Close() error
}

// ShardConnector builds the connection handle for a shard id.
type ShardConnector func(shardID int) ShardConn

// Supervisor owns a single shard for the lifetime of the process. It waits
// for an identify slot, connects, pumps frames into the broker and decides
// how each failure is recovered from.
type Supervisor struct {
	ShardID int

	queue    *IdentifyQueue
	producer *Producer
	broker   brokerClient
	status   *StatusPublisher
	connect  ShardConnector
	log      zerolog.Logger
}

// Run drives the shard until the context ends or the shard fails fatally.
func (s *Supervisor) Run(ctx context.Context) error {
	sh := s.connect(s.ShardID)
	defer sh.Close()

	if err := s.start(ctx, sh); err != nil {
		return err
	}

	// The bridge lives exactly as long as this supervisor.
	bridgeCtx, cancelBridge := context.WithCancel(ctx)
	defer cancelBridge()

	go runBridge(bridgeCtx, s.broker, sh, s.ShardID, s.log)

	s.setPhase(phaseRunning)

	for {
		f, err := s.readMessage(ctx, sh)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if err = s.recover(ctx, sh, err); err != nil {
				return err
			}

			continue
		}

		if f.IsControl() {
			continue
		}

		s.log.Trace().Msg("Received message")

		e := &gateway.Event{}

		switch f.Type {
		case gateway.FrameText:
			err = json.UnmarshalFromString(string(f.Data), e)
		default:
			err = json.Unmarshal(f.Data, e)
		}

		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to parse message")

			continue
		}

		s.log.Trace().Int("op", e.Operation).Str("type", e.Type).Msg("Shard processing event")

		if err = sh.Process(e); err != nil {
			if err = s.recover(ctx, sh, err); err != nil {
				return err
			}

			continue
		}

		switch e.Type {
		case "READY":
			s.status.ShardReady(s.ShardID)
		case "RESUMED":
			s.status.ShardResume(s.ShardID)
		}

		s.log.Trace().Msg("Pushing event to redis")

		s.producer.Publish(f.Data, uint16(s.ShardID))

		s.log.Trace().Msg("Message processing completed")
	}
}

// start acquires an identify slot and connects. A connect failure returns
// the unused slot and queues again, so one bad dial does not hold every
// other shard for the full wait.
func (s *Supervisor) start(ctx context.Context, sh ShardConn) error {
	for {
		s.setPhase(phaseQueuing)

		ticket, err := s.queue.Up(ctx, s.ShardID)
		if err != nil {
			return err
		}

		s.setPhase(phaseConnecting)

		if err = sh.Autoreconnect(ctx); err == nil {
			return nil
		}

		ticket.Abort()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.log.Warn().Err(err).Msg("Failed to connect, requeueing")
	}
}

// readMessage waits for the next frame, preferring pending errors so a
// close reason is never lost behind buffered frames.
func (s *Supervisor) readMessage(ctx context.Context, sh ShardConn) (gateway.Frame, error) {
	select {
	case err := <-sh.Errors():
		return gateway.Frame{}, err
	default:
	}

	select {
	case err := <-sh.Errors():
		return gateway.Frame{}, err
	case f, ok := <-sh.Messages():
		if !ok {
			return gateway.Frame{}, gateway.ErrNoMessage
		}

		return f, nil
	case <-ctx.Done():
		return gateway.Frame{}, ctx.Err()
	}
}

// recover classifies a shard error and either resumes, requeues or lets the
// loop carry on. The returned error is fatal for this shard.
func (s *Supervisor) recover(ctx context.Context, sh ShardConn, err error) error {
	if closeErr, ok := gateway.CloseCode(err); ok {
		s.log.Info().Int("code", closeErr.Code).Str("reason", closeErr.Text).Msg("Close")

		s.status.ShardDisconnect(s.ShardID, closeErr.Code)

		if gateway.IsFatalCloseCode(closeErr.Code) {
			return fmt.Errorf("shard closed with code %d: %s", closeErr.Code, closeErr.Text)
		}

		return s.restart(ctx, sh)
	}

	var capacityErr *gateway.CapacityError
	if errors.As(err, &capacityErr) {
		s.log.Warn().Int("size", capacityErr.Size).Msg("Frame exceeded capacity, skipping")

		return nil
	}

	if gateway.IsConnectionReset(err) {
		s.log.Warn().Msg(gateway.ReasonConnectionReset)

		s.status.ShardDisconnect(s.ShardID, 0)

		return s.restart(ctx, sh)
	}

	var protocolErr *gateway.ProtocolError
	if errors.As(err, &protocolErr) {
		s.log.Warn().Err(err).Msg("Protocol error")

		return nil
	}

	if errors.Is(err, gateway.ErrNoMessage) {
		s.log.Debug().Msg("Message stream ended")

		return s.restart(ctx, sh)
	}

	s.log.Warn().Err(err).Msg("Shard error")

	return nil
}

// restart brings a shard back after its session dropped. A live session is
// resumed straight away; a dead one waits in the identify queue first.
func (s *Supervisor) restart(ctx context.Context, sh ShardConn) error {
	if sh.SessionID() != "" {
		s.setPhase(phaseResuming)

		s.log.Info().Msg("Resuming session")

		if err := sh.Autoreconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			s.log.Warn().Err(err).Msg("Failed to reconnect for resume")

			return nil
		}

		s.setPhase(phaseRunning)

		return nil
	}

	s.setPhase(phaseQueuing)

	ticket, err := s.queue.Up(ctx, s.ShardID)
	if err != nil {
		return err
	}

	s.setPhase(phaseConnecting)

	if err = sh.Autoreconnect(ctx); err != nil {
		ticket.Abort()

		return err
	}

	s.setPhase(phaseRunning)

	return nil
}

func (s *Supervisor) setPhase(phase int) {
	shardPhase.WithLabelValues(strconv.Itoa(s.ShardID)).Set(float64(phase))
}
