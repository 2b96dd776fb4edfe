package main

import (
	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack"
)

// StreamEvent provides the struct for events that are sent over STAN/NATS
type StreamEvent struct {
	Type string      `msgpack:"i"`
	Data interface{} `msgpack:"d"`
}

// ShardOp identifies which shard a lifecycle event refers to.
type ShardOp struct {
	ShardID int `msgpack:"shard_id"`
}

// ShardDisconnectOp is the payload for SHARD_DISCONNECT
type ShardDisconnectOp struct {
	ShardID    int `msgpack:"shard_id"`
	StatusCode int `msgpack:"status"`
}

// StatusPublisher relays shard lifecycle events to consumers over STAN.
// A nil publisher discards everything so deployments without a NATS
// cluster can run without one.
type StatusPublisher struct {
	natsClient *nats.Conn
	stanClient stan.Conn
	channel    string
	log        zerolog.Logger
}

func NewStatusPublisher(address, clusterID, clientID, channel string, log zerolog.Logger) (*StatusPublisher, error) {
	natsClient, err := nats.Connect(address)
	if err != nil {
		return nil, err
	}

	stanClient, err := stan.Connect(clusterID, clientID, stan.NatsConn(natsClient))
	if err != nil {
		natsClient.Close()

		return nil, err
	}

	return &StatusPublisher{
		natsClient: natsClient,
		stanClient: stanClient,
		channel:    channel,
		log:        log,
	}, nil
}

// Publish marshals and sends a single stream event. The status stream is
// best effort so failures are logged and swallowed.
func (p *StatusPublisher) Publish(eventType string, data interface{}) {
	if p == nil {
		return
	}

	ep, err := msgpack.Marshal(StreamEvent{Type: eventType, Data: data})
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to marshal stream event")

		return
	}

	if err = p.stanClient.Publish(p.channel, ep); err != nil {
		p.log.Warn().Err(err).Msg("failed to publish stream event")
	}
}

func (p *StatusPublisher) ShardReady(shardID int) {
	p.Publish("SHARD_READY", ShardOp{ShardID: shardID})
}

func (p *StatusPublisher) ShardResume(shardID int) {
	p.Publish("SHARD_RESUME", ShardOp{ShardID: shardID})
}

func (p *StatusPublisher) ShardDisconnect(shardID, statusCode int) {
	p.Publish("SHARD_DISCONNECT", ShardDisconnectOp{ShardID: shardID, StatusCode: statusCode})
}

func (p *StatusPublisher) Close() {
	if p == nil {
		return
	}

	if err := p.stanClient.Close(); err != nil {
		p.log.Warn().Err(err).Msg("failed to close stan client")
	}

	p.natsClient.Close()
}
