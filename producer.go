package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// KeyFrom is the list every shard event is published to.
const KeyFrom = "sharder:from"

// Producer fans shard events into the broker without ever blocking the
// shard pumps. Records wait in a bounded outbox; when it is full the
// newest record is dropped and counted.
type Producer struct {
	broker brokerClient
	outbox chan []byte
	log    zerolog.Logger
}

func NewProducer(broker brokerClient, log zerolog.Logger) *Producer {
	return &Producer{
		broker: broker,
		outbox: make(chan []byte, BufferSize),
		log:    log,
	}
}

// Publish queues a payload for delivery. It never blocks.
func (p *Producer) Publish(payload []byte, shardID uint16) {
	record := EncodeRecord(payload, shardID)

	select {
	case p.outbox <- record:
		outboxDepth.Set(float64(len(p.outbox)))
	default:
		eventsDropped.Inc()
		p.log.Warn().Int("shard", int(shardID)).Msg("Outbox full, dropping event")
	}
}

// Run drains the outbox to the broker until the context ends. Publishes
// are fire-and-forget: a failed push is logged and the record discarded.
func (p *Producer) Run(ctx context.Context) {
	for {
		select {
		case record := <-p.outbox:
			if err := p.broker.RPush(ctx, KeyFrom, record).Err(); err != nil {
				p.log.Warn().Err(err).Msg("Failed to publish event")

				continue
			}

			eventsPublished.Inc()
		case <-ctx.Done():
			return
		}
	}
}

// Len reports how many records are still waiting in the outbox. Shutdown
// uses it to give late events a chance to flush.
func (p *Producer) Len() int {
	return len(p.outbox)
}

// waitForDrain polls until the outbox is empty or the deadline passes.
func (p *Producer) waitForDrain(limit time.Duration) {
	start := time.Now()

	for p.Len() > 0 && time.Since(start) < limit {
		p.log.Info().Int("produce", p.Len()).Msg("Waiting for channels...")
		time.Sleep(time.Second)
	}
}
