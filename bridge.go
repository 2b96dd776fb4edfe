package main

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/scalebots/sharder/gateway"
)

// KeyToPrefix prefixes the per-shard command lists.
const KeyToPrefix = "sharder:to:"

// brokerClient is the slice of the redis client the sharder relies on.
type brokerClient interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// shardSender is the write half of a shard connection.
type shardSender interface {
	Send(ctx context.Context, f gateway.Frame) error
}

// runBridge pops commands destined for one shard off the broker and writes
// them to the gateway as binary frames. It only returns once the context
// ends; every other failure is logged and the loop keeps going.
func runBridge(ctx context.Context, broker brokerClient, sender shardSender, shardID int, log zerolog.Logger) {
	key := KeyToPrefix + strconv.Itoa(shardID)

	log.Debug().Str("key", key).Msg("Bridge started")

	for {
		reply, err := broker.BLPop(ctx, 0, key).Result()
		if err != nil {
			if ctx.Err() != nil {
				log.Debug().Msg("Bridge stopped")

				return
			}

			log.Warn().Err(err).Msg("Error popping command")

			continue
		}

		// BLPOP replies with the key it served and the value.
		if len(reply) != 2 {
			log.Warn().Int("elements", len(reply)).Msg("Malformed BLPOP reply")

			continue
		}

		if err := sender.Send(ctx, gateway.Frame{Type: gateway.FrameBinary, Data: []byte(reply[1])}); err != nil {
			log.Warn().Err(err).Msg("Error forwarding command to shard")

			continue
		}

		commandsForwarded.Inc()

		log.Trace().Int("bytes", len(reply[1])).Msg("Forwarded command to shard")
	}
}
