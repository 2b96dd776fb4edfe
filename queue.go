package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// QueueWait is the minimum gap between two identify releases. The gateway
// rejects sessions started faster than this.
const QueueWait = 7 * time.Second

// ErrQueueClosed is returned to waiters when the queue shuts down.
var ErrQueueClosed = errors.New("identify queue closed")

type queueRequest struct {
	shardID int

	// fire is closed when the slot is granted.
	fire chan struct{}

	// abandon is closed when the waiter gave up before being released.
	abandon chan struct{}

	// abort is closed through Ticket.Abort when the released caller
	// failed before the gateway saw an identify.
	abort chan struct{}
}

// Ticket is handed to a waiter when its identify slot is granted.
type Ticket struct {
	shardID int
	abort   chan struct{}
	once    sync.Once
}

// Abort returns the slot early. Callers use it when a connection attempt
// failed before identifying, so the next shard in line is not held for a
// session start that never happened.
func (t *Ticket) Abort() {
	t.once.Do(func() {
		close(t.abort)
	})
}

// IdentifyQueue serializes session starts across every shard this process
// owns. Shards are released strictly in the order they asked, one per
// QueueWait window.
type IdentifyQueue struct {
	requests chan *queueRequest
	done     chan struct{}
	once     sync.Once

	// wait is QueueWait outside of tests.
	wait time.Duration

	log zerolog.Logger
}

// NewIdentifyQueue creates a queue. The caller starts it with Run.
func NewIdentifyQueue(log zerolog.Logger) *IdentifyQueue {
	return &IdentifyQueue{
		requests: make(chan *queueRequest, BufferSize),
		done:     make(chan struct{}),
		wait:     QueueWait,
		log:      log,
	}
}

// Run dispenses identify slots until Close is called.
func (q *IdentifyQueue) Run() {
	q.log.Info().Msg("Initializing queue")

	for {
		select {
		case req := <-q.requests:
			q.log.Debug().Int("shard", req.shardID).Msg("Releasing shard from queue")

			select {
			case <-req.abandon:
				// The waiter left. Nothing identified, so the next
				// shard does not have to sit out the wait.
				q.log.Warn().Int("shard", req.shardID).Msg("Err sending release from queue")

				continue
			default:
			}

			close(req.fire)

			q.log.Debug().Msg("Sleeping")

			select {
			case <-time.After(q.wait):
			case <-req.abort:
				q.log.Debug().Int("shard", req.shardID).Msg("Identify slot returned early")
			case <-q.done:
				q.log.Info().Msg("Queue ended")

				return
			}
		case <-q.done:
			q.log.Info().Msg("Queue ended")

			return
		}
	}
}

// Up blocks until the queue grants this shard an identify slot.
func (q *IdentifyQueue) Up(ctx context.Context, shardID int) (*Ticket, error) {
	req := &queueRequest{
		shardID: shardID,
		fire:    make(chan struct{}),
		abandon: make(chan struct{}),
		abort:   make(chan struct{}),
	}

	q.log.Info().Int("shard", shardID).Msg("Enqueueing shard")

	enqueued := time.Now()

	select {
	case q.requests <- req:
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-req.fire:
		identifyWait.Observe(time.Since(enqueued).Seconds())
		q.log.Info().Int("shard", shardID).Msg("Released shard")

		return &Ticket{shardID: shardID, abort: req.abort}, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		close(req.abandon)

		return nil, ctx.Err()
	}
}

// Close stops the queue. Waiters receive ErrQueueClosed.
func (q *IdentifyQueue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
}
