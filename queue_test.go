package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(wait time.Duration) *IdentifyQueue {
	q := NewIdentifyQueue(zerolog.Nop())
	q.wait = wait

	return q
}

func TestQueueReleasesInOrder(t *testing.T) {
	q := newTestQueue(20 * time.Millisecond)
	defer q.Close()

	released := make(chan int, 3)

	// Enqueue before the queue starts so the arrival order is fixed.
	for i := 0; i < 3; i++ {
		shardID := i

		go func() {
			if _, err := q.Up(context.Background(), shardID); err == nil {
				released <- shardID
			}
		}()

		require.Eventually(t, func() bool {
			return len(q.requests) == shardID+1
		}, time.Second, time.Millisecond)
	}

	go q.Run()

	for want := 0; want < 3; want++ {
		select {
		case got := <-released:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("shard %d was never released", want)
		}
	}
}

func TestQueueSpacesReleases(t *testing.T) {
	q := newTestQueue(50 * time.Millisecond)
	defer q.Close()

	go q.Run()

	_, err := q.Up(context.Background(), 0)
	require.NoError(t, err)

	first := time.Now()

	_, err = q.Up(context.Background(), 1)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(first), 50*time.Millisecond)
}

func TestQueueAbortSkipsWait(t *testing.T) {
	q := newTestQueue(10 * time.Second)
	defer q.Close()

	go q.Run()

	ticket, err := q.Up(context.Background(), 0)
	require.NoError(t, err)

	ticket.Abort()

	start := time.Now()

	_, err = q.Up(context.Background(), 1)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
}

func TestQueueAbandonedWaiterSkipsWait(t *testing.T) {
	q := newTestQueue(10 * time.Second)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)

	go func() {
		_, err := q.Up(ctx, 0)
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return len(q.requests) == 1
	}, time.Second, time.Millisecond)

	cancel()

	require.ErrorIs(t, <-errs, context.Canceled)

	go q.Run()

	start := time.Now()

	_, err := q.Up(context.Background(), 1)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
}

func TestQueueCloseUnblocksWaiters(t *testing.T) {
	q := newTestQueue(10 * time.Second)

	go q.Run()

	_, err := q.Up(context.Background(), 0)
	require.NoError(t, err)

	errs := make(chan error, 1)

	// This waiter is stuck behind the full wait window.
	go func() {
		_, err := q.Up(context.Background(), 1)
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return len(q.requests) == 1
	}, time.Second, time.Millisecond)

	q.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not unblocked by Close")
	}
}

func TestTicketAbortIsIdempotent(t *testing.T) {
	q := newTestQueue(time.Millisecond)
	defer q.Close()

	go q.Run()

	ticket, err := q.Up(context.Background(), 0)
	require.NoError(t, err)

	ticket.Abort()
	ticket.Abort()
}
