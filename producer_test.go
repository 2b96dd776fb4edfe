package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerPublishesFramedRecords(t *testing.T) {
	broker := newFakeBroker()
	p := NewProducer(broker, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	p.Publish([]byte(`{"op":0}`), 7)

	require.Eventually(t, func() bool {
		return len(broker.records(KeyFrom)) == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, append([]byte(`{"op":0}`), 0x07, 0x00), broker.records(KeyFrom)[0])
}

func TestProducerPreservesOrder(t *testing.T) {
	broker := newFakeBroker()
	p := NewProducer(broker, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	for i := 0; i < 10; i++ {
		p.Publish([]byte{byte(i)}, 1)
	}

	require.Eventually(t, func() bool {
		return len(broker.records(KeyFrom)) == 10
	}, time.Second, time.Millisecond)

	for i, record := range broker.records(KeyFrom) {
		payload, shardID, err := ParseRecord(record)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, payload)
		assert.Equal(t, uint16(1), shardID)
	}
}

func TestProducerDropsWhenOutboxFull(t *testing.T) {
	broker := newFakeBroker()
	p := NewProducer(broker, zerolog.Nop())

	// No drain running, so the outbox fills up.
	for i := 0; i < BufferSize+5; i++ {
		p.Publish([]byte("x"), 0)
	}

	assert.Equal(t, BufferSize, p.Len())
	assert.Empty(t, broker.records(KeyFrom))
}

func TestProducerSurvivesPushFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.setPushErr(errors.New("connection refused"))

	p := NewProducer(broker, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	p.Publish([]byte("lost"), 0)

	require.Eventually(t, func() bool {
		return p.Len() == 0
	}, time.Second, time.Millisecond)

	broker.setPushErr(nil)

	p.Publish([]byte("kept"), 0)

	require.Eventually(t, func() bool {
		return len(broker.records(KeyFrom)) == 1
	}, time.Second, time.Millisecond)

	payload, _, err := ParseRecord(broker.records(KeyFrom)[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), payload)
}
