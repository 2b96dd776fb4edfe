package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRecordAppendsShardID(t *testing.T) {
	record := EncodeRecord([]byte(`{"op":11}`), 2)

	require.Len(t, record, 11)
	assert.Equal(t, []byte(`{"op":11}`), record[:9])
	assert.Equal(t, byte(0x02), record[9])
	assert.Equal(t, byte(0x00), record[10])
}

func TestEncodeRecordEmptyPayload(t *testing.T) {
	record := EncodeRecord(nil, 515)

	assert.Equal(t, []byte{0x03, 0x02}, record)
}

func TestParseRecordRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"op":0,"s":3,"t":"MESSAGE_CREATE","d":{}}`),
		// Not valid UTF-8; the codec is byte-agnostic.
		{0xc3, 0x28, 0x00, 0xff},
	}

	for _, payload := range payloads {
		got, shardID, err := ParseRecord(EncodeRecord(payload, 41234))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		assert.Equal(t, uint16(41234), shardID)
	}
}

func TestParseRecordEmptyPayload(t *testing.T) {
	payload, shardID, err := ParseRecord([]byte{0xff, 0xff})
	require.NoError(t, err)
	assert.Empty(t, payload)
	assert.Equal(t, uint16(65535), shardID)
}

func TestParseRecordTooShort(t *testing.T) {
	_, _, err := ParseRecord([]byte{0x01})
	assert.ErrorIs(t, err, ErrRecordTooShort)

	_, _, err = ParseRecord(nil)
	assert.ErrorIs(t, err, ErrRecordTooShort)
}
