package main

import (
	"encoding/binary"
	"errors"
)

// ErrRecordTooShort is returned when a record is too small to carry the
// shard id suffix.
var ErrRecordTooShort = errors.New("record shorter than its shard id suffix")

// EncodeRecord suffixes the payload with the shard id as two little endian
// bytes so consumers can demultiplex records without unwrapping them.
func EncodeRecord(payload []byte, shardID uint16) []byte {
	record := make([]byte, len(payload)+2)
	copy(record, payload)
	binary.LittleEndian.PutUint16(record[len(payload):], shardID)

	return record
}

// ParseRecord splits a record back into its payload and shard id.
func ParseRecord(record []byte) ([]byte, uint16, error) {
	if len(record) < 2 {
		return nil, 0, ErrRecordTooShort
	}

	split := len(record) - 2

	return record[:split], binary.LittleEndian.Uint16(record[split:]), nil
}
