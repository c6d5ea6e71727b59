// Package storage persists what the core emits for downstream sinks: the
// per-book L3 event records and periodic account checkpoints, in a pebble
// key-value store. Records are written msgpack-encoded; checkpoints are
// additionally available as JSON for external reporting.
package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/quarzvale/marketsim/pkg/types"
)

func encodeMsgpack(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func decodeMsgpack(b []byte, v any) error {
	return msgpack.Unmarshal(b, v)
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// keys: l3:<sim>:<book be32>:<seq be64>, cp:<sim>:<ts be64>
func kL3(simID string, bookID types.BookID, seq uint64) []byte {
	key := append([]byte("l3:"), simID...)
	key = append(key, ':')
	key = binary.BigEndian.AppendUint32(key, uint32(bookID))
	key = append(key, ':')
	return binary.BigEndian.AppendUint64(key, seq)
}

func kCheckpoint(simID string, ts types.Timestamp) []byte {
	key := append([]byte("cp:"), simID...)
	key = append(key, ':')
	return binary.BigEndian.AppendUint64(key, uint64(ts))
}
