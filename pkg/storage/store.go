package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/quarzvale/marketsim/pkg/event"
	"github.com/quarzvale/marketsim/pkg/types"
)

// Store is the pebble-backed sink for L3 records and checkpoints.
type Store struct {
	db *pebble.DB

	// next L3 sequence per (sim, book), so repeated flushes append.
	seqs map[string]uint64
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db, seqs: make(map[string]uint64)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// AppendL3 writes one record entry under the next sequence number for
// the (simulation, book) stream.
func (s *Store) AppendL3(simID string, bookID types.BookID, entry event.Entry) error {
	val, err := encodeMsgpack(entry)
	if err != nil {
		return fmt.Errorf("encode L3 entry: %w", err)
	}
	streamKey := fmt.Sprintf("%s/%d", simID, bookID)
	seq := s.seqs[streamKey]
	if err := s.db.Set(kL3(simID, bookID, seq), val, pebble.NoSync); err != nil {
		return fmt.Errorf("write L3 entry: %w", err)
	}
	s.seqs[streamKey] = seq + 1
	return nil
}

// FlushRecord appends every entry of a record container and clears it.
func (s *Store) FlushRecord(simID string, records *event.RecordContainer) error {
	var firstErr error
	records.Each(func(bookID types.BookID, r *event.Record) {
		for _, entry := range r.Entries() {
			if err := s.AppendL3(simID, bookID, entry); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	if firstErr != nil {
		return firstErr
	}
	records.Clear()
	return s.db.Flush()
}

// WriteCheckpoint persists a checkpoint msgpack-encoded under the
// simulated time it was taken at.
func (s *Store) WriteCheckpoint(simID string, ts types.Timestamp, cp *Checkpoint) error {
	val, err := encodeMsgpack(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.db.Set(kCheckpoint(simID, ts), val, pebble.Sync); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpoint loads a checkpoint taken at ts.
func (s *Store) ReadCheckpoint(simID string, ts types.Timestamp) (*Checkpoint, error) {
	val, closer, err := s.db.Get(kCheckpoint(simID, ts))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var cp Checkpoint
	if err := decodeMsgpack(val, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}
