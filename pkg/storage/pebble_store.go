// Package storage provides the durable byte store snapshots are
// persisted to: a cockroachdb/pebble database holding the engine's
// snapshot as one flat blob under a single key, synced on every
// write.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

var snapshotKey = []byte("snapshot")

// PebbleSnapshotStore persists the engine's full snapshot blob
// (header + CBOR body, see pkg/engine/snapshot) as a single key in a
// pebble database, syncing every write so a crash never loses an
// acknowledged snapshot.
type PebbleSnapshotStore struct {
	db  *pebble.DB
	buf []byte
}

// OpenPebbleSnapshotStore opens (creating if absent) a pebble database
// at dir and loads any previously persisted snapshot blob into memory.
func OpenPebbleSnapshotStore(dir string) (*PebbleSnapshotStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble at %s: %w", dir, err)
	}
	s := &PebbleSnapshotStore{db: db}
	val, closer, err := db.Get(snapshotKey)
	if err == nil {
		s.buf = append([]byte(nil), val...)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		db.Close()
		return nil, fmt.Errorf("storage: loading existing snapshot: %w", err)
	}
	return s, nil
}

// Close releases the underlying pebble handle.
func (s *PebbleSnapshotStore) Close() error { return s.db.Close() }

// Size implements pkg/engine/snapshot.Memory.
func (s *PebbleSnapshotStore) Size() int64 { return int64(len(s.buf)) }

// Grow implements pkg/engine/snapshot.Memory.
func (s *PebbleSnapshotStore) Grow(toSize int64) error {
	if toSize <= int64(len(s.buf)) {
		return nil
	}
	grown := make([]byte, toSize)
	copy(grown, s.buf)
	s.buf = grown
	return nil
}

// ReadAt implements pkg/engine/snapshot.Memory.
func (s *PebbleSnapshotStore) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(s.buf)) {
		return 0, fmt.Errorf("storage: read out of range at %d, size %d", off, len(s.buf))
	}
	return copy(p, s.buf[off:]), nil
}

// WriteAt implements pkg/engine/snapshot.Memory. Every write flushes the
// whole in-memory buffer to pebble with Sync so the store is durable
// across process restarts at the granularity of one snapshot write.
func (s *PebbleSnapshotStore) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(s.buf)) {
		if err := s.Grow(off + int64(len(p))); err != nil {
			return 0, err
		}
	}
	n := copy(s.buf[off:], p)
	if err := s.db.Set(snapshotKey, s.buf, pebble.Sync); err != nil {
		return 0, fmt.Errorf("storage: persist snapshot: %w", err)
	}
	return n, nil
}
