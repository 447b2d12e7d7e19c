// Package store provides the single embedded key-value store backing
// tasks, locks, activities, positions, and trade records.
package store

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// Store wraps a pebble database with the Get/Set/Delete/ScanPrefix shape
// used by every package that needs durable state.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a pebble database at dir, tuned for a
// long-running single-process workload: generous block cache, modest
// memtable size, L0 compaction starting at two files, and a high L0
// write-stall threshold.
func Open(dir string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20),
		MemTableSize:                64 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       1000,
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Get reads the value stored at key. Returns ErrNotFound if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	out := make([]byte, len(val))
	copy(out, val)
	_ = closer.Close()
	return out, nil
}

// Exists reports whether key has a stored value.
func (s *Store) Exists(key []byte) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Set writes key=val durably (fsync'd). Use Batch for bulk non-critical
// writes where durability can be relaxed.
func (s *Store) Set(key, val []byte) error {
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key, if present. Deleting an absent key is not an error.
func (s *Store) Delete(key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// keyUpperBound returns the smallest key strictly greater than every key
// with the given prefix, for use as an iterator UpperBound.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff, unbounded
}

// ScanPrefix calls fn for every key/value pair whose key starts with
// prefix, in ascending key order. Iteration stops early if fn returns
// false.
func (s *Store) ScanPrefix(prefix []byte, fn func(key, val []byte) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("scan prefix %s: %w", prefix, err)
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		if !fn(append([]byte(nil), iter.Key()...), append([]byte(nil), iter.Value()...)) {
			break
		}
	}
	return iter.Error()
}

// ScanPrefixReverse is like ScanPrefix but visits keys in descending
// order, used for "most recent first" reads of append-only logs keyed
// with a monotonically increasing suffix.
func (s *Store) ScanPrefixReverse(prefix []byte, fn func(key, val []byte) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("scan prefix reverse %s: %w", prefix, err)
	}
	defer iter.Close()

	for valid := iter.Last(); valid; valid = iter.Prev() {
		if !fn(append([]byte(nil), iter.Key()...), append([]byte(nil), iter.Value()...)) {
			break
		}
	}
	return iter.Error()
}

// DeletePrefix removes every key with the given prefix. Used for cascade
// delete of a task's activities/positions/trade records.
func (s *Store) DeletePrefix(prefix []byte) error {
	var keys [][]byte
	if err := s.ScanPrefix(prefix, func(key, _ []byte) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		return err
	}
	b := s.NewBatch()
	for _, k := range keys {
		b.Delete(k)
	}
	return b.Commit()
}

// Batch groups multiple writes into one atomic commit.
type Batch struct {
	b *pebble.Batch
}

// NewBatch starts a new batch of writes against the store.
func (s *Store) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

// Set stages a write within the batch.
func (b *Batch) Set(key, val []byte) {
	_ = b.b.Set(key, val, nil)
}

// Delete stages a delete within the batch.
func (b *Batch) Delete(key []byte) {
	_ = b.b.Delete(key, nil)
}

// Commit applies every staged write atomically and durably.
func (b *Batch) Commit() error {
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return b.b.Close()
}

// CommitRelaxed is like Commit but does not fsync, for high-volume
// writes (e.g. trade records) where a lost write on crash is acceptable
// since the source activity has not yet transitioned to done-ok.
func (b *Batch) CommitRelaxed() error {
	if err := b.b.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return b.b.Close()
}
