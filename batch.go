package kvlite

import "sync/atomic"

// Batch accumulates writes to commit together under one WAL group and one
// allocated sequence number, or to discard entirely.
type Batch struct {
	db     *DB
	keys   [][]byte
	values [][]byte
	closed atomic.Bool
}

// Set stages a write of value for key, visible to Get within this batch
// immediately but to the rest of the database only after Commit.
func (b *Batch) Set(key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
	return nil
}

// Remove stages a tombstone write for key.
func (b *Batch) Remove(key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	b.keys = append(b.keys, key)
	b.values = append(b.values, nil)
	return nil
}

// Get returns the most recently staged value for key within this batch,
// falling back to the database's current committed value if the batch
// hasn't touched key.
func (b *Batch) Get(key []byte) (value []byte, found bool, err error) {
	for i := len(b.keys) - 1; i >= 0; i-- {
		if bytesCompare(b.keys[i], key) == 0 {
			return tombstoneToNotFound(b.values[i])
		}
	}
	return b.db.Get(key)
}

// Commit appends every staged write as one atomic WAL group and merges it
// into the mutable memtable under a single sequence number.
func (b *Batch) Commit(opts WriteOptions) error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	defer b.db.aliveSeqNumCount.Add(-1)
	if len(b.keys) == 0 {
		return nil
	}
	return b.db.commit(opts, b.keys, b.values)
}

// Abort discards every staged write without touching the database.
func (b *Batch) Abort() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	b.db.aliveSeqNumCount.Add(-1)
	b.keys = nil
	b.values = nil
	return nil
}
