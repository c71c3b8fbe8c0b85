package kvlite

import (
	"github.com/dd0wney/kvlite/internal/iter"
	"github.com/dd0wney/kvlite/internal/sstable"
)

// DBIterator walks the entire database in ascending key order, newest
// version of each key winning and tombstones filtered. Built on the same
// internal/iter.Merged heap-merge the range-scan and compaction paths
// use, fed by one Source per level-0 table (so overlapping level-0
// ranges still merge correctly) and one concatenated Source per
// compacted level (disjoint ranges within a level never need a heap).
type DBIterator struct {
	merged  *iter.Merged
	held    []*sstable.Reader
	key     []byte
	value   []byte
	err     error
	started bool
}

func newDBIterator(db *DB) (*DBIterator, error) {
	var sources []iter.Source
	var held []*sstable.Reader

	if mut := db.mutable.Load(); mut != nil {
		sources = append(sources, mut.NewFlushIterator())
	}
	if imm := db.immutable.Load(); imm != nil {
		sources = append(sources, imm.NewFlushIterator())
	}

	l0 := db.l0.AcquireAllNewestFirst()
	held = append(held, l0...)
	for _, r := range l0 {
		it, err := r.NewIterator()
		if err != nil {
			releaseAll(held)
			return nil, err
		}
		sources = append(sources, it)
	}

	for _, lv := range db.levels {
		readers := lv.AcquireAll()
		if len(readers) == 0 {
			continue
		}
		held = append(held, readers...)
		sources = append(sources, newConcatSource(readers))
	}

	merged, err := iter.NewMerged(sources)
	if err != nil {
		releaseAll(held)
		return nil, err
	}

	return &DBIterator{merged: merged, held: held}, nil
}

// Next advances the iterator, skipping tombstones, and reports whether a
// live key/value pair is now available.
func (it *DBIterator) Next() bool {
	it.started = true
	for {
		k, v, ok, err := it.merged.Next()
		if err != nil {
			it.err = err
			return false
		}
		if !ok {
			return false
		}
		if len(v) == 0 {
			continue // tombstone: filtered at this consumer boundary
		}
		it.key, it.value = k, v
		return true
	}
}

// Key and Value return the current pair. Valid only after Next returns
// true; the returned slices are only valid until the next call to Next.
func (it *DBIterator) Key() []byte   { return it.key }
func (it *DBIterator) Value() []byte { return it.value }

// Err returns the first error encountered while iterating, if any.
func (it *DBIterator) Err() error { return it.err }

// Close releases every SSTable reference the iterator acquired. Safe to
// call more than once.
func (it *DBIterator) Close() error {
	if it.held == nil {
		return nil
	}
	releaseAll(it.held)
	it.held = nil
	return nil
}
