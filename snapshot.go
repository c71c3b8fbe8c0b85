package kvlite

import "sync/atomic"

// Snapshot is a read-only, point-in-time view of a DB at the sequence
// number current when the snapshot was taken. Writes committed after the
// snapshot are invisible to it. SSTables below the memtable layer don't carry per-key
// sequence numbers, so a snapshot's view of already-flushed data is
// "as of its most recent flush" rather than a strict historical replay:
// an accepted simplification once data leaves the memtable (see
// DESIGN.md).
type Snapshot struct {
	db     *DB
	seq    uint64
	closed atomic.Bool
}

// Get returns the value visible for key as of the snapshot's sequence
// number.
func (s *Snapshot) Get(key []byte) (value []byte, found bool, err error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	return s.db.getAt(key, s.seq)
}

// RangeGet returns every live key in [lo, hi] as visible at the
// snapshot's sequence number.
func (s *Snapshot) RangeGet(lo, hi []byte) ([]KV, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if len(lo) == 0 || len(hi) == 0 {
		return nil, ErrKeyEmpty
	}
	if bytesCompare(lo, hi) > 0 {
		return nil, ErrInvalidRange
	}

	db := s.db
	seen := make(map[string]bool)
	var out []KV

	addFresh := func(key, value []byte) {
		ks := string(key)
		if seen[ks] {
			return
		}
		seen[ks] = true
		if len(value) == 0 {
			return
		}
		out = append(out, KV{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
	}
	addSeen := func(key, value []byte) {
		if len(value) == 0 {
			return
		}
		out = append(out, KV{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
	}

	if mut := db.mutable.Load(); mut != nil {
		mut.RangeGet(lo, hi, s.seq, addFresh)
	}
	if imm := db.immutable.Load(); imm != nil {
		imm.RangeGet(lo, hi, s.seq, addFresh)
	}
	if err := db.l0.RangeGet(lo, hi, seen, addSeen); err != nil {
		return nil, err
	}
	for _, lv := range db.levels {
		if err := lv.RangeGet(lo, hi, seen, addSeen); err != nil {
			return nil, err
		}
	}

	sortKVs(out)
	return out, nil
}

// Close releases the snapshot, allowing a deferred memtable freeze to
// proceed once every other outstanding snapshot/batch has also closed.
func (s *Snapshot) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.db.aliveSeqNumCount.Add(-1)
	return nil
}
