// Package memtable wraps a skip-list with the sequence-numbered composite
// key scheme that gives KVLite its snapshot isolation, plus a memory-usage
// counter used to trigger flush.
//
// Keys are ordered by user_key, then by sequence number ascending, so a
// lookup at a snapshot sequence can probe for the newest version not
// newer than that snapshot.
package memtable

import (
	"bytes"
	"sync/atomic"

	"github.com/dd0wney/kvlite/internal/arena"
	"github.com/dd0wney/kvlite/internal/skiplist"
)

// EncodeKey builds the composite (user_key, seq) key used internally by
// the skip-list. It is NOT a naive concatenation: the comparator below
// splits off the trailing 8-byte sequence number before comparing, so a
// user key that happens to be a byte-prefix of another user key still
// sorts correctly (the classic pitfall with raw key||seq concatenation).
func EncodeKey(userKey []byte, seq uint64) []byte {
	out := make([]byte, len(userKey)+8)
	copy(out, userKey)
	putBE64(out[len(userKey):], seq)
	return out
}

// DecodeKey splits a composite key back into its user key and sequence
// number.
func DecodeKey(composite []byte) (userKey []byte, seq uint64) {
	n := len(composite) - 8
	return composite[:n], getBE64(composite[n:])
}

func putBE64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getBE64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Comparator orders composite keys by user_key (bytewise) then by seq
// ascending.
func Comparator(a, b []byte) int {
	au, as := DecodeKey(a)
	bu, bs := DecodeKey(b)
	if c := bytes.Compare(au, bu); c != 0 {
		return c
	}
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// MemTable is an in-memory ordered table of composite (user_key, seq) to
// value, accepting concurrent writers (MrMw skip-list mode) while it is
// mutable.
type MemTable struct {
	list      *skiplist.SkipList
	arena     *arena.Arena
	usage     atomic.Int64
}

// New creates an empty, arena-backed MemTable.
func New() *MemTable {
	a := arena.New()
	return &MemTable{
		list:  skiplist.New(skiplist.MrMw, Comparator, a),
		arena: a,
	}
}

// Put inserts value for (userKey, seq). An empty value is a tombstone.
func (m *MemTable) Put(userKey []byte, seq uint64, value []byte) {
	key := EncodeKey(userKey, seq)
	m.list.Insert(key, value)
	m.usage.Add(int64(len(userKey) + len(value) + 16))
}

// Get returns the value visible for userKey at or before snapshotSeq (the
// greatest committed seq <= snapshotSeq), via a find-last-<= probe over
// the composite order.
func (m *MemTable) Get(userKey []byte, snapshotSeq uint64) (value []byte, found bool) {
	probe := EncodeKey(userKey, snapshotSeq)
	k, v, ok := m.list.FindLastLE(probe)
	if !ok {
		return nil, false
	}
	foundUser, _ := DecodeKey(k)
	if !bytes.Equal(foundUser, userKey) {
		return nil, false
	}
	return v, true
}

// MemoryUsage returns the approximate number of bytes the table has
// accumulated (monotonic; never decreases, since memtables are never
// partially compacted in place).
func (m *MemTable) MemoryUsage() int64 {
	return m.usage.Load()
}

// Len returns the number of stored (key, seq) versions, not distinct user
// keys.
func (m *MemTable) Len() int64 { return m.list.Len() }

// ForEach iterates every (userKey, seq, value) triple in composite-key
// order: ascending user key, and for equal user keys, ascending seq.
func (m *MemTable) ForEach(fn func(userKey []byte, seq uint64, value []byte)) {
	m.list.ForEach(func(key, value []byte) {
		userKey, seq := DecodeKey(key)
		fn(userKey, seq, value)
	})
}

// RangeGet collects the newest-visible value (at or before snapshotSeq)
// for every distinct user key in [lo, hi], calling fn once per key in
// ascending order. Tombstones (empty value) are still reported, so that a
// caller merging several memtables/levels can apply newest-wins shadowing
// uniformly: an empty value from a newer layer hides an older one.
func (m *MemTable) RangeGet(lo, hi []byte, snapshotSeq uint64, fn func(userKey, value []byte)) {
	loKey := EncodeKey(lo, 0)
	var lastUser []byte
	var lastVal []byte
	haveLast := false

	it := m.list.NewIterator()
	if !it.Seek(m.list, loKey) {
		return
	}
	for {
		k := it.Key()
		userKey, seq := DecodeKey(k)
		if bytes.Compare(userKey, hi) > 0 {
			break
		}
		if seq <= snapshotSeq {
			if haveLast && !bytes.Equal(lastUser, userKey) {
				fn(lastUser, lastVal)
			}
			lastUser, lastVal, haveLast = userKey, it.Value(), true
		}
		if !it.Next() {
			break
		}
	}
	if haveLast {
		fn(lastUser, lastVal)
	}
}

// FlushIterator walks the whole table in composite-key order, but yields
// only the newest (highest-seq) version of each distinct user key, the
// shape a level-0 flush needs, since an SSTable stores one plain user_key
// per record rather than the memtable's (user_key, seq) pairs.
type FlushIterator struct {
	it       *skiplist.Iterator
	list     *skiplist.SkipList
	valid    bool
	pendingK []byte
	pendingV []byte
}

// NewFlushIterator returns a dedup-to-newest streaming view of the table,
// implementing the same (key,value,ok,err) shape as internal/iter.Source.
func (m *MemTable) NewFlushIterator() *FlushIterator {
	it := m.list.NewIterator()
	fi := &FlushIterator{it: it, list: m.list, valid: it.Next()}
	return fi
}

// Next returns the next distinct user key and its newest value.
func (fi *FlushIterator) Next() (key, value []byte, ok bool, err error) {
	if !fi.valid {
		return nil, nil, false, nil
	}
	curUser, _ := DecodeKey(fi.it.Key())
	curVal := fi.it.Value()
	for {
		fi.valid = fi.it.Next()
		if !fi.valid {
			break
		}
		nextUser, _ := DecodeKey(fi.it.Key())
		if !bytes.Equal(nextUser, curUser) {
			break
		}
		curVal = fi.it.Value() // later seq for the same user key wins
	}
	return curUser, curVal, true, nil
}
