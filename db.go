// Package kvlite is an embedded, persistent, ordered key-value store
// built on a log-structured merge tree: point get/set/remove, bounded
// range scans, snapshot reads, and batched commits, all backed by a
// write-ahead log and leveled SSTables.
//
// The engine proper lives in internal/* (skip-list memtables, the WAL,
// the SSTable format, the per-level managers, the compactor, and the
// merged iterator); this package wires those pieces into the public
// facade and its background workers.
package kvlite

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/kvlite/internal/lru"
	"github.com/dd0wney/kvlite/internal/manager"
	"github.com/dd0wney/kvlite/internal/memtable"
	"github.com/dd0wney/kvlite/internal/wal"
)

// KV is one key/value pair returned by RangeGet and the full-database
// Iterator.
type KV struct {
	Key   []byte
	Value []byte
}

// DB is a single open KVLite database. Safe for concurrent use by many
// goroutines.
type DB struct {
	opts Options

	cache  *lru.Cache
	wal    *wal.LSN
	l0     *manager.Level0
	levels []*manager.LevelN // levels[0] = level 1, ..., levels[MaxLevel-1] = level MaxLevel

	seq atomic.Uint64

	mutable       atomic.Pointer[memtable.MemTable]
	immutable     atomic.Pointer[memtable.MemTable]
	flushInFlight atomic.Bool

	// aliveSeqNumCount tracks open snapshots and in-progress batch
	// commits; a freeze is deferred while it is nonzero.
	aliveSeqNumCount atomic.Int64

	// commitMu's read side brackets the append-WAL+insert-memtable
	// sequence of a single write or batch commit; its write side is
	// held only while swapping the mutable/immutable memtables, so a
	// freeze never observes a half-committed write and a commit never
	// observes a memtable mid-swap.
	commitMu sync.RWMutex

	flushCh  chan struct{}
	closeCh  chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// Open opens (creating if necessary) a KVLite database at opts.Path,
// replaying its write-ahead log into a fresh mutable memtable and
// launching its background flush/compaction workers.
func Open(opts Options) (*DB, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("kvlite: invalid options: %w", err)
	}
	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, fmt.Errorf("kvlite: create db directory: %w", err)
	}

	cache := lru.New()

	l0, err := manager.NewLevel0(opts.Path, cache)
	if err != nil {
		return nil, fmt.Errorf("kvlite: open level 0: %w", err)
	}
	levels := make([]*manager.LevelN, manager.MaxLevel)
	for lvl := 1; lvl <= manager.MaxLevel; lvl++ {
		ln, err := manager.NewLevelN(opts.Path, lvl, cache)
		if err != nil {
			return nil, fmt.Errorf("kvlite: open level %d: %w", lvl, err)
		}
		levels[lvl-1] = ln
	}

	mut := memtable.New()
	var maxSeen uint64
	replay := func(seq uint64, key, value []byte) error {
		mut.Put(key, seq, value)
		if seq > maxSeen {
			maxSeen = seq
		}
		return nil
	}
	lsn, err := wal.OpenLSN(opts.Path, replay)
	if err != nil {
		return nil, fmt.Errorf("kvlite: open WAL: %w", err)
	}

	db := &DB{
		opts:    opts,
		cache:   cache,
		wal:     lsn,
		l0:      l0,
		levels:  levels,
		flushCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	db.mutable.Store(mut)
	db.seq.Store(maxSeen)

	db.wg.Add(1)
	go db.flushWorker()
	db.wg.Add(1)
	go db.l0CompactWorker()
	for lvl := 1; lvl < manager.MaxLevel; lvl++ {
		l := lvl
		db.wg.Add(1)
		go db.levelCompactWorker(l)
	}

	return db, nil
}

// Close stops every background worker, waits for in-flight work to
// finish, and closes the WAL. In-flight compactions and flushes run to
// completion; nothing is aborted mid-table.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(db.closeCh)
	db.wg.Wait()
	return db.wal.Close()
}

// Get returns the current value for key, or found=false if the key is
// absent or was last written as a tombstone.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	return db.getAt(key, db.seq.Load())
}

func (db *DB) getAt(key []byte, snapshotSeq uint64) (value []byte, found bool, err error) {
	if mut := db.mutable.Load(); mut != nil {
		if v, ok := mut.Get(key, snapshotSeq); ok {
			return tombstoneToNotFound(v)
		}
	}
	if imm := db.immutable.Load(); imm != nil {
		if v, ok := imm.Get(key, snapshotSeq); ok {
			return tombstoneToNotFound(v)
		}
	}
	if v, ok, err := db.l0.Get(key); err != nil {
		return nil, false, fmt.Errorf("kvlite: get from level 0: %w", err)
	} else if ok {
		return tombstoneToNotFound(v)
	}
	for i, lv := range db.levels {
		v, ok, err := lv.Get(key)
		if err != nil {
			return nil, false, fmt.Errorf("kvlite: get from level %d: %w", i+1, err)
		}
		if ok {
			return tombstoneToNotFound(v)
		}
	}
	return nil, false, nil
}

func tombstoneToNotFound(v []byte) ([]byte, bool, error) {
	if len(v) == 0 {
		return nil, false, nil
	}
	return v, true, nil
}

// Set writes value for key, durable per opts.Sync. An empty value is
// indistinguishable from a tombstone on subsequent reads; callers that
// need to store an empty payload should reserve a sentinel byte.
func (db *DB) Set(opts WriteOptions, key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	return db.commit(opts, [][]byte{key}, [][]byte{value})
}

// Remove deletes key by writing a tombstone.
func (db *DB) Remove(opts WriteOptions, key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	return db.commit(opts, [][]byte{key}, [][]byte{nil})
}

// RangeGet returns every live (non-tombstone) key in [lo, hi], in ascending
// key order, as visible at the current sequence number. Newer sources
// shadow older ones: mutable memtable, then immutable memtable, then
// level 0, then levels 1..MaxLevel.
func (db *DB) RangeGet(lo, hi []byte) ([]KV, error) {
	if len(lo) == 0 || len(hi) == 0 {
		return nil, ErrKeyEmpty
	}
	if bytesCompare(lo, hi) > 0 {
		return nil, ErrInvalidRange
	}

	seen := make(map[string]bool)
	var out []KV

	addFresh := func(key, value []byte) {
		ks := string(key)
		if seen[ks] {
			return
		}
		seen[ks] = true
		if len(value) == 0 {
			return // tombstone: shadows older layers, never emitted itself
		}
		out = append(out, KV{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
	}
	// addSeen is used for sources whose own RangeGet already consults and
	// marks `seen` before invoking the callback (level 0 and level N);
	// re-checking here would wrongly skip every key (it's always already
	// marked by the time the callback runs).
	addSeen := func(key, value []byte) {
		if len(value) == 0 {
			return
		}
		out = append(out, KV{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
	}

	snapshotSeq := db.seq.Load()
	if mut := db.mutable.Load(); mut != nil {
		mut.RangeGet(lo, hi, snapshotSeq, addFresh)
	}
	if imm := db.immutable.Load(); imm != nil {
		imm.RangeGet(lo, hi, snapshotSeq, addFresh)
	}
	if err := db.l0.RangeGet(lo, hi, seen, addSeen); err != nil {
		return nil, fmt.Errorf("kvlite: range scan level 0: %w", err)
	}
	for i, lv := range db.levels {
		if err := lv.RangeGet(lo, hi, seen, addSeen); err != nil {
			return nil, fmt.Errorf("kvlite: range scan level %d: %w", i+1, err)
		}
	}

	sortKVs(out)
	return out, nil
}

// Snapshot pins the database at its current sequence number, deferring
// any memtable freeze until every outstanding snapshot is closed. The
// returned Snapshot must be Closed.
func (db *DB) Snapshot() *Snapshot {
	db.aliveSeqNumCount.Add(1)
	return &Snapshot{db: db, seq: db.seq.Load()}
}

// WriteBatch starts a batch of writes committed atomically under one WAL
// group and one allocated sequence number.
func (db *DB) WriteBatch() *Batch {
	db.aliveSeqNumCount.Add(1)
	return &Batch{db: db}
}

// Iterator returns a full-database scan over every live key in ascending
// order, newest version wins, tombstones filtered. The returned iterator
// must be Closed to release its SSTable references.
func (db *DB) Iterator() (*DBIterator, error) {
	return newDBIterator(db)
}

// commit appends one WAL group under a freshly-allocated sequence
// number and merges it into the mutable memtable, then triggers a
// freeze if the memtable has grown past its threshold.
func (db *DB) commit(opts WriteOptions, keys, values [][]byte) error {
	db.commitMu.RLock()
	seq := db.seq.Add(1)
	err := db.wal.AppendGroup(wal.Options{Sync: opts.Sync}, seq, keys, values)
	var mut *memtable.MemTable
	if err == nil {
		mut = db.mutable.Load()
		for i := range keys {
			mut.Put(keys[i], seq, values[i])
		}
	}
	db.commitMu.RUnlock()
	if err != nil {
		return fmt.Errorf("kvlite: append WAL: %w", err)
	}

	db.maybeFreeze(mut)
	return nil
}

// maybeFreeze swaps the mutable memtable out for an empty one and
// publishes the old one as immutable once it has crossed
// opts.WriteBufferSize, provided no flush is already in flight and no
// snapshot/batch is mid-commit.
func (db *DB) maybeFreeze(mut *memtable.MemTable) {
	if mut == nil || mut.MemoryUsage() < db.opts.WriteBufferSize {
		return
	}
	if !db.flushInFlight.CompareAndSwap(false, true) {
		return
	}
	if db.aliveSeqNumCount.Load() > 0 {
		db.flushInFlight.Store(false)
		return
	}

	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	if db.mutable.Load() != mut {
		// Another goroutine already froze this memtable.
		db.flushInFlight.Store(false)
		return
	}
	if err := db.wal.FreezeMutLog(); err != nil {
		manager.LogBackgroundError("freeze WAL", err)
		db.flushInFlight.Store(false)
		return
	}
	db.mutable.Store(memtable.New())
	db.immutable.Store(mut)

	select {
	case db.flushCh <- struct{}{}:
	default:
	}
}
