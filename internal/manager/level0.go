// Package manager implements the level-0 and level-N SSTable managers:
// per-level ordered indexes of read handles, overlap queries, and the
// flush/compaction trigger logic. Level 0 keys its index by table id
// (insertion order is recency); levels 1 and up key by (max_key, id),
// which makes overlap scans a range walk. Compaction workers are
// signalled by non-blocking sends on per-level channels.
package manager

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/kvlite/internal/lru"
	"github.com/dd0wney/kvlite/internal/sstable"
)

// L0FilesThreshold triggers compaction once level 0 holds more than this
// many tables.
const L0FilesThreshold = 4

// NumLevel0TableToCompact bounds how many L0 tables one compaction pass
// consumes at once.
const NumLevel0TableToCompact = 4

// level0SizeBound triggers compaction on total level-0 bytes even when the
// table count is still under L0FilesThreshold (a few oversized flushes can
// bloat the level before the count trips).
const level0SizeBound = 32 << 20

// Level0 holds SSTable handles for level 0, ordered by table_id (insertion
// order == recency, since ids are assigned from a monotonic counter).
type Level0 struct {
	mu      sync.RWMutex
	handles map[uint64]*sstable.Reader
	order   []uint64 // ascending table id == ascending age

	nextID atomic.Uint64
	cache  *lru.Cache
	dbPath string

	CompactCh chan struct{}
}

// NewLevel0 opens every existing level-0 table found under dbPath/0, in
// increasing id order, ignoring files whose name doesn't parse as a
// base-10 id and deleting any "_write" temp files left behind by a crash
// mid-flush.
func NewLevel0(dbPath string, cache *lru.Cache) (*Level0, error) {
	l := &Level0{
		handles:   make(map[uint64]*sstable.Reader),
		cache:     cache,
		dbPath:    dbPath,
		CompactCh: make(chan struct{}, 1),
	}
	dir := filepath.Join(dbPath, "0")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create level-0 directory: %w", err)
	}

	ids, err := scanLevelDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		r, err := sstable.Open(filepath.Join(dir, fmt.Sprintf("%d", id)), 0, id, cache)
		if err != nil {
			return nil, fmt.Errorf("open level-0 table %d: %w", id, err)
		}
		l.handles[id] = r
		l.order = append(l.order, id)
		if id >= l.nextID.Load() {
			l.nextID.Store(id + 1)
		}
	}
	return l, nil
}

func scanLevelDir(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read level directory %s: %w", dir, err)
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > 6 && name[len(name)-6:] == "_write" {
			os.Remove(filepath.Join(dir, name))
			continue
		}
		var id uint64
		if _, err := fmt.Sscanf(name, "%d", &id); err != nil {
			continue // not a table file; ignore
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NextID allocates the next level-0 table id.
func (l *Level0) NextID() uint64 { return l.nextID.Add(1) - 1 }

// Insert adds a freshly-flushed table to the index and signals the
// compaction worker if the level is now over its table-count threshold or
// its byte bound.
func (l *Level0) Insert(r *sstable.Reader) {
	l.mu.Lock()
	l.handles[r.ID()] = r
	l.order = append(l.order, r.ID())
	count := len(l.order)
	size := l.totalSizeLocked()
	l.mu.Unlock()

	if count > L0FilesThreshold || size > level0SizeBound {
		select {
		case l.CompactCh <- struct{}{}:
		default:
		}
	}
}

func (l *Level0) totalSizeLocked() int64 {
	var total int64
	for _, r := range l.handles {
		if fi, err := os.Stat(r.Path()); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// Get queries every level-0 table newest-first, stopping
// at the first hit (which may be a tombstone).
func (l *Level0) Get(key []byte) (value []byte, found bool, err error) {
	handles := l.AcquireAllNewestFirst()
	defer func() {
		for _, r := range handles {
			r.Release()
		}
	}()

	for _, r := range handles {
		v, ok, e := r.Get(key)
		if e != nil {
			return nil, false, e
		}
		if ok {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// RangeGet visits every level-0 table newest-first, calling fn once per
// key the first time it's seen (insert-if-absent semantics give
// newest-wins across tables).
func (l *Level0) RangeGet(lo, hi []byte, seen map[string]bool, fn func(key, value []byte)) error {
	handles := l.AcquireAllNewestFirst()
	defer func() {
		for _, r := range handles {
			r.Release()
		}
	}()

	for _, r := range handles {
		if bytes.Compare(r.MaxKey(), lo) < 0 || bytes.Compare(r.MinKey(), hi) > 0 {
			continue
		}
		it, err := r.NewIterator()
		if err != nil {
			return err
		}
		for {
			k, v, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if bytes.Compare(k, lo) < 0 || bytes.Compare(k, hi) > 0 {
				continue
			}
			ks := string(k)
			if seen[ks] {
				continue
			}
			seen[ks] = true
			fn(k, v)
		}
	}
	return nil
}

// SelectForCompaction takes up to NumLevel0TableToCompact tables by
// CAS-flipping each to Compacting, returning the batch in oldest-first
// order plus the batch's combined key range.
func (l *Level0) SelectForCompaction() (batch []*sstable.Reader, minKey, maxKey []byte) {
	l.mu.RLock()
	order := append([]uint64(nil), l.order...)
	l.mu.RUnlock()

	for _, id := range order {
		l.mu.RLock()
		r := l.handles[id]
		l.mu.RUnlock()
		if r == nil || !r.TryMarkCompacting() {
			continue
		}
		batch = append(batch, r)
		if minKey == nil || bytes.Compare(r.MinKey(), minKey) < 0 {
			minKey = r.MinKey()
		}
		if maxKey == nil || bytes.Compare(r.MaxKey(), maxKey) > 0 {
			maxKey = r.MaxKey()
		}
		if len(batch) >= NumLevel0TableToCompact {
			break
		}
	}
	return batch, minKey, maxKey
}

// Remove drops handles from the index (used once a compaction pass has
// consumed them), marks them ToDelete and releases the index's own
// reference; each file is unlinked when its last reader releases it.
func (l *Level0) Remove(ids []uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idSet := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
		if r, ok := l.handles[id]; ok {
			r.MarkToDelete()
			r.Release()
			delete(l.handles, id)
		}
	}
	kept := l.order[:0]
	for _, id := range l.order {
		if !idSet[id] {
			kept = append(kept, id)
		}
	}
	l.order = kept
}

// Count reports the current number of level-0 tables.
func (l *Level0) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// AcquireAllNewestFirst returns every live level-0 handle, newest table
// first, each with an extra reference the caller must Release. Used by
// the full-database iterator to build a merged view across the level.
func (l *Level0) AcquireAllNewestFirst() []*sstable.Reader {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*sstable.Reader, 0, len(l.order))
	for i := len(l.order) - 1; i >= 0; i-- {
		if r, ok := l.handles[l.order[i]]; ok {
			r.Acquire()
			out = append(out, r)
		}
	}
	return out
}

// LogBackgroundError records a failure from a background worker, which
// logs and moves on to its next signal rather than propagating.
func LogBackgroundError(op string, err error) {
	if err != nil {
		log.Printf("ERROR: %s: %v", op, err)
	}
}
