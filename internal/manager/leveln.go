package manager

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/kvlite/internal/lru"
	"github.com/dd0wney/kvlite/internal/sstable"
)

// MaxLevel is the highest compacted level.
const MaxLevel = 7

// levelSizeThreshold returns the byte budget for level (1-indexed),
// growing by levelSizeMultiplier per level.
const baseLevelBytes = 10 * 1024 * 1024 // 10MiB for level 1
const levelSizeMultiplier = 10

func levelSizeThreshold(level int) int64 {
	bytes := int64(baseLevelBytes)
	for i := 1; i < level; i++ {
		bytes *= levelSizeMultiplier
	}
	return bytes
}

// entry keys a level>=1 table by (max_key, table_id) so the ordered index
// can binary-search for overlap ranges directly.
type entry struct {
	maxKey []byte
	id     uint64
	handle *sstable.Reader
}

// LevelN holds the ordered index for one compacted level (1..MaxLevel).
type LevelN struct {
	mu      sync.RWMutex
	level   int
	entries []entry // sorted by (maxKey, id)

	nextID atomic.Uint64
	cache  *lru.Cache
	dbPath string

	CompactCh chan struct{}
}

// NewLevelN opens every existing table for a level (1..MaxLevel).
func NewLevelN(dbPath string, level int, cache *lru.Cache) (*LevelN, error) {
	l := &LevelN{
		level:     level,
		cache:     cache,
		dbPath:    dbPath,
		CompactCh: make(chan struct{}, 1),
	}
	dir := filepath.Join(dbPath, fmt.Sprintf("%d", level))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create level-%d directory: %w", level, err)
	}

	ids, err := scanLevelDir(dir)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r, err := sstable.Open(filepath.Join(dir, fmt.Sprintf("%d", id)), level, id, cache)
		if err != nil {
			return nil, fmt.Errorf("open level-%d table %d: %w", level, id, err)
		}
		l.entries = append(l.entries, entry{maxKey: r.MaxKey(), id: id, handle: r})
		if id >= l.nextID.Load() {
			l.nextID.Store(id + 1)
		}
	}
	l.sortEntries()
	return l, nil
}

func (l *LevelN) sortEntries() {
	sort.Slice(l.entries, func(i, j int) bool {
		c := bytes.Compare(l.entries[i].maxKey, l.entries[j].maxKey)
		if c != 0 {
			return c < 0
		}
		return l.entries[i].id < l.entries[j].id
	})
}

// NextID allocates the next table id for this level.
func (l *LevelN) NextID() uint64 { return l.nextID.Add(1) - 1 }

// Insert adds a table produced by a compaction pass and signals the
// compactor if the level is now over its size budget.
func (l *LevelN) Insert(r *sstable.Reader) {
	l.mu.Lock()
	l.entries = append(l.entries, entry{maxKey: r.MaxKey(), id: r.ID(), handle: r})
	l.sortEntries()
	size := l.totalSizeLocked()
	l.mu.Unlock()

	if size > levelSizeThreshold(l.level) {
		select {
		case l.CompactCh <- struct{}{}:
		default:
		}
	}
}

func (l *LevelN) totalSizeLocked() int64 {
	var total int64
	for _, e := range l.entries {
		fi, err := os.Stat(e.handle.Path())
		if err == nil {
			total += fi.Size()
		}
	}
	return total
}

// Get binary-searches for the table whose max_key >= key and whose
// min_key <= key.
func (l *LevelN) Get(key []byte) (value []byte, found bool, err error) {
	l.mu.RLock()
	i := sort.Search(len(l.entries), func(i int) bool {
		return bytes.Compare(l.entries[i].maxKey, key) >= 0
	})
	var r *sstable.Reader
	if i < len(l.entries) && bytes.Compare(l.entries[i].handle.MinKey(), key) <= 0 {
		r = l.entries[i].handle
		r.Acquire()
	}
	l.mu.RUnlock()
	if r == nil {
		return nil, false, nil
	}
	defer r.Release()
	return r.Get(key)
}

// OverlapScan claims every handle in the level whose [min,max] range
// intersects [lo,hi] for compaction: each candidate is CAS-moved
// Store->Compacting and acquired. Candidates already claimed by another
// pass are skipped. The caller must Release each handle, and
// RevertCompacting it if the pass aborts.
func (l *LevelN) OverlapScan(lo, hi []byte) []*sstable.Reader {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*sstable.Reader
	for _, e := range l.entries {
		if bytes.Compare(e.handle.MaxKey(), lo) < 0 || bytes.Compare(e.handle.MinKey(), hi) > 0 {
			continue
		}
		if !e.handle.TryMarkCompacting() {
			continue
		}
		e.handle.Acquire()
		out = append(out, e.handle)
	}
	return out
}

// acquireOverlapping takes a reference on every table intersecting
// [lo,hi] without claiming it for compaction; the read path must not
// steal tables out from under the compactors.
func (l *LevelN) acquireOverlapping(lo, hi []byte) []*sstable.Reader {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*sstable.Reader
	for _, e := range l.entries {
		if bytes.Compare(e.handle.MaxKey(), lo) < 0 || bytes.Compare(e.handle.MinKey(), hi) > 0 {
			continue
		}
		e.handle.Acquire()
		out = append(out, e.handle)
	}
	return out
}

// RangeGet scans every overlapping table for keys in [lo,hi].
func (l *LevelN) RangeGet(lo, hi []byte, seen map[string]bool, fn func(key, value []byte)) error {
	handles := l.acquireOverlapping(lo, hi)
	defer func() {
		for _, r := range handles {
			r.Release()
		}
	}()
	for _, r := range handles {
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

// SelectVictim picks one table at random from this level to compact into
// the next. A random-victim policy favors simplicity over a size-tiered
// heuristic since a single LSM level rarely needs more nuance at this
// scale.
func (l *LevelN) SelectVictim() *sstable.Reader {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var candidates []*entry
	for i := range l.entries {
		if l.entries[i].handle.Status() == sstable.StatusStore {
			candidates = append(candidates, &l.entries[i])
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	victim := candidates[rand.Intn(len(candidates))]
	if !victim.handle.TryMarkCompacting() {
		return nil
	}
	return victim.handle
}

// Remove drops tables from the index after a compaction pass retires them.
func (l *LevelN) Remove(ids []uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idSet := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	kept := l.entries[:0]
	for _, e := range l.entries {
		if idSet[e.id] {
			e.handle.MarkToDelete()
			e.handle.Release()
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
}

// Count reports the number of tables currently indexed at this level.
func (l *LevelN) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// TotalSize reports the level's on-disk footprint in bytes.
func (l *LevelN) TotalSize() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSizeLocked()
}

// AcquireAll returns every live handle at this level in ascending key
// order, each with an extra reference the caller must Release. Since
// tables within one level are disjoint, the
// returned slice can be walked as a single concatenated, already-sorted
// stream, used by the full-database iterator.
func (l *LevelN) AcquireAll() []*sstable.Reader {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*sstable.Reader, 0, len(l.entries))
	for _, e := range l.entries {
		e.handle.Acquire()
		out = append(out, e.handle)
	}
	return out
}
