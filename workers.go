package kvlite

import (
	"github.com/dd0wney/kvlite/internal/compact"
	"github.com/dd0wney/kvlite/internal/iter"
	"github.com/dd0wney/kvlite/internal/manager"
	"github.com/dd0wney/kvlite/internal/sstable"
	"github.com/dd0wney/kvlite/pkg/pools"
)

// flushWorker drains flushCh, turning the current immutable memtable into
// level-0 SSTables: one table per compact.MaxTableKVPairs records, so a
// large memtable becomes several level-0 tables with disjoint key ranges.
// On error it logs and waits for the next signal rather than crashing the
// background goroutine.
func (db *DB) flushWorker() {
	defer db.wg.Done()
	for {
		select {
		case <-db.closeCh:
			return
		case <-db.flushCh:
			db.doFlush()
		}
	}
}

func (db *DB) doFlush() {
	imm := db.immutable.Load()
	if imm == nil {
		db.flushInFlight.Store(false)
		return
	}

	src := imm.NewFlushIterator()
	result, err := compact.CompactTables(db.opts.Path, 0, db.l0.NextID, []iter.Source{src}, db.cache)
	if err != nil {
		manager.LogBackgroundError("flush memtable", err)
		db.flushInFlight.Store(false)
		return
	}
	for _, r := range result.Outputs {
		db.l0.Insert(r)
	}
	if err := db.wal.ClearImmLog(); err != nil {
		manager.LogBackgroundError("clear immutable WAL", err)
	}

	db.immutable.Store(nil)
	db.flushInFlight.Store(false)
}

// l0CompactWorker drains the level-0 manager's CompactCh, merging a batch
// of level-0 tables (plus any overlapping level-1 tables) into level 1.
func (db *DB) l0CompactWorker() {
	defer db.wg.Done()
	for {
		select {
		case <-db.closeCh:
			return
		case <-db.l0.CompactCh:
			db.doL0Compact()
		}
	}
}

func (db *DB) doL0Compact() {
	batch, minKey, maxKey := db.l0.SelectForCompaction()
	if len(batch) == 0 {
		return
	}
	l1 := db.levels[0]
	overlap := l1.OverlapScan(minKey, maxKey)

	revert := func() {
		for _, r := range batch {
			r.RevertCompacting()
		}
		for _, r := range overlap {
			r.RevertCompacting()
		}
		releaseAll(overlap)
	}

	// Level-0 ranges overlap by construction, so each table must be its
	// own merge source, newest first (a key tie resolves to the earlier
	// source). Only the level-1 overlap set is disjoint and can be walked
	// as one concatenated stream. batch is oldest-first.
	sources := make([]iter.Source, 0, len(batch)+1)
	for i := len(batch) - 1; i >= 0; i-- {
		it, err := batch[i].NewIterator()
		if err != nil {
			manager.LogBackgroundError("compact level 0", err)
			revert()
			return
		}
		sources = append(sources, it)
	}
	if len(overlap) > 0 {
		sources = append(sources, newConcatSource(overlap))
	}

	result, err := compact.CompactTables(db.opts.Path, 1, l1.NextID, sources, db.cache)
	if err != nil {
		manager.LogBackgroundError("compact level 0", err)
		revert()
		return
	}
	releaseAll(overlap)

	for _, r := range result.Outputs {
		l1.Insert(r)
	}

	batchIDs := pools.GetUint64s(len(batch))
	for _, r := range batch {
		batchIDs = append(batchIDs, r.ID())
	}
	db.l0.Remove(batchIDs)
	pools.PutUint64s(batchIDs)

	if len(overlap) > 0 {
		overlapIDs := pools.GetUint64s(len(overlap))
		for _, r := range overlap {
			overlapIDs = append(overlapIDs, r.ID())
		}
		l1.Remove(overlapIDs)
		pools.PutUint64s(overlapIDs)
	}
}

// levelCompactWorker drains level lvl's CompactCh, moving a single random
// victim table into level lvl+1.
func (db *DB) levelCompactWorker(lvl int) {
	defer db.wg.Done()
	src := db.levels[lvl-1]
	for {
		select {
		case <-db.closeCh:
			return
		case <-src.CompactCh:
			db.doLevelCompact(lvl)
		}
	}
}

func (db *DB) doLevelCompact(lvl int) {
	from := db.levels[lvl-1]
	to := db.levels[lvl]

	victim := from.SelectVictim()
	if victim == nil {
		return
	}
	overlap := to.OverlapScan(victim.MinKey(), victim.MaxKey())

	sources := []iter.Source{newConcatSource([]*sstable.Reader{victim})}
	if len(overlap) > 0 {
		sources = append(sources, newConcatSource(overlap))
	}

	result, err := compact.CompactTables(db.opts.Path, lvl+1, to.NextID, sources, db.cache)
	if err != nil {
		manager.LogBackgroundError("compact level", err)
		victim.RevertCompacting()
		for _, r := range overlap {
			r.RevertCompacting()
		}
		releaseAll(overlap)
		return
	}
	releaseAll(overlap)

	for _, r := range result.Outputs {
		to.Insert(r)
	}
	from.Remove([]uint64{victim.ID()})

	if len(overlap) > 0 {
		overlapIDs := pools.GetUint64s(len(overlap))
		for _, r := range overlap {
			overlapIDs = append(overlapIDs, r.ID())
		}
		to.Remove(overlapIDs)
		pools.PutUint64s(overlapIDs)
	}
}

func releaseAll(readers []*sstable.Reader) {
	for _, r := range readers {
		r.Release()
	}
}
