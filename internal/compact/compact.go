// Package compact implements the merging passes that move data from level
// 0 into level 1, and from level N into level N+1: stream the inputs
// through a merged iterator (newest source wins per key), split the
// output into target-sized tables, and recover from panics by cleaning
// up partially-written outputs.
package compact

import (
	"fmt"
	"log"

	"github.com/dd0wney/kvlite/internal/iter"
	"github.com/dd0wney/kvlite/internal/lru"
	"github.com/dd0wney/kvlite/internal/sstable"
)

// MaxTableKVPairs bounds how many records one output table holds before a
// new one is started. A pair count rather than a byte budget, since
// tables are sized by kv_total up front for the bloom filter.
const MaxTableKVPairs = 4096

// Result reports the tables a compaction pass produced, for the caller to
// insert into the target level's index.
type Result struct {
	Outputs []*sstable.Reader
}

// CompactTables merges sources (newest first) into one or more new tables
// at (dbPath, targetLevel). Tombstones (empty values) are carried through
// unchanged: they are filtered only at the consumer boundary (get/range_get),
// not inside a merge, and compaction is itself a merge, so dropping them
// here would let a stale value at a level below targetLevel resurface on
// the next read.
// Returns recovered-as-error on any panic during the merge/write pass so
// callers can revert input tables to Store instead of leaving them stuck
// Compacting.
func CompactTables(dbPath string, targetLevel int, nextID func() uint64, sources []iter.Source, cache *lru.Cache) (result *Result, err error) {
	var outputs []*sstable.Reader
	var writer *sstable.Writer

	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC during compaction into level %d: %v", targetLevel, r)
			err = fmt.Errorf("panic during compaction: %v", r)
			if writer != nil {
				writer.Abort()
			}
			for _, o := range outputs {
				o.MarkToDelete()
				o.Release()
			}
			result = nil
		}
	}()

	merged, err := iter.NewMerged(sources)
	if err != nil {
		return nil, fmt.Errorf("open merged iterator: %w", err)
	}

	var pending [][2][]byte
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		id := nextID()
		w, err := sstable.NewWriter(dbPath, targetLevel, id, len(pending))
		if err != nil {
			return fmt.Errorf("open output table %d: %w", id, err)
		}
		writer = w
		for _, kv := range pending {
			if err := w.Add(kv[0], kv[1]); err != nil {
				w.Abort()
				return fmt.Errorf("write output table %d: %w", id, err)
			}
		}
		if err := w.Finish(); err != nil {
			return fmt.Errorf("finish output table %d: %w", id, err)
		}
		writer = nil
		r, err := sstable.Open(sstable.Path(dbPath, targetLevel, id), targetLevel, id, cache)
		if err != nil {
			return fmt.Errorf("reopen output table %d: %w", id, err)
		}
		outputs = append(outputs, r)
		pending = pending[:0]
		return nil
	}

	for {
		k, v, ok, err := merged.Next()
		if err != nil {
			return nil, fmt.Errorf("merge compaction sources: %w", err)
		}
		if !ok {
			break
		}
		keyCopy := append([]byte(nil), k...)
		valCopy := append([]byte(nil), v...)
		pending = append(pending, [2][]byte{keyCopy, valCopy})
		if len(pending) >= MaxTableKVPairs {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return &Result{Outputs: outputs}, nil
}
