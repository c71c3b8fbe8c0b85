package kvlite

import (
	"github.com/dd0wney/kvlite/internal/manager"
	"github.com/dd0wney/kvlite/internal/sstable"
	"github.com/dd0wney/kvlite/pkg/validation"
)

// Open-time tuning constants.
const (
	// WriteBufferSize is the default memory threshold that triggers a
	// memtable freeze and flush (4 MiB).
	WriteBufferSize int64 = 4 << 20
)

// Options configures a DB at Open. Validated once, at Open, through
// pkg/validation.
type Options struct {
	// Path is the directory the engine stores its WAL and SSTables
	// under. Created if it doesn't exist.
	Path string

	// WriteBufferSize is the mutable memtable's memory-usage threshold,
	// in bytes, above which a freeze-and-flush is triggered.
	WriteBufferSize int64

	// L0FilesThreshold is the level-0 table count above which an
	// L0->L1 compaction is signalled. It is validated at Open; level 0
	// uses manager.L0FilesThreshold whatever this field holds.
	L0FilesThreshold int

	// NumLevel0TableToCompact bounds how many level-0 tables one
	// compaction pass consumes. It is validated at Open; level 0 uses
	// manager.NumLevel0TableToCompact whatever this field holds.
	NumLevel0TableToCompact int

	// MaxBlockKVPairs bounds how many records land in one SSTable data
	// block before a new block starts. It is validated at Open; the
	// SSTable writer uses sstable.MaxBlockKVPairs whatever this field
	// holds.
	MaxBlockKVPairs int
}

// DefaultOptions returns an Options value with every tuning constant
// filled in, for the given directory.
func DefaultOptions(path string) Options {
	return Options{
		Path:                    path,
		WriteBufferSize:         WriteBufferSize,
		L0FilesThreshold:        manager.L0FilesThreshold,
		NumLevel0TableToCompact: manager.NumLevel0TableToCompact,
		MaxBlockKVPairs:         sstable.MaxBlockKVPairs,
	}
}

func (o Options) validate() error {
	return validation.ValidateOptions(&validation.Options{
		Path:                    o.Path,
		WriteBufferSize:         o.WriteBufferSize,
		L0FilesThreshold:        o.L0FilesThreshold,
		NumLevel0TableToCompact: o.NumLevel0TableToCompact,
		MaxBlockKVPairs:         o.MaxBlockKVPairs,
	})
}

// WriteOptions controls durability for a single write or batch commit.
type WriteOptions struct {
	// Sync requests an fsync of the WAL before the write is reported as
	// successful. Without it, a write is durable only as far as the
	// last successful freeze_mut_log.
	Sync bool
}
