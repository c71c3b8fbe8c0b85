package kvlite

import "errors"

// Sentinel errors for the public API. io-failure, serialization-failure,
// invalid-format, unsupported-operation, and resource-exhausted map onto
// wrapped errors from internal/*; key-not-found is deliberately absent,
// since Get/RangeGet report absence via a bool, never an error.
var (
	// ErrKeyEmpty is returned by Set/Remove for a zero-length key.
	ErrKeyEmpty = errors.New("kvlite: key must not be empty")

	// ErrClosed is returned by Snapshot.Get and Snapshot.RangeGet after
	// the snapshot is closed, and by Batch.Commit and Batch.Abort once the
	// batch has already been committed or aborted. DB methods, the other
	// Batch methods and Snapshot.Close do not return it.
	ErrClosed = errors.New("kvlite: use of closed handle")

	// ErrInvalidRange is returned by RangeGet when lo > hi.
	ErrInvalidRange = errors.New("kvlite: range lower bound is greater than upper bound")
)
