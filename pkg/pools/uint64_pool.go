package pools

import (
	"sync"
)

// Uint64 size classes: retired-table id batches are tiny (a compaction
// pass touches at most a handful of tables), but recovery scans of a big
// level can collect a few hundred ids at once.
var uint64Classes = [...]int{16, 64, 256}

// maxPooledUint64s bounds what Put will retain.
const maxPooledUint64s = 10000

// Uint64Pool reuses []uint64 scratch slices (table-id collections,
// sequence-number batches).
type Uint64Pool struct {
	classes [len(uint64Classes)]sync.Pool
}

// NewUint64Pool creates an empty uint64 slice pool.
func NewUint64Pool() *Uint64Pool {
	p := &Uint64Pool{}
	for i, size := range uint64Classes {
		size := size
		p.classes[i].New = func() any {
			s := make([]uint64, 0, size)
			return &s
		}
	}
	return p
}

func uint64ClassFor(size int) int {
	for i, c := range uint64Classes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns a zero-length slice with at least the requested capacity.
func (p *Uint64Pool) Get(size int) []uint64 {
	i := uint64ClassFor(size)
	if i < 0 {
		return make([]uint64, 0, size)
	}
	sp, ok := p.classes[i].Get().(*[]uint64)
	if !ok || cap(*sp) < size {
		return make([]uint64, 0, size)
	}
	return (*sp)[:0]
}

// Put returns a slice to its size class for reuse.
func (p *Uint64Pool) Put(s []uint64) {
	c := cap(s)
	if c > maxPooledUint64s {
		return
	}
	i := uint64ClassFor(c)
	if i < 0 {
		return
	}
	s = s[:0]
	p.classes[i].Put(&s)
}

var defaultUint64Pool = NewUint64Pool()

// GetUint64s returns a uint64 slice from the default pool.
func GetUint64s(size int) []uint64 {
	return defaultUint64Pool.Get(size)
}

// PutUint64s returns a uint64 slice to the default pool.
func PutUint64s(s []uint64) {
	defaultUint64Pool.Put(s)
}
