// Package iter provides the min-heap-based merged iterator used by range
// scans and compaction to walk several sorted sources (memtables and
// SSTables) as a single ascending stream. A heap rather than a linear
// minimum scan, because a full read path fans in many sources at once:
// the mutable memtable, the immutable memtable, all of level 0, and one
// run per level 1 and up.
package iter

import (
	"bytes"
	"container/heap"
)

// Source yields (key, value) pairs in strictly ascending key order.
type Source interface {
	// Next advances and reports whether a pair is available.
	Next() (key, value []byte, ok bool, err error)
}

type item struct {
	key, value []byte
	src        Source
	srcIdx     int // lower index = newer source, used to break key ties
}

type minHeap []*item

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].key, h[j].key)
	if c != 0 {
		return c < 0
	}
	return h[i].srcIdx < h[j].srcIdx
}
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Merged merges an ordered list of Sources (index 0 = newest) into one
// ascending stream, suppressing superseded keys: whenever two sources tie
// on a key, only the entry from the lowest-indexed (newest) source is
// emitted by Next.
type Merged struct {
	h       minHeap
	lastKey []byte
	hasLast bool
}

// NewMerged primes the heap with the first element of every source.
// Newest-first ordering in sources determines tie-breaking; pass the
// mutable memtable first, then the immutable memtable, then L0 tables
// newest-to-oldest, then one source per level 1..MaxLevel.
func NewMerged(sources []Source) (*Merged, error) {
	m := &Merged{}
	for i, s := range sources {
		k, v, ok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		heap.Push(&m.h, &item{key: k, value: v, src: s, srcIdx: i})
	}
	return m, nil
}

// Next returns the next distinct key in ascending order along with the
// value from its newest contributing source. Tombstones (an empty value,
// nil or zero-length, returned with ok=true) are passed through
// unfiltered: callers that need newest-wins-including-deletes semantics
// check for an empty value themselves, the encoding a tombstone uses.
func (m *Merged) Next() (key, value []byte, ok bool, err error) {
	for m.h.Len() > 0 {
		top := m.h[0]
		k, v := top.key, top.value

		duplicate := m.hasLast && bytes.Equal(k, m.lastKey)

		nk, nv, nok, nerr := top.src.Next()
		if nerr != nil {
			return nil, nil, false, nerr
		}
		if nok {
			top.key, top.value = nk, nv
			heap.Fix(&m.h, 0)
		} else {
			heap.Pop(&m.h)
		}

		if duplicate {
			continue
		}
		m.lastKey = append(m.lastKey[:0], k...)
		m.hasLast = true
		return k, v, true, nil
	}
	return nil, nil, false, nil
}
