package kvlite

import (
	"github.com/dd0wney/kvlite/internal/sstable"
)

// concatSource walks a set of non-overlapping, already key-sorted
// SSTable readers end to end as a single ascending stream. Only valid
// for tables from one compacted level (1 and up), whose ranges are
// disjoint; level-0 tables overlap and must each be their own merge
// source.
type concatSource struct {
	readers []*sstable.Reader
	idx     int
	cur     *sstable.Iterator
}

func newConcatSource(readers []*sstable.Reader) *concatSource {
	return &concatSource{readers: readers}
}

func (c *concatSource) Next() (key, value []byte, ok bool, err error) {
	for {
		if c.cur == nil {
			if c.idx >= len(c.readers) {
				return nil, nil, false, nil
			}
			it, err := c.readers[c.idx].NewIterator()
			if err != nil {
				return nil, nil, false, err
			}
			c.cur = it
			c.idx++
		}
		k, v, ok, err := c.cur.Next()
		if err != nil {
			return nil, nil, false, err
		}
		if !ok {
			c.cur = nil
			continue
		}
		return k, v, true, nil
	}
}
