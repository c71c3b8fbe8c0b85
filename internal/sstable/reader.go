package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync/atomic"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/kvlite/internal/bloom"
	"github.com/dd0wney/kvlite/internal/lru"
	"github.com/dd0wney/kvlite/internal/xhash"
)

// Status is a table handle's lifecycle state: a handle moves
// Store->Compacting exactly once, and ToDelete is terminal.
type Status int32

const (
	StatusStore Status = iota
	StatusCompacting
	StatusToDelete
)

// Reader is an immutable read handle over a finalized SSTable, opened
// once via mmap and shared by any number of concurrent readers.
type Reader struct {
	path    string
	id      uint64
	level   int
	ra      *mmap.ReaderAt
	size    int64
	footer  Footer
	minKey  []byte
	maxKey  []byte

	cache    *lru.Cache
	tableKey uint64
	hash     uint32

	status atomic.Int32
	refs   atomic.Int32
}

// TableKey packs (id, level) into the 64-bit identity used for cache
// lookups.
func TableKey(id uint64, level int) uint64 {
	const levelShift = 4 // MAX_LEVEL=7 fits in 3 bits; 4 leaves headroom
	return (id << levelShift) | uint64(level)
}

// Open mmaps a finalized table and loads its footer + index + min/max key
// range (but not the filter, which is loaded lazily and cached).
func Open(path string, level int, id uint64, cache *lru.Cache) (*Reader, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat SSTable %s: %w", path, err)
	}
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap SSTable %s: %w", path, err)
	}

	r := &Reader{
		path:     path,
		id:       id,
		level:    level,
		ra:       ra,
		size:     fi.Size(),
		cache:    cache,
		tableKey: TableKey(id, level),
	}
	r.hash = xhash.Murmur1(tableKeyBytes(r.tableKey), 0x9e3779b9)
	r.refs.Store(1)

	footerBuf := make([]byte, FooterSize)
	if _, err := r.ra.ReadAt(footerBuf, r.size-FooterSize); err != nil {
		ra.Close()
		return nil, fmt.Errorf("read footer %s: %w", path, err)
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		ra.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.footer = footer

	index, err := r.loadIndex()
	if err != nil {
		ra.Close()
		return nil, err
	}
	if len(index) > 0 {
		r.minKey = firstKeyOf(r, index)
		r.maxKey = index[len(index)-1].MaxKey
	}
	return r, nil
}

func tableKeyBytes(k uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], k)
	return b[:]
}

// firstKeyOf reads the very first record's key from data block 0, which is
// the table's minimum key.
func firstKeyOf(r *Reader, index []IndexEntry) []byte {
	hdr := make([]byte, 8)
	if _, err := r.ra.ReadAt(hdr, int64(index[0].BlockOffset)); err != nil {
		return nil
	}
	keyLen := binary.LittleEndian.Uint32(hdr[0:4])
	key := make([]byte, keyLen)
	r.ra.ReadAt(key, int64(index[0].BlockOffset)+8)
	return key
}

func (r *Reader) loadIndex() ([]IndexEntry, error) {
	buf := make([]byte, r.footer.IndexLength)
	if _, err := r.ra.ReadAt(buf, int64(r.footer.IndexOffset)); err != nil {
		return nil, fmt.Errorf("read index block %s: %w", r.path, err)
	}
	var entries []IndexEntry
	off := 0
	for off < len(buf) {
		blockOffset := binary.LittleEndian.Uint32(buf[off : off+4])
		blockLength := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		keyLen := binary.LittleEndian.Uint32(buf[off+8 : off+12])
		off += 12
		maxKey := buf[off : off+int(keyLen)]
		off += int(keyLen)
		entries = append(entries, IndexEntry{BlockOffset: blockOffset, BlockLength: blockLength, MaxKey: maxKey})
	}
	return entries, nil
}

func (r *Reader) loadFilter() (*bloom.Filter, error) {
	if tr, ok := r.cache.Lookup(r.tableKey, r.hash); ok {
		defer tr.Release()
		fb, err := tr.Entry().Filter()
		if err != nil {
			return nil, err
		}
		return bloom.FromBytes(fb), nil
	}

	filterOffset := int64(r.footer.IndexOffset) + int64(r.footer.IndexLength)
	buf := make([]byte, r.footer.FilterLen)
	if _, err := r.ra.ReadAt(buf, filterOffset); err != nil {
		return nil, fmt.Errorf("read filter block %s: %w", r.path, err)
	}

	index, err := r.loadIndex()
	if err == nil {
		entry := lru.NewEntry(encodeIndex(index), buf)
		r.cache.Insert(r.tableKey, r.hash, entry)
	}
	return bloom.FromBytes(buf), nil
}

func encodeIndex(index []IndexEntry) []byte {
	// Opaque cache payload: re-serialize the parsed index so the cache
	// entry doesn't need to know sstable's internal types.
	var out []byte
	for _, e := range index {
		var hdr [12]byte
		binary.LittleEndian.PutUint32(hdr[0:4], e.BlockOffset)
		binary.LittleEndian.PutUint32(hdr[4:8], e.BlockLength)
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(e.MaxKey)))
		out = append(out, hdr[:]...)
		out = append(out, e.MaxKey...)
	}
	return out
}

// Get looks up key, returning (value, true) on a hit. A tombstone (empty
// value) is still reported as found=true so callers can apply newest-wins
// shadowing.
func (r *Reader) Get(key []byte) (value []byte, found bool, err error) {
	filter, err := r.loadFilter()
	if err != nil {
		return nil, false, err
	}
	if !filter.MayContain(key) {
		return nil, false, nil
	}

	index, err := r.loadIndex()
	if err != nil {
		return nil, false, err
	}
	i := sort.Search(len(index), func(i int) bool {
		return bytes.Compare(index[i].MaxKey, key) >= 0
	})
	if i == len(index) {
		return nil, false, nil
	}
	return r.scanBlock(index[i], key)
}

func (r *Reader) scanBlock(e IndexEntry, key []byte) ([]byte, bool, error) {
	buf := make([]byte, e.BlockLength)
	if _, err := r.ra.ReadAt(buf, int64(e.BlockOffset)); err != nil {
		return nil, false, fmt.Errorf("read data block %s: %w", r.path, err)
	}
	off := 0
	for off < len(buf) {
		keyLen := binary.LittleEndian.Uint32(buf[off : off+4])
		valLen := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		off += 8
		rk := buf[off : off+int(keyLen)]
		off += int(keyLen)
		switch bytes.Compare(rk, key) {
		case 0:
			return buf[off : off+int(valLen)], true, nil
		case 1:
			return nil, false, nil // records are sorted; we've passed it
		}
		off += int(valLen)
	}
	return nil, false, nil
}

// Iterator scans every record in the table in ascending key order.
type Iterator struct {
	r     *Reader
	index []IndexEntry
	bi    int
	buf   []byte
	off   int
}

// NewIterator returns a full-table scan iterator.
func (r *Reader) NewIterator() (*Iterator, error) {
	index, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	return &Iterator{r: r, index: index, bi: -1}, nil
}

// Next advances to the next record, returning false at end of table.
func (it *Iterator) Next() (key, value []byte, ok bool, err error) {
	for {
		if it.buf == nil || it.off >= len(it.buf) {
			it.bi++
			if it.bi >= len(it.index) {
				return nil, nil, false, nil
			}
			e := it.index[it.bi]
			it.buf = make([]byte, e.BlockLength)
			if _, err := it.r.ra.ReadAt(it.buf, int64(e.BlockOffset)); err != nil {
				return nil, nil, false, fmt.Errorf("read data block: %w", err)
			}
			it.off = 0
			continue
		}
		keyLen := binary.LittleEndian.Uint32(it.buf[it.off : it.off+4])
		valLen := binary.LittleEndian.Uint32(it.buf[it.off+4 : it.off+8])
		it.off += 8
		k := it.buf[it.off : it.off+int(keyLen)]
		it.off += int(keyLen)
		v := it.buf[it.off : it.off+int(valLen)]
		it.off += int(valLen)
		return k, v, true, nil
	}
}

// MinKey, MaxKey return the table's key range.
func (r *Reader) MinKey() []byte { return r.minKey }
func (r *Reader) MaxKey() []byte { return r.maxKey }

// ID, Level identify the table within its manager.
func (r *Reader) ID() uint64  { return r.id }
func (r *Reader) Level() int  { return r.level }
func (r *Reader) Path() string { return r.path }
func (r *Reader) KVTotal() int { return int(r.footer.KVTotal) }

// Status returns the table's current lifecycle state.
func (r *Reader) Status() Status { return Status(r.status.Load()) }

// TryMarkCompacting CAS-transitions Store->Compacting, returning false if
// the table was already compacting or marked for deletion.
func (r *Reader) TryMarkCompacting() bool {
	return r.status.CompareAndSwap(int32(StatusStore), int32(StatusCompacting))
}

// RevertCompacting moves a handle back from Compacting to Store, used
// when a compaction pass panics or aborts partway through.
func (r *Reader) RevertCompacting() {
	r.status.CompareAndSwap(int32(StatusCompacting), int32(StatusStore))
}

// MarkToDelete moves a handle to its terminal state.
func (r *Reader) MarkToDelete() {
	r.status.Store(int32(StatusToDelete))
}

// Acquire/Release implement a reference-counted lifetime: the file is
// unlinked only once refs reaches zero with status ToDelete.
func (r *Reader) Acquire() {
	r.refs.Add(1)
}

func (r *Reader) Release() {
	if r.refs.Add(-1) == 0 && r.Status() == StatusToDelete {
		r.ra.Close()
		os.Remove(r.path)
	}
}

var _ io.Closer = (*Reader)(nil)

// Close releases the handle's own reference (the one returned by Open).
func (r *Reader) Close() error {
	r.Release()
	return nil
}
