// Package lru implements the sharded, reference-counted cache KVLite uses
// to hold decoded SSTable index blocks and bloom filters: 16 shards
// selected by the top 4 bits of a 32-bit hash, 256 entries per shard,
// each shard a map plus an intrusive recency list.
package lru

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/golang/snappy"
)

const (
	// NumShardBits is the number of high bits of the 32-bit key hash used
	// to pick a shard.
	NumShardBits = 4
	// NumShards is 2^NumShardBits.
	NumShards = 1 << NumShardBits
	// PerShardCapacity is the maximum live entries held by one shard.
	PerShardCapacity = 256
)

// Entry is a cached (index block, bloom filter) pair for one SSTable. The
// filter bytes are kept snappy-compressed at rest in the cache to bound
// resident memory; they are decompressed on every Filter() call. This is
// purely an in-memory representation choice: it never touches the on-disk
// SSTable byte layout, which stores the filter uncompressed per the fixed
// footer format.
type Entry struct {
	Index          []byte // decoded index block, opaque to this package
	filterCompressed []byte
	refs           atomic.Int32
}

// NewEntry builds a cache entry, compressing the filter bytes for storage.
func NewEntry(index, filter []byte) *Entry {
	return &Entry{
		Index:            index,
		filterCompressed: snappy.Encode(nil, filter),
	}
}

// Filter returns the decompressed bloom filter bytes.
func (e *Entry) Filter() ([]byte, error) {
	return snappy.Decode(nil, e.filterCompressed)
}

// Tracker is returned by Lookup; it must be released exactly once.
type Tracker struct {
	entry *Entry
}

// Entry returns the tracked cache entry.
func (t *Tracker) Entry() *Entry { return t.entry }

// Release drops this tracker's reference.
func (t *Tracker) Release() {
	t.entry.refs.Add(-1)
}

type shard struct {
	mu    sync.Mutex
	items map[uint64]*list.Element
	order *list.List // front = MRU, back = LRU
}

type shardItem struct {
	key   uint64
	entry *Entry
}

func newShard() *shard {
	return &shard{items: make(map[uint64]*list.Element), order: list.New()}
}

// Cache is a 16-way sharded LRU cache keyed by a 64-bit table identity
// (see sstable.TableKey).
type Cache struct {
	shards [NumShards]*shard
	hits   atomic.Int64
	misses atomic.Int64
}

// New constructs an empty Cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = newShard()
	}
	return c
}

// shardFor selects a shard using the top NumShardBits bits of hash.
func shardFor(hash uint32) int {
	return int(hash >> (32 - NumShardBits))
}

// Insert adds entry under key/hash, evicting the shard's LRU tail if the
// shard is at capacity. The cache holds one reference on the entry it
// stores.
func (c *Cache) Insert(key uint64, hash uint32, entry *Entry) {
	entry.refs.Add(1)
	sh := c.shards[shardFor(hash)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if el, ok := sh.items[key]; ok {
		sh.order.MoveToFront(el)
		el.Value.(*shardItem).entry.refs.Add(-1)
		el.Value.(*shardItem).entry = entry
		return
	}

	if sh.order.Len() >= PerShardCapacity {
		back := sh.order.Back()
		if back != nil {
			old := back.Value.(*shardItem)
			delete(sh.items, old.key)
			sh.order.Remove(back)
			old.entry.refs.Add(-1)
		}
	}

	el := sh.order.PushFront(&shardItem{key: key, entry: entry})
	sh.items[key] = el
}

// Lookup returns a Tracker for key/hash if present, bumping its reference
// count and moving it to MRU position.
func (c *Cache) Lookup(key uint64, hash uint32) (*Tracker, bool) {
	sh := c.shards[shardFor(hash)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	sh.order.MoveToFront(el)
	item := el.Value.(*shardItem)
	item.entry.refs.Add(1)
	c.hits.Add(1)
	return &Tracker{entry: item.entry}, true
}

// Erase removes key/hash from the cache, detaching its LRU node and
// dropping the cache's own reference.
func (c *Cache) Erase(key uint64, hash uint32) {
	sh := c.shards[shardFor(hash)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.items[key]
	if !ok {
		return
	}
	item := el.Value.(*shardItem)
	delete(sh.items, key)
	sh.order.Remove(el)
	item.entry.refs.Add(-1)
}

// Stats reports cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len reports the total number of entries resident across all shards.
func (c *Cache) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += sh.order.Len()
		sh.mu.Unlock()
	}
	return n
}
