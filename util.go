package kvlite

import (
	"bytes"
	"sort"
)

func bytesCompare(a, b []byte) int { return bytes.Compare(a, b) }

func sortKVs(kvs []KV) {
	sort.Slice(kvs, func(i, j int) bool { return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0 })
}
