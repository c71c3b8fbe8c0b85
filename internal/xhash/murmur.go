// Package xhash implements the Murmur1 32-bit hash used to feed the
// bloom filter and the sharded LRU cache's shard selector. Four-byte
// words are consumed as little-endian loads, with the classic 1-to-3
// byte tail fallthrough.
package xhash

import "encoding/binary"

const (
	m uint32 = 0x5bd1e995
	r        = 24
)

// Murmur1 hashes data with the given seed using the Murmur1 32-bit
// algorithm.
func Murmur1(data []byte, seed uint32) uint32 {
	h := seed ^ uint32(len(data))

	for len(data) >= 4 {
		k := binary.LittleEndian.Uint32(data)
		k *= m
		k ^= k >> r
		k *= m

		h *= m
		h ^= k

		data = data[4:]
	}

	switch len(data) {
	case 3:
		h ^= uint32(data[2]) << 16
		fallthrough
	case 2:
		h ^= uint32(data[1]) << 8
		fallthrough
	case 1:
		h ^= uint32(data[0])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15

	return h
}
