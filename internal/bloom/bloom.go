// Package bloom implements the fixed-parameter bloom filter KVLite embeds
// in every SSTable: 10 bits per key, 6 double-hash probes derived from one
// Murmur1 hash with a rotate-right-by-17 delta between probes.
package bloom

import "github.com/dd0wney/kvlite/internal/xhash"

const (
	bitsPerKey = 10
	k          = 6
	seed       = 0xc7b4e193
	minBits    = 64
)

// Filter is a fixed-size bit array built from a known number of keys.
type Filter struct {
	bits []byte
	n    int // number of bits
}

// NumBits returns the number of bits a filter built from numKeys keys will
// occupy, rounded up to a whole byte and never below minBits.
func NumBits(numKeys int) int {
	bits := numKeys * bitsPerKey
	if bits < minBits {
		bits = minBits
	}
	return (bits + 7) / 8 * 8
}

// New allocates an empty filter sized for numKeys keys.
func New(numKeys int) *Filter {
	n := NumBits(numKeys)
	return &Filter{bits: make([]byte, n/8), n: n}
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h := xhash.Murmur1(key, seed)
	delta := (h >> 17) | (h << 15)
	for i := 0; i < k; i++ {
		bitPos := h % uint32(f.n)
		f.bits[bitPos/8] |= 1 << (bitPos % 8)
		h += delta
	}
}

// MayContain reports whether key could have been added to the filter. A
// false result is definitive; a true result may be a false positive.
func (f *Filter) MayContain(key []byte) bool {
	if f.n == 0 {
		return false
	}
	h := xhash.Murmur1(key, seed)
	delta := (h >> 17) | (h << 15)
	for i := 0; i < k; i++ {
		bitPos := h % uint32(f.n)
		if f.bits[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// Bytes returns the filter's raw bit array for persistence.
func (f *Filter) Bytes() []byte {
	return f.bits
}

// FromBytes reconstructs a filter from previously-persisted bits.
func FromBytes(b []byte) *Filter {
	return &Filter{bits: b, n: len(b) * 8}
}
