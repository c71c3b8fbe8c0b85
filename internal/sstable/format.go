// Package sstable implements KVLite's on-disk sorted-table format: data
// blocks, a dense index block, a bloom filter block, and a fixed 20-byte
// footer. All integers are little-endian. A table is written to a temp
// file suffixed "_write" and renamed into place once its footer is
// flushed, so a finalized file is always complete.
package sstable

import "encoding/binary"

// FooterMagic is the fixed trailer magic number validating a finalized
// table.
const FooterMagic uint32 = 0xDB991122

// FooterSize is the footer's fixed on-disk size: 5 little-endian u32s.
const FooterSize = 20

// MaxBlockKVPairs bounds how many records may land in one data block
// before an index entry is emitted and a new block begins.
const MaxBlockKVPairs = 16

// Footer is the fixed trailer written at the end of every SSTable.
type Footer struct {
	IndexOffset uint32
	IndexLength uint32
	FilterLen   uint32
	KVTotal     uint32
}

// Encode serializes the footer to its fixed 20-byte on-disk form.
func (f Footer) Encode() [FooterSize]byte {
	var b [FooterSize]byte
	binary.LittleEndian.PutUint32(b[0:4], f.IndexOffset)
	binary.LittleEndian.PutUint32(b[4:8], f.IndexLength)
	binary.LittleEndian.PutUint32(b[8:12], f.FilterLen)
	binary.LittleEndian.PutUint32(b[12:16], f.KVTotal)
	binary.LittleEndian.PutUint32(b[16:20], FooterMagic)
	return b
}

// DecodeFooter parses a footer and validates its magic number.
func DecodeFooter(b []byte) (Footer, error) {
	if len(b) != FooterSize {
		return Footer{}, errInvalidFooterSize
	}
	magic := binary.LittleEndian.Uint32(b[16:20])
	if magic != FooterMagic {
		return Footer{}, ErrInvalidMagic
	}
	return Footer{
		IndexOffset: binary.LittleEndian.Uint32(b[0:4]),
		IndexLength: binary.LittleEndian.Uint32(b[4:8]),
		FilterLen:   binary.LittleEndian.Uint32(b[8:12]),
		KVTotal:     binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// IndexEntry is one record of the dense index block: the byte range of a
// data block plus the maximum key stored in it.
type IndexEntry struct {
	BlockOffset uint32
	BlockLength uint32
	MaxKey      []byte
}
