package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dd0wney/kvlite/internal/bloom"
	"github.com/dd0wney/kvlite/pkg/pools"
)

// Writer streams key-sorted (key, value) pairs into a new SSTable. Keys
// must be supplied in strictly ascending order; the caller (the flush
// pipeline or a compaction pass) is responsible for ordering and for
// dropping superseded versions before they reach the writer.
type Writer struct {
	finalPath string
	tempPath  string
	f         *os.File
	buf       *bufio.Writer
	pos       uint32

	blockCount int
	blockStart uint32
	blockMax   []byte

	index  []IndexEntry
	filter *bloom.Filter
	total  uint32
}

// Path returns the final (level/id) path an SSTable for id in level will
// be written to, using a "<level>/<id>" directory layout.
func Path(dbPath string, level int, id uint64) string {
	return filepath.Join(dbPath, fmt.Sprintf("%d", level), fmt.Sprintf("%d", id))
}

func tempPath(finalPath string) string {
	return finalPath + "_write"
}

// NewWriter opens a temp file ("<final>_write") to stream kvTotal records
// into, sizing the bloom filter up front.
func NewWriter(dbPath string, level int, id uint64, kvTotal int) (*Writer, error) {
	final := Path(dbPath, level, id)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("create level directory: %w", err)
	}
	tmp := tempPath(final)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create SSTable temp file %s: %w", tmp, err)
	}
	return &Writer{
		finalPath: final,
		tempPath:  tmp,
		f:         f,
		buf:       bufio.NewWriter(f),
		filter:    bloom.New(kvTotal),
	}, nil
}

// Add writes one (key, value) record in the data block format:
// u32 key_len | u32 value_len | key | value.
func (w *Writer) Add(key, value []byte) error {
	if w.blockCount == 0 {
		w.blockStart = w.pos
	}

	rec := pools.GetBytes(8 + len(key) + len(value))
	defer pools.PutBytes(rec)
	rec = rec[:8]
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(len(value)))
	rec = append(rec, key...)
	rec = append(rec, value...)

	if _, err := w.buf.Write(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.pos += uint32(len(rec))
	w.blockCount++
	w.blockMax = append(w.blockMax[:0], key...)
	w.filter.Add(key)
	w.total++

	if w.blockCount == MaxBlockKVPairs {
		w.closeBlock()
	}
	return nil
}

// closeBlock emits an index entry covering the just-finished data block.
// Invariant: an index entry is emitted whenever the running
// count reaches MaxBlockKVPairs OR on the final record; the latter is
// handled by Finish calling closeBlock once more if a partial block is
// still open.
func (w *Writer) closeBlock() {
	if w.blockCount == 0 {
		return
	}
	maxKey := make([]byte, len(w.blockMax))
	copy(maxKey, w.blockMax)
	w.index = append(w.index, IndexEntry{
		BlockOffset: w.blockStart,
		BlockLength: w.pos - w.blockStart,
		MaxKey:      maxKey,
	})
	w.blockCount = 0
}

// Finish writes the index block, filter block and footer, flushes, fsyncs,
// and atomically renames the temp file into its final path.
func (w *Writer) Finish() (err error) {
	defer func() {
		if err != nil {
			w.buf = nil
			w.f.Close()
			os.Remove(w.tempPath)
		}
	}()

	w.closeBlock() // flush a trailing partial block, if any

	indexOffset := w.pos
	for _, e := range w.index {
		var hdr [12]byte
		binary.LittleEndian.PutUint32(hdr[0:4], e.BlockOffset)
		binary.LittleEndian.PutUint32(hdr[4:8], e.BlockLength)
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(e.MaxKey)))
		if _, err = w.buf.Write(hdr[:]); err != nil {
			return fmt.Errorf("write index entry: %w", err)
		}
		if _, err = w.buf.Write(e.MaxKey); err != nil {
			return fmt.Errorf("write index entry key: %w", err)
		}
		w.pos += uint32(12 + len(e.MaxKey))
	}
	indexLen := w.pos - indexOffset

	filterBytes := w.filter.Bytes()
	if _, err = w.buf.Write(filterBytes); err != nil {
		return fmt.Errorf("write filter block: %w", err)
	}
	w.pos += uint32(len(filterBytes))

	footer := Footer{
		IndexOffset: indexOffset,
		IndexLength: indexLen,
		FilterLen:   uint32(len(filterBytes)),
		KVTotal:     w.total,
	}
	enc := footer.Encode()
	if _, err = w.buf.Write(enc[:]); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}

	if err = w.buf.Flush(); err != nil {
		return fmt.Errorf("flush SSTable: %w", err)
	}
	if err = w.f.Sync(); err != nil {
		return fmt.Errorf("sync SSTable: %w", err)
	}
	if err = w.f.Close(); err != nil {
		return fmt.Errorf("close SSTable: %w", err)
	}
	if err = os.Rename(w.tempPath, w.finalPath); err != nil {
		return fmt.Errorf("finalize SSTable %s: %w", w.finalPath, err)
	}
	return nil
}

// Abort discards the in-progress temp file (used when a writer must be
// abandoned, e.g. a panic-recovered compaction pass).
func (w *Writer) Abort() {
	w.f.Close()
	os.Remove(w.tempPath)
}
