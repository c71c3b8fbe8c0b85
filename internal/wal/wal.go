// Package wal implements KVLite's write-ahead log: a two-file rotation
// scheme (log/0.log immutable, log/1.log mutable) with a simple per-record
// format, plus an LSN-framed variant for batched/transactional writes.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Options configures how writes are flushed.
type Options struct {
	// Sync requests an fsync after every append.
	Sync bool
}

// RecordHandler is invoked once per (key, value) record during replay.
// value is nil for a tombstone.
type RecordHandler func(key, value []byte) error

// Simple is KVLite's two-file WAL. Record format:
//
//	u32 key_len | u32 value_len (0 => tombstone) | key | value
type Simple struct {
	mu       sync.Mutex
	dir      string
	imm      *os.File // log/0.log
	mut      *os.File // log/1.log
	mutBuf   *bufio.Writer
}

func logDir(dbPath string) string { return filepath.Join(dbPath, "log") }
func immLogPath(dir string) string { return filepath.Join(dir, "0.log") }
func mutLogPath(dir string) string { return filepath.Join(dir, "1.log") }

// OpenSimple opens (creating if needed) the two WAL files under dbPath/log,
// replaying first the mutable log then the immutable log into handler.
func OpenSimple(dbPath string, handler RecordHandler) (*Simple, error) {
	dir := logDir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}

	imm, err := openAppend(immLogPath(dir))
	if err != nil {
		return nil, fmt.Errorf("open immutable WAL: %w", err)
	}
	mut, err := openAppend(mutLogPath(dir))
	if err != nil {
		imm.Close()
		return nil, fmt.Errorf("open mutable WAL: %w", err)
	}

	if handler != nil {
		if err := loadLog(mut, handler); err != nil {
			imm.Close()
			mut.Close()
			return nil, fmt.Errorf("replay mutable WAL: %w", err)
		}
		if err := loadLog(imm, handler); err != nil {
			imm.Close()
			mut.Close()
			return nil, fmt.Errorf("replay immutable WAL: %w", err)
		}
	}

	if _, err := mut.Seek(0, io.SeekEnd); err != nil {
		imm.Close()
		mut.Close()
		return nil, err
	}

	return &Simple{
		dir:    dir,
		imm:    imm,
		mut:    mut,
		mutBuf: bufio.NewWriter(mut),
	}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

// Append writes one record to the mutable log. A nil value encodes a
// tombstone.
func (s *Simple) Append(opts Options, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeRecord(s.mutBuf, key, value); err != nil {
		return fmt.Errorf("append WAL record: %w", err)
	}
	if err := s.mutBuf.Flush(); err != nil {
		return fmt.Errorf("flush WAL: %w", err)
	}
	if opts.Sync {
		if err := s.mut.Sync(); err != nil {
			return fmt.Errorf("sync WAL: %w", err)
		}
	}
	return nil
}

func writeRecord(w io.Writer, key, value []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(value)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	_, err := w.Write(value)
	return err
}

// loadLog replays every complete record in file into handler, stopping
// cleanly (not erroring) at the first short read, since a torn tail record
// from an unclean shutdown is simply dropped.
func loadLog(f *os.File, handler RecordHandler) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(f)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}
		keyLen := binary.LittleEndian.Uint32(hdr[0:4])
		valLen := binary.LittleEndian.Uint32(hdr[4:8])
		isTombstone := valLen == 0

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			break
		}

		var value []byte
		if !isTombstone {
			value = make([]byte, valLen)
			if _, err := io.ReadFull(r, value); err != nil {
				break
			}
		}
		if err := handler(key, value); err != nil {
			return err
		}
	}
	return nil
}

// FreezeMutLog swaps the immutable and mutable file handles (the mutable
// log becomes the new immutable log) and truncates the new mutable log to
// empty. Called when a memtable is frozen for flushing.
func (s *Simple) FreezeMutLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mutBuf.Flush(); err != nil {
		return err
	}
	s.imm, s.mut = s.mut, s.imm
	if err := s.mut.Truncate(0); err != nil {
		return err
	}
	if _, err := s.mut.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := s.mut.Sync(); err != nil {
		return err
	}
	s.mutBuf = bufio.NewWriter(s.mut)
	return nil
}

// ClearImmLog truncates the immutable log to empty, called once a flush of
// the frozen memtable has fully landed as an SSTable.
func (s *Simple) ClearImmLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.imm.Truncate(0); err != nil {
		return err
	}
	if _, err := s.imm.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return s.imm.Sync()
}

// Close flushes and closes both log files.
func (s *Simple) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mutBuf.Flush(); err != nil {
		return err
	}
	if err := s.mut.Close(); err != nil {
		return err
	}
	return s.imm.Close()
}
