package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/dd0wney/kvlite/pkg/pools"
)

// Sentinels framing a transaction group in the LSN-WAL variant. Both
// values are unusable as sequence numbers, which is what makes the
// framing self-describing.
const (
	startTransaction = ^uint64(0)
	endTransaction   = uint64(0)
)

// ErrMalformedTransaction is returned by LSN replay when a group's framing
// is inconsistent (a nested START, an END with no open group, or anything
// other than START where a group should begin). A group cut off by EOF
// before its END is not an error: replay drops it and stops.
var ErrMalformedTransaction = fmt.Errorf("wal: malformed transaction framing")

// LSNRecordHandler is invoked once per (seq, key, value) record. value is
// nil for a tombstone.
type LSNRecordHandler func(seq uint64, key, value []byte) error

// LSN is the batch/transaction-framed WAL variant used by the sequence-
// numbered key layer (snapshots, write batches). Group record format:
//
//	u64 START_TRANSACTION(=max) | u64 seq |
//	  { u64 key_len | u64 value_len | key | value }* | u64 END_TRANSACTION(=0)
//
// Replay accepts only this group form. AppendGroup always writes it, so
// every appended batch, including a batch of one, is replay-atomic.
type LSN struct {
	*Simple
}

// OpenLSN opens the same two-file rotation as Simple but replays using the
// transaction-framed record format.
func OpenLSN(dbPath string, handler LSNRecordHandler) (*LSN, error) {
	s, err := openSimpleForLSN(dbPath, handler)
	if err != nil {
		return nil, err
	}
	return &LSN{Simple: s}, nil
}

func openSimpleForLSN(dbPath string, handler LSNRecordHandler) (*Simple, error) {
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
		if err := loadLSNLog(mut, handler); err != nil {
			imm.Close()
			mut.Close()
			return nil, fmt.Errorf("replay mutable WAL: %w", err)
		}
		if err := loadLSNLog(imm, handler); err != nil {
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

	return &Simple{dir: dir, imm: imm, mut: mut, mutBuf: bufio.NewWriter(mut)}, nil
}

// AppendGroup writes a complete transaction group: the sequence number
// plus every (key, value) pair committed under it, framed by START/END
// sentinels, then flushes and (if requested) fsyncs once for the whole
// group: one flush+sync for many logical writes instead of one per
// write.
func (l *LSN) AppendGroup(opts Options, seq uint64, keys, values [][]byte) error {
	if len(keys) != len(values) {
		return fmt.Errorf("wal: keys/values length mismatch")
	}
	if seq == startTransaction || seq == endTransaction {
		return fmt.Errorf("wal: sequence number collides with a framing sentinel")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Build the whole frame in a pooled buffer so a group lands in the
	// bufio writer as one contiguous write.
	frame := pools.NewBufferBuilder(64)
	defer frame.Release()

	frame.WriteUint64LE(startTransaction)
	frame.WriteUint64LE(seq)
	for i := range keys {
		frame.WriteUint64LE(uint64(len(keys[i])))
		frame.WriteUint64LE(uint64(len(values[i])))
		frame.Write(keys[i])
		frame.Write(values[i])
	}
	frame.WriteUint64LE(endTransaction)

	if _, err := l.mutBuf.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("append WAL group: %w", err)
	}

	if err := l.mutBuf.Flush(); err != nil {
		return fmt.Errorf("flush WAL: %w", err)
	}
	if opts.Sync {
		if err := l.mut.Sync(); err != nil {
			return fmt.Errorf("sync WAL: %w", err)
		}
	}
	return nil
}

func loadLSNLog(f *os.File, handler LSNRecordHandler) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(f)

	readU64 := func() (uint64, bool, error) {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return 0, false, nil
			}
			return 0, false, err
		}
		return binary.LittleEndian.Uint64(b[:]), true, nil
	}

	for {
		lead, ok, err := readU64()
		if err != nil {
			return err
		}
		if !ok {
			return nil // clean EOF between groups
		}
		if lead == endTransaction {
			return ErrMalformedTransaction // END with no matching START
		}
		if lead != startTransaction {
			return ErrMalformedTransaction // garbage where a group should start
		}

		seq, ok, err := readU64()
		if err != nil {
			return err
		}
		if !ok {
			return nil // torn write mid-header: drop the partial group
		}

		for {
			keyLen, ok, err := readU64()
			if err != nil {
				return err
			}
			if !ok {
				return nil // torn group tail: drop it, don't apply partial writes
			}
			if keyLen == endTransaction {
				break // this is the END_TRANSACTION sentinel
			}
			if keyLen == startTransaction {
				return ErrMalformedTransaction // nested START
			}

			valLen, ok, err := readU64()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			key := make([]byte, keyLen)
			if _, err := io.ReadFull(r, key); err != nil {
				return nil
			}
			var value []byte
			if valLen > 0 {
				value = make([]byte, valLen)
				if _, err := io.ReadFull(r, value); err != nil {
					return nil
				}
			}
			if err := handler(seq, key, value); err != nil {
				return err
			}
		}
	}
}
