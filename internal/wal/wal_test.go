package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

type record struct {
	key, value []byte
}

func collectSimple(t *testing.T, dbPath string) []record {
	t.Helper()
	var out []record
	w, err := OpenSimple(dbPath, func(key, value []byte) error {
		out = append(out, record{key: key, value: value})
		return nil
	})
	if err != nil {
		t.Fatalf("reopen WAL: %v", err)
	}
	w.Close()
	return out
}

func TestSimple_AppendReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenSimple(dir, nil)
	if err != nil {
		t.Fatalf("open WAL: %v", err)
	}
	if err := w.Append(Options{}, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(Options{Sync: true}, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("append sync: %v", err)
	}
	w.Close()

	got := collectSimple(t, dir)
	if len(got) != 2 {
		t.Fatalf("replayed %d records, want 2", len(got))
	}
	if string(got[0].key) != "a" || string(got[0].value) != "1" {
		t.Errorf("record 0 = (%q,%q)", got[0].key, got[0].value)
	}
	if string(got[1].key) != "b" || string(got[1].value) != "2" {
		t.Errorf("record 1 = (%q,%q)", got[1].key, got[1].value)
	}
}

func TestSimple_TombstoneReplaysAsNilValue(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenSimple(dir, nil)
	if err != nil {
		t.Fatalf("open WAL: %v", err)
	}
	if err := w.Append(Options{}, []byte("gone"), nil); err != nil {
		t.Fatalf("append tombstone: %v", err)
	}
	w.Close()

	got := collectSimple(t, dir)
	if len(got) != 1 {
		t.Fatalf("replayed %d records, want 1", len(got))
	}
	if got[0].value != nil {
		t.Errorf("tombstone value = %v, want nil", got[0].value)
	}
}

func TestSimple_FreezeAndClear(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenSimple(dir, nil)
	if err != nil {
		t.Fatalf("open WAL: %v", err)
	}
	if err := w.Append(Options{}, []byte("frozen"), []byte("1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Rotation: the mutable log's contents become the immutable log's.
	if err := w.FreezeMutLog(); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := w.Append(Options{}, []byte("fresh"), []byte("2")); err != nil {
		t.Fatalf("append after freeze: %v", err)
	}
	w.Close()

	// Rotation swaps the in-memory handles, so on disk "frozen" stays in
	// 1.log and "fresh" lands in 0.log; replay reads 1.log then 0.log.
	got := collectSimple(t, dir)
	if len(got) != 2 {
		t.Fatalf("replayed %d records, want 2", len(got))
	}
	if string(got[0].key) != "frozen" || string(got[1].key) != "fresh" {
		t.Errorf("replay order = %q, %q; want frozen, fresh", got[0].key, got[1].key)
	}

	// A reopen resets the role parity: 0.log is the immutable file again,
	// so ClearImmLog drops "fresh" and keeps "frozen".
	w2, err := OpenSimple(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w2.ClearImmLog(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	w2.Close()

	got = collectSimple(t, dir)
	if len(got) != 1 {
		t.Fatalf("replayed %d records after clear, want 1", len(got))
	}
	if string(got[0].key) != "frozen" {
		t.Errorf("surviving record = %q, want frozen", got[0].key)
	}
}

func TestSimple_TornTailStopsReplayCleanly(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenSimple(dir, nil)
	if err != nil {
		t.Fatalf("open WAL: %v", err)
	}
	if err := w.Append(Options{}, []byte("whole"), []byte("1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	w.Close()

	// Simulate a crash mid-append: a header promising more bytes than
	// exist.
	path := filepath.Join(dir, "log", "1.log")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log for corruption: %v", err)
	}
	f.Write([]byte{0xFF, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 'x'})
	f.Close()

	got := collectSimple(t, dir)
	if len(got) != 1 {
		t.Fatalf("replayed %d records, want 1 (torn tail dropped)", len(got))
	}
	if string(got[0].key) != "whole" {
		t.Errorf("surviving record = %q, want whole", got[0].key)
	}
}

func TestLSN_GroupAppendReplay(t *testing.T) {
	dir := t.TempDir()

	l, err := OpenLSN(dir, nil)
	if err != nil {
		t.Fatalf("open LSN WAL: %v", err)
	}
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("del")}
	values := [][]byte{[]byte("1"), []byte("2"), nil}
	if err := l.AppendGroup(Options{Sync: true}, 7, keys, values); err != nil {
		t.Fatalf("append group: %v", err)
	}
	if err := l.AppendGroup(Options{}, 8, [][]byte{[]byte("c")}, [][]byte{[]byte("3")}); err != nil {
		t.Fatalf("append second group: %v", err)
	}
	l.Close()

	type lsnRecord struct {
		seq        uint64
		key, value []byte
	}
	var got []lsnRecord
	l2, err := OpenLSN(dir, func(seq uint64, key, value []byte) error {
		got = append(got, lsnRecord{seq: seq, key: key, value: value})
		return nil
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l2.Close()

	if len(got) != 4 {
		t.Fatalf("replayed %d records, want 4", len(got))
	}
	for _, r := range got[:3] {
		if r.seq != 7 {
			t.Errorf("first group record %q has seq %d, want 7", r.key, r.seq)
		}
	}
	if got[2].value != nil {
		t.Errorf("tombstone replayed with value %q", got[2].value)
	}
	if got[3].seq != 8 || !bytes.Equal(got[3].key, []byte("c")) {
		t.Errorf("second group record = (%d, %q)", got[3].seq, got[3].key)
	}
}

func TestLSN_RejectsSentinelSeq(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLSN(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	if err := l.AppendGroup(Options{}, ^uint64(0), [][]byte{[]byte("k")}, [][]byte{[]byte("v")}); err == nil {
		t.Error("seq == START_TRANSACTION sentinel must be rejected")
	}
	if err := l.AppendGroup(Options{}, 0, [][]byte{[]byte("k")}, [][]byte{[]byte("v")}); err == nil {
		t.Error("seq == END_TRANSACTION sentinel must be rejected")
	}
	if err := l.AppendGroup(Options{}, 1, [][]byte{[]byte("k")}, nil); err == nil {
		t.Error("mismatched keys/values lengths must be rejected")
	}
}

func TestLSN_MalformedFramingRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "log"), 0o755); err != nil {
		t.Fatal(err)
	}
	// A group that opens with END_TRANSACTION (eight zero bytes) is
	// malformed.
	if err := os.WriteFile(filepath.Join(dir, "log", "1.log"), make([]byte, 8), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := OpenLSN(dir, func(seq uint64, key, value []byte) error { return nil })
	if err == nil {
		t.Fatal("expected replay to reject malformed framing")
	}
}

func TestLSN_TornGroupTailDropped(t *testing.T) {
	dir := t.TempDir()

	l, err := OpenLSN(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.AppendGroup(Options{}, 3, [][]byte{[]byte("ok")}, [][]byte{[]byte("1")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	l.Close()

	// Truncate mid-way through the second group's framing: a START
	// sentinel with nothing after it.
	path := filepath.Join(dir, "log", "1.log")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	f.Close()

	var count int
	l2, err := OpenLSN(dir, func(seq uint64, key, value []byte) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l2.Close()

	if count != 1 {
		t.Errorf("replayed %d records, want 1 (torn group dropped)", count)
	}
}
