package sstable

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/dd0wney/kvlite/internal/lru"
)

func writeTable(t *testing.T, dir string, level int, id uint64, n int) {
	t.Helper()
	w, err := NewWriter(dir, level, id, n)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		val := []byte(fmt.Sprintf("value-%d", i))
		if err := w.Add(key, val); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestSSTable_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	const n = 100
	writeTable(t, dir, 0, 1, n)

	r, err := Open(Path(dir, 0, 1), 0, 1, lru.New())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if r.KVTotal() != n {
		t.Errorf("KVTotal = %d, want %d", r.KVTotal(), n)
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		v, found, err := r.Get(key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if !found || string(v) != fmt.Sprintf("value-%d", i) {
			t.Fatalf("get %s = %q (found=%v)", key, v, found)
		}
	}
	if _, found, _ := r.Get([]byte("absent")); found {
		t.Error("absent key reported present")
	}
}

func TestSSTable_MinMaxKeys(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 1, 2, 50)

	r, err := Open(Path(dir, 1, 2), 1, 2, lru.New())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if string(r.MinKey()) != "key-000000" {
		t.Errorf("MinKey = %q", r.MinKey())
	}
	if string(r.MaxKey()) != "key-000049" {
		t.Errorf("MaxKey = %q", r.MaxKey())
	}
}

func TestSSTable_BlockBoundaries(t *testing.T) {
	dir := t.TempDir()
	// One more record than an exact multiple of the block size exercises
	// the trailing-partial-block index entry.
	writeTable(t, dir, 0, 3, MaxBlockKVPairs*3+1)

	r, err := Open(Path(dir, 0, 3), 0, 3, lru.New())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	index, err := r.loadIndex()
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	if len(index) != 4 {
		t.Errorf("expected 4 index entries, got %d", len(index))
	}

	// Keys on either side of a block boundary must both resolve.
	for _, i := range []int{MaxBlockKVPairs - 1, MaxBlockKVPairs, MaxBlockKVPairs * 3} {
		key := []byte(fmt.Sprintf("key-%06d", i))
		_, found, err := r.Get(key)
		if err != nil || !found {
			t.Errorf("boundary key %s not found (err=%v)", key, err)
		}
	}
}

func TestSSTable_IteratorFullScan(t *testing.T) {
	dir := t.TempDir()
	const n = 77
	writeTable(t, dir, 0, 4, n)

	r, err := Open(Path(dir, 0, 4), 0, 4, lru.New())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	it, err := r.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	var prev []byte
	count := 0
	for {
		k, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		if prev != nil && bytes.Compare(prev, k) >= 0 {
			t.Fatalf("scan out of order: %q then %q", prev, k)
		}
		prev = append(prev[:0], k...)
		count++
	}
	if count != n {
		t.Errorf("scan saw %d records, want %d", count, n)
	}
}

func TestSSTable_TombstoneRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Add([]byte("dead"), nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Add([]byte("live"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(Path(dir, 0, 5), 0, 5, lru.New())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	v, found, err := r.Get([]byte("dead"))
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("tombstone must read back as found=true with an empty value")
	}
	if len(v) != 0 {
		t.Errorf("tombstone value = %q", v)
	}
}

func TestSSTable_CorruptFooterMagicRejected(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 0, 6, 10)

	path := Path(dir, 0, 6)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Smash the magic (last 4 bytes).
	for i := len(data) - 4; i < len(data); i++ {
		data[i] = 0
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, 0, 6, lru.New()); err == nil {
		t.Fatal("expected open to reject a corrupt footer magic")
	}
}

func TestSSTable_FinishRenamesTempFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0, 7, 1)
	if err != nil {
		t.Fatal(err)
	}
	tmp := Path(dir, 0, 7) + "_write"
	if _, err := os.Stat(tmp); err != nil {
		t.Fatalf("temp file missing during write: %v", err)
	}
	if err := w.Add([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("temp file survived Finish")
	}
	if _, err := os.Stat(Path(dir, 0, 7)); err != nil {
		t.Errorf("final file missing: %v", err)
	}
}

func TestSSTable_AbortRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 0, 8, 1)
	if err != nil {
		t.Fatal(err)
	}
	w.Abort()
	if _, err := os.Stat(Path(dir, 0, 8) + "_write"); !os.IsNotExist(err) {
		t.Error("temp file survived Abort")
	}
}

func TestSSTable_StatusTransitions(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 0, 9, 5)

	r, err := Open(Path(dir, 0, 9), 0, 9, lru.New())
	if err != nil {
		t.Fatal(err)
	}

	if !r.TryMarkCompacting() {
		t.Fatal("Store -> Compacting must succeed once")
	}
	if r.TryMarkCompacting() {
		t.Fatal("Store -> Compacting must not succeed twice")
	}
	r.RevertCompacting()
	if r.Status() != StatusStore {
		t.Errorf("status after revert = %v, want Store", r.Status())
	}

	// ToDelete is terminal: the last Release unlinks the file.
	r.MarkToDelete()
	r.Release()
	if _, err := os.Stat(Path(dir, 0, 9)); !os.IsNotExist(err) {
		t.Error("file not unlinked after last release of a ToDelete table")
	}
}

func TestSSTable_ReferenceHoldsFileAlive(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 0, 10, 5)

	r, err := Open(Path(dir, 0, 10), 0, 10, lru.New())
	if err != nil {
		t.Fatal(err)
	}

	r.Acquire() // a reader in flight
	r.MarkToDelete()
	r.Release() // the manager's reference
	if _, err := os.Stat(Path(dir, 0, 10)); err != nil {
		t.Fatal("file unlinked while a reader still holds a reference")
	}
	r.Release() // the reader drops
	if _, err := os.Stat(Path(dir, 0, 10)); !os.IsNotExist(err) {
		t.Error("file not unlinked after the last reader dropped")
	}
}

func TestSSTable_CachePopulatedOnRead(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 0, 11, 20)

	cache := lru.New()
	r, err := Open(Path(dir, 0, 11), 0, 11, cache)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, _, err := r.Get([]byte("key-000001")); err != nil {
		t.Fatal(err)
	}
	if cache.Len() == 0 {
		t.Error("a successful read should have populated the cache")
	}

	// Second read should hit.
	if _, _, err := r.Get([]byte("key-000002")); err != nil {
		t.Fatal(err)
	}
	hits, _ := cache.Stats()
	if hits == 0 {
		t.Error("second read should have hit the cache")
	}
}

func TestFooter_EncodeDecode(t *testing.T) {
	f := Footer{IndexOffset: 1, IndexLength: 2, FilterLen: 3, KVTotal: 4}
	enc := f.Encode()
	got, err := DecodeFooter(enc[:])
	if err != nil {
		t.Fatal(err)
	}
	if got != f {
		t.Errorf("round trip = %+v, want %+v", got, f)
	}

	if _, err := DecodeFooter(enc[:10]); err == nil {
		t.Error("short footer must be rejected")
	}
}

func TestTableKey_PacksIDAndLevel(t *testing.T) {
	if TableKey(1, 0) == TableKey(1, 1) {
		t.Error("same id at different levels must produce different table keys")
	}
	if TableKey(1, 3) == TableKey(2, 3) {
		t.Error("different ids at the same level must produce different table keys")
	}
}
