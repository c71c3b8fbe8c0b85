package iter

import (
	"errors"
	"testing"
)

// sliceSource yields a fixed list of pairs, optionally failing partway.
type sliceSource struct {
	pairs   [][2]string
	idx     int
	failAt  int
	failErr error
}

func (s *sliceSource) Next() (key, value []byte, ok bool, err error) {
	if s.failErr != nil && s.idx == s.failAt {
		return nil, nil, false, s.failErr
	}
	if s.idx >= len(s.pairs) {
		return nil, nil, false, nil
	}
	p := s.pairs[s.idx]
	s.idx++
	return []byte(p[0]), []byte(p[1]), true, nil
}

func collect(t *testing.T, m *Merged) (keys, vals []string) {
	t.Helper()
	for {
		k, v, ok, err := m.Next()
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
		if !ok {
			return keys, vals
		}
		keys = append(keys, string(k))
		vals = append(vals, string(v))
	}
}

func TestMerged_AscendingAcrossSources(t *testing.T) {
	m, err := NewMerged([]Source{
		&sliceSource{pairs: [][2]string{{"a", "1"}, {"d", "4"}}},
		&sliceSource{pairs: [][2]string{{"b", "2"}, {"c", "3"}, {"e", "5"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	keys, _ := collect(t, m)
	want := []string{"a", "b", "c", "d", "e"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestMerged_NewestSourceWinsTies(t *testing.T) {
	// Source 0 is the newest; its value for the shared key must win and
	// the older duplicate must be suppressed entirely.
	m, err := NewMerged([]Source{
		&sliceSource{pairs: [][2]string{{"k", "new"}}},
		&sliceSource{pairs: [][2]string{{"k", "old"}, {"z", "zz"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	keys, vals := collect(t, m)
	if len(keys) != 2 || keys[0] != "k" || vals[0] != "new" {
		t.Fatalf("merge = %v/%v, want k=new then z", keys, vals)
	}
}

func TestMerged_TombstonePassedThrough(t *testing.T) {
	// An empty value from the newer source shadows the older value but is
	// NOT filtered by the merge itself; that's the consumer's job.
	m, err := NewMerged([]Source{
		&sliceSource{pairs: [][2]string{{"k", ""}}},
		&sliceSource{pairs: [][2]string{{"k", "resurrected?"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	keys, vals := collect(t, m)
	if len(keys) != 1 {
		t.Fatalf("merge emitted %d keys, want 1", len(keys))
	}
	if vals[0] != "" {
		t.Errorf("tombstone must survive the merge, got %q", vals[0])
	}
}

func TestMerged_ThreeWayDuplicates(t *testing.T) {
	m, err := NewMerged([]Source{
		&sliceSource{pairs: [][2]string{{"k", "v0"}}},
		&sliceSource{pairs: [][2]string{{"k", "v1"}}},
		&sliceSource{pairs: [][2]string{{"k", "v2"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	keys, vals := collect(t, m)
	if len(keys) != 1 || vals[0] != "v0" {
		t.Fatalf("merge = %v/%v, want single k=v0", keys, vals)
	}
}

func TestMerged_EmptySources(t *testing.T) {
	m, err := NewMerged([]Source{
		&sliceSource{},
		&sliceSource{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if keys, _ := collect(t, m); len(keys) != 0 {
		t.Errorf("empty sources emitted %v", keys)
	}
}

func TestMerged_PropagatesSourceError(t *testing.T) {
	boom := errors.New("disk gone")
	m, err := NewMerged([]Source{
		&sliceSource{pairs: [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}, failAt: 2, failErr: boom},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _, ok, err := m.Next()
	if !ok || err != nil {
		t.Fatalf("first Next = (ok=%v, err=%v)", ok, err)
	}
	_, _, _, err = m.Next()
	if !errors.Is(err, boom) {
		t.Errorf("expected source error to propagate, got %v", err)
	}
}
