package cache

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeIndex(t *testing.T, entries []Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.idx")
	w, err := NewIndexWriter(path)
	if err != nil {
		t.Fatalf("NewIndexWriter() error: %v", err)
	}
	for _, e := range entries {
		w.Add(e.Key, e.Value)
	}
	if w.Len() != len(entries) {
		t.Errorf("Len() = %d, want %d", w.Len(), len(entries))
	}
	if err := w.WriteAll(); err != nil {
		t.Fatalf("WriteAll() error: %v", err)
	}
	return path
}

func TestIndexGetAndForEach(t *testing.T) {
	// Inserted out of order with duplicate keys
	path := writeIndex(t, []Entry{
		{Key: 10, Value: 300},
		{Key: 3, Value: 7},
		{Key: 10, Value: 100},
		{Key: 5, Value: 1},
		{Key: 10, Value: 200},
		{Key: 10, Value: 100},
	})

	r, err := OpenIndexReader(path)
	if err != nil {
		t.Fatalf("OpenIndexReader() error: %v", err)
	}
	if r.Len() != 6 {
		t.Errorf("Len() = %d, want 6", r.Len())
	}

	tests := []struct {
		key       Key
		wantFirst uint64
		wantOK    bool
		wantAll   []uint64
	}{
		{key: 10, wantFirst: 100, wantOK: true, wantAll: []uint64{100, 100, 200, 300}},
		{key: 3, wantFirst: 7, wantOK: true, wantAll: []uint64{7}},
		{key: 5, wantFirst: 1, wantOK: true, wantAll: []uint64{1}},
		{key: 4, wantOK: false},
		{key: 0, wantOK: false},
		{key: 999, wantOK: false},
	}

	for _, tt := range tests {
		got, ok := r.Get(tt.key)
		if ok != tt.wantOK || got != tt.wantFirst {
			t.Errorf("Get(%d) = (%d, %v), want (%d, %v)", tt.key, got, ok, tt.wantFirst, tt.wantOK)
		}

		var all []uint64
		r.ForEach(tt.key, func(v uint64) ControlFlow {
			all = append(all, v)
			return Continue
		})
		if !slices.Equal(all, tt.wantAll) {
			t.Errorf("ForEach(%d) visited %v, want %v", tt.key, all, tt.wantAll)
		}
	}
}

func TestIndexForEachStop(t *testing.T) {
	path := writeIndex(t, []Entry{{Key: 1, Value: 1}, {Key: 1, Value: 2}, {Key: 1, Value: 3}})
	r, err := OpenIndexReader(path)
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	r.ForEach(1, func(v uint64) ControlFlow {
		calls++
		return Stop
	})
	if calls != 1 {
		t.Errorf("visitor called %d times after Stop, want 1", calls)
	}
}

func TestIndexRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	want := make(map[Key][]uint64)
	var entries []Entry
	for i := 0; i < 5000; i++ {
		k := Key(rng.Intn(500))
		v := rng.Uint64()
		entries = append(entries, Entry{Key: k, Value: v})
		want[k] = append(want[k], v)
	}

	r, err := OpenIndexReader(writeIndex(t, entries))
	if err != nil {
		t.Fatal(err)
	}

	for k := Key(0); k < 520; k++ {
		values := want[k]
		slices.Sort(values)

		first, ok := r.Get(k)
		if ok != (len(values) > 0) {
			t.Fatalf("Get(%d) ok = %v, want %v", k, ok, len(values) > 0)
		}
		if ok && first != values[0] {
			t.Errorf("Get(%d) = %d, want smallest %d", k, first, values[0])
		}

		var got []uint64
		r.ForEach(k, func(v uint64) ControlFlow {
			got = append(got, v)
			return Continue
		})
		if !slices.Equal(got, values) {
			t.Errorf("ForEach(%d) = %d values, want %d", k, len(got), len(values))
		}
	}
}

func TestIndexEmpty(t *testing.T) {
	r, err := OpenIndexReader(writeIndex(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get(1); ok {
		t.Error("Get on empty index returned ok")
	}
	r.ForEach(1, func(uint64) ControlFlow {
		t.Error("visitor called on empty index")
		return Continue
	})
}

func TestIndexWriteAllTwice(t *testing.T) {
	w, err := NewIndexWriter(filepath.Join(t.TempDir(), "twice.idx"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAll(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAll(); !errors.Is(err, ErrClosed) {
		t.Errorf("second WriteAll() error = %v, want ErrClosed", err)
	}
}

func TestOpenIndexReaderErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		_, err := OpenIndexReader(filepath.Join(dir, "missing.idx"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("error = %v, want os.ErrNotExist", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		path := filepath.Join(dir, "short.idx")
		if err := os.WriteFile(path, make([]byte, entrySize+3), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := OpenIndexReader(path); !errors.Is(err, ErrTruncated) {
			t.Errorf("error = %v, want ErrTruncated", err)
		}
	})

	t.Run("unsorted", func(t *testing.T) {
		path := filepath.Join(dir, "unsorted.idx")
		data := make([]byte, 2*entrySize)
		data[0] = 9 // first key 9, second key 0
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := OpenIndexReader(path); !errors.Is(err, ErrCorrupt) {
			t.Errorf("error = %v, want ErrCorrupt", err)
		}
	})
}
