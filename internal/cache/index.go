// Package cache stores data in files together with sorted key/offset indexes
// so entities can be found on disk by key without loading the whole dataset.
package cache

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/wegman-software/osm-intermediate/internal/logger"
)

// Key identifies a node, way or relation
type Key = uint64

// entrySize is the on-disk size of one (key, value) pair
const entrySize = 16

var (
	// ErrTruncated is returned when an index file is not a whole number of entries
	ErrTruncated = errors.New("cache: truncated index file")
	// ErrCorrupt is returned when index entries are not sorted
	ErrCorrupt = errors.New("cache: index entries out of order")
	// ErrClosed is returned when writing to a finalized writer
	ErrClosed = errors.New("cache: writer already finalized")
)

// ControlFlow tells a traversal whether to keep going
type ControlFlow int

const (
	Continue ControlFlow = iota
	Stop
)

// Entry is one (key, value) pair. Value is either a byte offset into a data
// file or, for reference indexes, the key of another entity.
type Entry struct {
	Key   Key
	Value uint64
}

func compareEntries(a, b Entry) int {
	if c := cmp.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return cmp.Compare(a.Value, b.Value)
}

// IndexWriter accumulates entries in memory and writes them sorted in one pass.
// Add is not safe for concurrent use.
type IndexWriter struct {
	path    string
	file    *os.File
	entries []Entry
}

// NewIndexWriter creates (or truncates) the index file at path
func NewIndexWriter(path string) (*IndexWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create index file: %w", err)
	}
	return &IndexWriter{path: path, file: f}, nil
}

// Add appends an entry. Duplicate keys are allowed.
func (w *IndexWriter) Add(key Key, value uint64) {
	w.entries = append(w.entries, Entry{Key: key, Value: value})
}

// Len returns the number of entries added so far
func (w *IndexWriter) Len() int {
	return len(w.entries)
}

// WriteAll sorts the entries by (key, value), writes them and closes the file
func (w *IndexWriter) WriteAll() error {
	if w.file == nil {
		return ErrClosed
	}
	f := w.file
	w.file = nil

	slices.SortFunc(w.entries, compareEntries)

	bw := bufio.NewWriterSize(f, 1<<20)
	var buf [entrySize]byte
	for _, e := range w.entries {
		binary.LittleEndian.PutUint64(buf[0:], e.Key)
		binary.LittleEndian.PutUint64(buf[8:], e.Value)
		if _, err := bw.Write(buf[:]); err != nil {
			f.Close()
			return fmt.Errorf("failed to write index %s: %w", w.path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush index %s: %w", w.path, err)
	}

	logger.Get().Debug("Index written", zap.String("path", w.path), zap.Int("entries", len(w.entries)))
	w.entries = nil
	return f.Close()
}

// IndexReader holds a finalized index in memory. It is immutable and safe
// for concurrent use.
type IndexReader struct {
	path    string
	entries []Entry
}

// OpenIndexReader loads the whole index file at path
func OpenIndexReader(path string) (*IndexReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}
	if len(data)%entrySize != 0 {
		return nil, fmt.Errorf("%s: %d bytes: %w", path, len(data), ErrTruncated)
	}

	entries := make([]Entry, len(data)/entrySize)
	for i := range entries {
		off := i * entrySize
		entries[i] = Entry{
			Key:   binary.LittleEndian.Uint64(data[off:]),
			Value: binary.LittleEndian.Uint64(data[off+8:]),
		}
	}
	if !slices.IsSortedFunc(entries, compareEntries) {
		return nil, fmt.Errorf("%s: %w", path, ErrCorrupt)
	}

	return &IndexReader{path: path, entries: entries}, nil
}

// Len returns the number of entries
func (r *IndexReader) Len() int {
	return len(r.entries)
}

// lowerBound returns the position of the first entry with Key >= key
func (r *IndexReader) lowerBound(key Key) int {
	i, _ := slices.BinarySearchFunc(r.entries, key, func(e Entry, k Key) int {
		return cmp.Compare(e.Key, k)
	})
	return i
}

// Get returns the smallest value stored for key
func (r *IndexReader) Get(key Key) (uint64, bool) {
	i := r.lowerBound(key)
	if i == len(r.entries) || r.entries[i].Key != key {
		logger.Get().Debug("Key not found in index", zap.String("path", r.path), zap.Uint64("key", key))
		return 0, false
	}
	return r.entries[i].Value, true
}

// ForEach calls fn for every value stored for key in ascending order until
// fn returns Stop
func (r *IndexReader) ForEach(key Key, fn func(value uint64) ControlFlow) {
	for i := r.lowerBound(key); i < len(r.entries) && r.entries[i].Key == key; i++ {
		if fn(r.entries[i].Value) == Stop {
			return
		}
	}
}
