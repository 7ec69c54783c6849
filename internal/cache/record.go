package cache

import (
	"bufio"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-intermediate/internal/logger"
)

// OffsetExt is appended to a data file path to name its offset index
const OffsetExt = ".offs"

// lengthSize is the size of the length prefix in front of every record
const lengthSize = 4

var (
	// ErrRecordTooLarge is returned when a serialized record does not fit the 32-bit length prefix
	ErrRecordTooLarge = errors.New("cache: record exceeds 4 GiB length limit")
	// ErrCorruptOffset is returned when an offset or length points outside the data file
	ErrCorruptOffset = errors.New("cache: record offset out of range")
)

// Record pairs a key with the value to store under it
type Record struct {
	Key   Key
	Value encoding.BinaryAppender
}

func checkRecordSize(n int) error {
	if uint64(n) > math.MaxUint32 {
		return fmt.Errorf("%d bytes: %w", n, ErrRecordTooLarge)
	}
	return nil
}

// appendRecord appends [uint32 length][payload] for v to buf
func appendRecord(buf []byte, v encoding.BinaryAppender) ([]byte, error) {
	start := len(buf)
	buf = append(buf, 0, 0, 0, 0)
	buf, err := v.AppendBinary(buf)
	if err != nil {
		return buf[:start], err
	}
	size := len(buf) - start - lengthSize
	if err := checkRecordSize(size); err != nil {
		return buf[:start], err
	}
	binary.LittleEndian.PutUint32(buf[start:], uint32(size))
	return buf, nil
}

// RecordWriter appends length-prefixed records to a data file and indexes
// their offsets by key. The data file and the offset index are guarded by
// separate locks; dataMu is always released before offsetsMu is taken.
type RecordWriter struct {
	path string

	dataMu sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	offset uint64
	err    error // sticky write error, the offset counter is unreliable after it

	offsetsMu sync.Mutex
	offsets   *IndexWriter
	count     int
}

// NewRecordWriter creates the data file at path and its offset index at path+OffsetExt
func NewRecordWriter(path string) (*RecordWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create data file: %w", err)
	}
	offsets, err := NewIndexWriter(path + OffsetExt)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &RecordWriter{
		path:    path,
		file:    f,
		buf:     bufio.NewWriterSize(f, 4<<20),
		offsets: offsets,
	}, nil
}

// append writes data at the current offset and returns where it started
func (w *RecordWriter) append(data []byte) (uint64, error) {
	w.dataMu.Lock()
	defer w.dataMu.Unlock()

	if w.file == nil {
		return 0, ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	if _, err := w.buf.Write(data); err != nil {
		w.err = fmt.Errorf("failed to append to %s: %w", w.path, err)
		return 0, w.err
	}
	base := w.offset
	w.offset += uint64(len(data))
	return base, nil
}

// Write serializes v and appends it under key
func (w *RecordWriter) Write(key Key, v encoding.BinaryAppender) error {
	return w.WriteBatch([]Record{{Key: key, Value: v}})
}

// WriteBatch serializes all records without holding a lock, appends the
// result in one write and then indexes every record. Safe for concurrent use.
func (w *RecordWriter) WriteBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	data := make([]byte, 0, len(records)*256)
	relative := make([]uint64, len(records))
	for i, rec := range records {
		relative[i] = uint64(len(data))
		var err error
		if data, err = appendRecord(data, rec.Value); err != nil {
			return fmt.Errorf("failed to serialize key %d: %w", rec.Key, err)
		}
	}

	base, err := w.append(data)
	if err != nil {
		return err
	}

	w.offsetsMu.Lock()
	defer w.offsetsMu.Unlock()
	for i, rec := range records {
		w.offsets.Add(rec.Key, base+relative[i])
	}
	w.count += len(records)
	return nil
}

// Offset returns the number of bytes appended so far
func (w *RecordWriter) Offset() uint64 {
	w.dataMu.Lock()
	defer w.dataMu.Unlock()
	return w.offset
}

// Count returns the number of records indexed so far
func (w *RecordWriter) Count() int {
	w.offsetsMu.Lock()
	defer w.offsetsMu.Unlock()
	return w.count
}

// SaveOffsets flushes the data file and writes the offset index. It must be
// called once, after all writes have returned.
func (w *RecordWriter) SaveOffsets() error {
	w.dataMu.Lock()
	f := w.file
	w.file = nil
	writeErr := w.err
	w.dataMu.Unlock()

	if f == nil {
		return ErrClosed
	}
	if writeErr != nil {
		f.Close()
		return writeErr
	}
	if err := w.buf.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush %s: %w", w.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", w.path, err)
	}

	w.offsetsMu.Lock()
	defer w.offsetsMu.Unlock()
	return w.offsets.WriteAll()
}

// RecordReader maps a finalized data file read-only and serves records by key.
// It is immutable and safe for concurrent use.
type RecordReader struct {
	path    string
	file    *os.File
	data    mmap.MMap
	offsets *IndexReader
}

// OpenRecordReader maps the data file at path and loads path+OffsetExt
func OpenRecordReader(path string) (*RecordReader, error) {
	offsets, err := OpenIndexReader(path + OffsetExt)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat data file: %w", err)
	}

	r := &RecordReader{path: path, file: f, offsets: offsets}
	// mmap rejects zero-length mappings; an empty store has nothing to map
	if info.Size() > 0 {
		r.data, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to mmap data file: %w", err)
		}
	}
	return r, nil
}

// Len returns the number of indexed records
func (r *RecordReader) Len() int {
	return r.offsets.Len()
}

// payload returns the bytes stored at offset after validating the frame bounds
func (r *RecordReader) payload(offset uint64) ([]byte, error) {
	size := uint64(len(r.data))
	if offset > size || size-offset < lengthSize {
		return nil, fmt.Errorf("%s: offset %d of %d: %w", r.path, offset, size, ErrCorruptOffset)
	}
	n := uint64(binary.LittleEndian.Uint32(r.data[offset:]))
	start := offset + lengthSize
	if size-start < n {
		return nil, fmt.Errorf("%s: record at %d with length %d: %w", r.path, offset, n, ErrCorruptOffset)
	}
	return r.data[start : start+n : start+n], nil
}

// Bytes returns the payload stored under key. The slice aliases the mapping
// and is only valid until Close.
func (r *RecordReader) Bytes(key Key) ([]byte, bool, error) {
	offset, ok := r.offsets.Get(key)
	if !ok {
		logger.Get().Warn("Can't find offset in file", zap.String("path", r.path+OffsetExt), zap.Uint64("key", key))
		return nil, false, nil
	}
	b, err := r.payload(offset)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Read decodes the record stored under key into dst. A missing key returns
// false with no error.
func (r *RecordReader) Read(key Key, dst encoding.BinaryUnmarshaler) (bool, error) {
	b, ok, err := r.Bytes(key)
	if !ok || err != nil {
		return false, err
	}
	if err := dst.UnmarshalBinary(b); err != nil {
		return false, fmt.Errorf("failed to decode key %d from %s: %w", key, r.path, err)
	}
	return true, nil
}

// Close unmaps and closes the data file
func (r *RecordReader) Close() error {
	var err error
	if r.data != nil {
		err = r.data.Unmap()
		r.data = nil
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
