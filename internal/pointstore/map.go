package pointstore

import (
	"bufio"
	"cmp"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wegman-software/osm-intermediate/internal/element"
	"github.com/wegman-software/osm-intermediate/internal/logger"
)

// MapWriter appends (id, lat, lon) records in arrival order. Suited to
// sparse extracts where a dense file would be mostly holes.
type MapWriter struct {
	mu    sync.Mutex
	file  *os.File
	buf   *bufio.Writer
	count atomic.Uint64
}

// NewMapWriter creates (or truncates) the point file at path
func NewMapWriter(path string) (*MapWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create point file: %w", err)
	}
	return &MapWriter{file: f, buf: bufio.NewWriterSize(f, 1<<20)}, nil
}

// AddPoint stores a node's coordinates
func (w *MapWriter) AddPoint(id uint64, lat, lon float64) error {
	return w.AddPoints([]element.Node{{ID: id, Lat: lat, Lon: lon}})
}

// AddPoints encodes the batch without the lock, then appends it in one write
func (w *MapWriter) AddPoints(nodes []element.Node) error {
	data := make([]byte, len(nodes)*latLonPosSize)
	for i, n := range nodes {
		LatLonPos{Pos: n.ID, LatLon: newLatLon(n.Lat, n.Lon)}.put(data[i*latLonPosSize:])
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("failed to append points: %w", err)
	}
	w.count.Add(uint64(len(nodes)))
	return nil
}

// NumProcessedPoints returns the number of points written
func (w *MapWriter) NumProcessedPoints() uint64 {
	return w.count.Load()
}

// Close flushes and closes the point file
func (w *MapWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush point file: %w", err)
	}
	return w.file.Close()
}

// MapReader loads all records, sorted by id, and binary searches them
type MapReader struct {
	points []LatLonPos
}

// OpenMapReader loads the point file at path
func OpenMapReader(path string) (*MapReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read point file: %w", err)
	}
	if len(data)%latLonPosSize != 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
	}

	points := make([]LatLonPos, len(data)/latLonPosSize)
	for i := range points {
		points[i] = readLatLonPos(data[i*latLonPosSize:])
	}
	// Stable so the first write of a duplicated id wins
	slices.SortStableFunc(points, func(a, b LatLonPos) int {
		return cmp.Compare(a.Pos, b.Pos)
	})
	return &MapReader{points: points}, nil
}

// GetPoint retrieves a node's coordinates
func (r *MapReader) GetPoint(id uint64) (lat, lon float64, ok bool) {
	i, found := slices.BinarySearchFunc(r.points, id, func(p LatLonPos, id uint64) int {
		return cmp.Compare(p.Pos, id)
	})
	if !found {
		logger.Get().Debug("Node not found in point storage", zap.Uint64("id", id))
		return 0, 0, false
	}
	ll := r.points[i].LatLon
	return element.UnscaleCoord(ll.Lat), element.UnscaleCoord(ll.Lon), true
}

// Close releases the loaded records
func (r *MapReader) Close() error {
	r.points = nil
	return nil
}
