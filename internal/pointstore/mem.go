package pointstore

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wegman-software/osm-intermediate/internal/element"
	"github.com/wegman-software/osm-intermediate/internal/logger"
)

// MemWriter keeps the dense coordinate array in memory and writes it to path
// in the raw file format on Close
type MemWriter struct {
	path  string
	mu    sync.Mutex
	data  []LatLon
	count atomic.Uint64
}

// NewMemWriter returns an in-memory writer that persists to path
func NewMemWriter(path string) *MemWriter {
	return &MemWriter{path: path}
}

func (w *MemWriter) set(id uint64, ll LatLon) {
	if n := int(id) + 1; n > len(w.data) {
		if n > cap(w.data) {
			grown := make([]LatLon, n, max(n, 2*cap(w.data)))
			copy(grown, w.data)
			w.data = grown
		} else {
			w.data = w.data[:n]
		}
	}
	w.data[id] = ll
}

// AddPoint stores a node's coordinates
func (w *MemWriter) AddPoint(id uint64, lat, lon float64) error {
	if id >= maxNodeID {
		return fmt.Errorf("node %d: %w", id, ErrIDOutOfRange)
	}
	w.mu.Lock()
	w.set(id, newLatLon(lat, lon))
	w.mu.Unlock()
	w.count.Add(1)
	return nil
}

// AddPoints stores a batch of nodes under one lock acquisition
func (w *MemWriter) AddPoints(nodes []element.Node) error {
	for _, n := range nodes {
		if n.ID >= maxNodeID {
			return fmt.Errorf("node %d: %w", n.ID, ErrIDOutOfRange)
		}
	}

	w.mu.Lock()
	for _, n := range nodes {
		w.set(n.ID, newLatLon(n.Lat, n.Lon))
	}
	w.mu.Unlock()
	w.count.Add(uint64(len(nodes)))
	return nil
}

// NumProcessedPoints returns the number of points written
func (w *MemWriter) NumProcessedPoints() uint64 {
	return w.count.Load()
}

// Close writes the dense array to disk
func (w *MemWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create point file: %w", err)
	}

	bw := bufio.NewWriterSize(f, 4<<20)
	var buf [latLonSize]byte
	for _, ll := range w.data {
		ll.put(buf[:])
		if _, err := bw.Write(buf[:]); err != nil {
			f.Close()
			return fmt.Errorf("failed to write point file: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush point file: %w", err)
	}

	logger.Get().Debug("Point storage written",
		zap.String("path", w.path),
		zap.Int("slots", len(w.data)),
		zap.Uint64("points", w.count.Load()))
	w.data = nil
	return f.Close()
}

// MemReader holds a dense point file fully in memory
type MemReader struct {
	data []byte
}

// OpenMemReader loads the dense point file at path
func OpenMemReader(path string) (*MemReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read point file: %w", err)
	}
	if len(data)%latLonSize != 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrTruncated)
	}
	return &MemReader{data: data}, nil
}

// GetPoint retrieves a node's coordinates
func (r *MemReader) GetPoint(id uint64) (lat, lon float64, ok bool) {
	ll, ok := denseLookup(r.data, id)
	if !ok {
		logger.Get().Debug("Node not found in point storage", zap.Uint64("id", id))
		return 0, 0, false
	}
	return element.UnscaleCoord(ll.Lat), element.UnscaleCoord(ll.Lon), true
}

// Close releases the in-memory copy
func (r *MemReader) Close() error {
	r.data = nil
	return nil
}
