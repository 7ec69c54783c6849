package pointstore

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-intermediate/internal/element"
	"github.com/wegman-software/osm-intermediate/internal/logger"
)

// RawWriter writes coordinates straight into a sparse file at offset = id * 8.
// Positional writes to distinct ids never overlap, so no lock is needed.
type RawWriter struct {
	file  *os.File
	count atomic.Uint64
}

// NewRawWriter creates (or truncates) the dense point file at path
func NewRawWriter(path string) (*RawWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create point file: %w", err)
	}
	return &RawWriter{file: f}, nil
}

// AddPoint stores a node's coordinates
func (w *RawWriter) AddPoint(id uint64, lat, lon float64) error {
	if id >= maxNodeID {
		return fmt.Errorf("node %d: %w", id, ErrIDOutOfRange)
	}

	var buf [latLonSize]byte
	newLatLon(lat, lon).put(buf[:])
	if _, err := w.file.WriteAt(buf[:], int64(id)*latLonSize); err != nil {
		return fmt.Errorf("failed to write node %d: %w", id, err)
	}
	w.count.Add(1)
	return nil
}

// AddPoints stores a batch of nodes
func (w *RawWriter) AddPoints(nodes []element.Node) error {
	for _, n := range nodes {
		if err := w.AddPoint(n.ID, n.Lat, n.Lon); err != nil {
			return err
		}
	}
	return nil
}

// NumProcessedPoints returns the number of points written
func (w *RawWriter) NumProcessedPoints() uint64 {
	return w.count.Load()
}

// Close syncs and closes the point file
func (w *RawWriter) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to sync point file: %w", err)
	}
	return w.file.Close()
}

// denseLookup decodes the slot for id from a dense point file image
func denseLookup(data []byte, id uint64) (LatLon, bool) {
	if id >= maxNodeID {
		return LatLon{}, false
	}
	offset := id * latLonSize
	if offset+latLonSize > uint64(len(data)) {
		return LatLon{}, false
	}
	ll := readLatLon(data[offset:])
	if ll.IsZero() {
		return LatLon{}, false
	}
	return ll, true
}

// RawReader memory-maps a dense point file read-only
type RawReader struct {
	file *os.File
	data mmap.MMap
}

// OpenRawReader maps the dense point file at path
func OpenRawReader(path string) (*RawReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open point file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat point file: %w", err)
	}

	r := &RawReader{file: f}
	if info.Size() > 0 {
		r.data, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to mmap point file: %w", err)
		}
	}
	return r, nil
}

// GetPoint retrieves a node's coordinates
func (r *RawReader) GetPoint(id uint64) (lat, lon float64, ok bool) {
	ll, ok := denseLookup(r.data, id)
	if !ok {
		logger.Get().Debug("Node not found in point storage", zap.Uint64("id", id))
		return 0, 0, false
	}
	return element.UnscaleCoord(ll.Lat), element.UnscaleCoord(ll.Lon), true
}

// Close unmaps and closes the point file
func (r *RawReader) Close() error {
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
