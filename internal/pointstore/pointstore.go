// Package pointstore keeps node coordinates on disk, addressed by node id.
//
// Three backends share one contract:
//
//	raw  dense file, offset = 8 * id, memory-mapped for reading
//	mem  dense array in memory, written to the raw file format on Close
//	map  (id, lat, lon) records appended in any order, sorted on read
//
// Coordinates are stored as fixed-point int32 (degrees × 10^7).
package pointstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wegman-software/osm-intermediate/internal/config"
	"github.com/wegman-software/osm-intermediate/internal/element"
)

const (
	// latLonSize is the size of a dense record: lat (int32) + lon (int32)
	latLonSize = 8
	// latLonPosSize adds the node id in front of the coordinates
	latLonPosSize = 16
	// Maximum node ID the dense backends accept (10 billion)
	maxNodeID = 10_000_000_000
)

var (
	// ErrUnknownStorage is returned for a backend name no factory knows
	ErrUnknownStorage = errors.New("pointstore: unknown node storage")
	// ErrIDOutOfRange is returned by dense backends for ids >= 10 billion
	ErrIDOutOfRange = errors.New("pointstore: node id out of range")
	// ErrTruncated is returned when a point file is not a whole number of records
	ErrTruncated = errors.New("pointstore: truncated point file")
)

// Writer stores node coordinates during ingestion. All methods are safe for
// concurrent use.
type Writer interface {
	AddPoint(id uint64, lat, lon float64) error
	AddPoints(nodes []element.Node) error
	NumProcessedPoints() uint64
	Close() error
}

// Reader looks up node coordinates. Safe for concurrent use.
type Reader interface {
	GetPoint(id uint64) (lat, lon float64, ok bool)
	Close() error
}

// LatLon is the 8-byte dense record
type LatLon struct {
	Lat int32
	Lon int32
}

func newLatLon(lat, lon float64) LatLon {
	return LatLon{Lat: element.ScaleCoord(lat), Lon: element.ScaleCoord(lon)}
}

// IsZero reports whether the slot was never written. (0,0) is a valid
// location but is treated as absent.
func (ll LatLon) IsZero() bool {
	return ll.Lat == 0 && ll.Lon == 0
}

func (ll LatLon) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], uint32(ll.Lat))
	binary.LittleEndian.PutUint32(b[4:], uint32(ll.Lon))
}

func readLatLon(b []byte) LatLon {
	return LatLon{
		Lat: int32(binary.LittleEndian.Uint32(b[0:])),
		Lon: int32(binary.LittleEndian.Uint32(b[4:])),
	}
}

// LatLonPos is the 16-byte record used by the map backend
type LatLonPos struct {
	Pos uint64
	LatLon
}

func (p LatLonPos) put(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], p.Pos)
	p.LatLon.put(b[8:])
}

func readLatLonPos(b []byte) LatLonPos {
	return LatLonPos{Pos: binary.LittleEndian.Uint64(b[0:]), LatLon: readLatLon(b[8:])}
}

// NewWriter creates a point storage writer of the given kind at path
func NewWriter(kind config.NodeStorage, path string) (Writer, error) {
	switch kind {
	case config.NodeStorageRaw:
		return NewRawWriter(path)
	case config.NodeStorageMem:
		return NewMemWriter(path), nil
	case config.NodeStorageMap:
		return NewMapWriter(path)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, kind)
}

// NewReader opens a point storage reader of the given kind at path
func NewReader(kind config.NodeStorage, path string) (Reader, error) {
	switch kind {
	case config.NodeStorageRaw:
		return OpenRawReader(path)
	case config.NodeStorageMem:
		return OpenMemReader(path)
	case config.NodeStorageMap:
		return OpenMapReader(path)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, kind)
}
