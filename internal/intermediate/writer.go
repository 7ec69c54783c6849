// Package intermediate composes the record caches, reference indexes and
// point storage into the stores used between conversion passes.
package intermediate

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wegman-software/osm-intermediate/internal/cache"
	"github.com/wegman-software/osm-intermediate/internal/config"
	"github.com/wegman-software/osm-intermediate/internal/element"
	"github.com/wegman-software/osm-intermediate/internal/logger"
	"github.com/wegman-software/osm-intermediate/internal/pointstore"
)

// Stats counts what a Writer has stored
type Stats struct {
	Nodes           uint64
	Ways            int64
	Relations       int64
	NodeToRelations int64 // reference index entries
	WayToRelations  int64
}

// Writer routes nodes to point storage and ways/relations to record caches,
// and builds the node→relations and way→relations indexes as relations
// arrive. Every Add method is safe for concurrent use.
type Writer struct {
	nodes     pointstore.Writer
	ownsNodes bool

	ways      *cache.RecordWriter
	relations *cache.RecordWriter

	nodeToRelationsMu sync.Mutex
	nodeToRelations   *cache.IndexWriter
	wayToRelationsMu  sync.Mutex
	wayToRelations    *cache.IndexWriter

	waysAdded      atomic.Int64
	relationsAdded atomic.Int64
}

// NewWriter creates the way, relation and reference index files named in
// paths. nodes stays owned by the caller.
func NewWriter(nodes pointstore.Writer, paths config.Paths) (*Writer, error) {
	w := &Writer{nodes: nodes}

	var err error
	if w.ways, err = cache.NewRecordWriter(paths.Ways); err != nil {
		return nil, err
	}
	if w.relations, err = cache.NewRecordWriter(paths.Relations); err != nil {
		return nil, err
	}
	if w.nodeToRelations, err = cache.NewIndexWriter(paths.NodeToRelations); err != nil {
		return nil, err
	}
	if w.wayToRelations, err = cache.NewIndexWriter(paths.WayToRelations); err != nil {
		return nil, err
	}
	return w, nil
}

// Create builds a Writer and its point storage from cfg. The point storage
// is closed by SaveIndex.
func Create(cfg *config.Config) (*Writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create intermediate directory: %w", err)
	}
	paths := cfg.Paths()

	nodes, err := pointstore.NewWriter(cfg.NodeStorage, paths.Nodes)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(nodes, paths)
	if err != nil {
		nodes.Close()
		return nil, err
	}
	w.ownsNodes = true
	return w, nil
}

// AddNode stores a node's coordinates
func (w *Writer) AddNode(id uint64, lat, lon float64) error {
	return w.nodes.AddPoint(id, lat, lon)
}

// AddNodes stores a batch of node coordinates
func (w *Writer) AddNodes(nodes []element.Node) error {
	return w.nodes.AddPoints(nodes)
}

// AddWay stores a way under id
func (w *Writer) AddWay(id uint64, way *element.Way) error {
	if err := w.ways.Write(id, way); err != nil {
		return fmt.Errorf("failed to add way %d: %w", id, err)
	}
	w.waysAdded.Add(1)
	return nil
}

// AddWays stores a batch of ways keyed by their IDs
func (w *Writer) AddWays(ways []element.Way) error {
	records := make([]cache.Record, len(ways))
	for i := range ways {
		records[i] = cache.Record{Key: ways[i].ID, Value: &ways[i]}
	}
	if err := w.ways.WriteBatch(records); err != nil {
		return fmt.Errorf("failed to add ways: %w", err)
	}
	w.waysAdded.Add(int64(len(ways)))
	return nil
}

// AddRelation stores a relation under id and indexes its node and way members
func (w *Writer) AddRelation(id uint64, rel *element.Relation) error {
	if err := w.relations.Write(id, rel); err != nil {
		return fmt.Errorf("failed to add relation %d: %w", id, err)
	}
	w.relationsAdded.Add(1)
	w.addReferences(id, rel)
	return nil
}

// AddRelations stores a batch of relations keyed by their IDs
func (w *Writer) AddRelations(rels []element.Relation) error {
	records := make([]cache.Record, len(rels))
	for i := range rels {
		records[i] = cache.Record{Key: rels[i].ID, Value: &rels[i]}
	}
	if err := w.relations.WriteBatch(records); err != nil {
		return fmt.Errorf("failed to add relations: %w", err)
	}
	w.relationsAdded.Add(int64(len(rels)))

	w.nodeToRelationsMu.Lock()
	for i := range rels {
		addToIndex(w.nodeToRelations, rels[i].ID, rels[i].NodeRefs())
	}
	w.nodeToRelationsMu.Unlock()

	w.wayToRelationsMu.Lock()
	for i := range rels {
		addToIndex(w.wayToRelations, rels[i].ID, rels[i].WayRefs())
	}
	w.wayToRelationsMu.Unlock()
	return nil
}

func (w *Writer) addReferences(relID uint64, rel *element.Relation) {
	if refs := rel.NodeRefs(); len(refs) > 0 {
		w.nodeToRelationsMu.Lock()
		addToIndex(w.nodeToRelations, relID, refs)
		w.nodeToRelationsMu.Unlock()
	}
	if refs := rel.WayRefs(); len(refs) > 0 {
		w.wayToRelationsMu.Lock()
		addToIndex(w.wayToRelations, relID, refs)
		w.wayToRelationsMu.Unlock()
	}
}

// addToIndex records (member, relation) for every member id
func addToIndex(index *cache.IndexWriter, relID uint64, members []uint64) {
	for _, m := range members {
		index.Add(m, relID)
	}
}

// Stats returns the current counters
func (w *Writer) Stats() Stats {
	w.nodeToRelationsMu.Lock()
	n2r := w.nodeToRelations.Len()
	w.nodeToRelationsMu.Unlock()
	w.wayToRelationsMu.Lock()
	w2r := w.wayToRelations.Len()
	w.wayToRelationsMu.Unlock()

	return Stats{
		Nodes:           w.nodes.NumProcessedPoints(),
		Ways:            w.waysAdded.Load(),
		Relations:       w.relationsAdded.Load(),
		NodeToRelations: int64(n2r),
		WayToRelations:  int64(w2r),
	}
}

// SaveIndex finalizes both record caches and both reference indexes. It must
// be the last call on the Writer.
func (w *Writer) SaveIndex() error {
	log := logger.Get()
	stats := w.Stats()

	if err := w.ways.SaveOffsets(); err != nil {
		return fmt.Errorf("failed to save way offsets: %w", err)
	}
	if err := w.relations.SaveOffsets(); err != nil {
		return fmt.Errorf("failed to save relation offsets: %w", err)
	}

	w.nodeToRelationsMu.Lock()
	err := w.nodeToRelations.WriteAll()
	w.nodeToRelationsMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to save node to relations index: %w", err)
	}

	w.wayToRelationsMu.Lock()
	err = w.wayToRelations.WriteAll()
	w.wayToRelationsMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to save way to relations index: %w", err)
	}

	if w.ownsNodes {
		if err := w.nodes.Close(); err != nil {
			return fmt.Errorf("failed to close point storage: %w", err)
		}
	}

	log.Info("Intermediate index saved",
		zap.Uint64("nodes", stats.Nodes),
		zap.Int64("ways", stats.Ways),
		zap.Int64("relations", stats.Relations),
		zap.Int64("node_refs", stats.NodeToRelations),
		zap.Int64("way_refs", stats.WayToRelations))
	return nil
}
