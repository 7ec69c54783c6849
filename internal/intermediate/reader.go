package intermediate

import (
	"errors"

	"go.uber.org/zap"

	"github.com/wegman-software/osm-intermediate/internal/cache"
	"github.com/wegman-software/osm-intermediate/internal/config"
	"github.com/wegman-software/osm-intermediate/internal/element"
	"github.com/wegman-software/osm-intermediate/internal/logger"
	"github.com/wegman-software/osm-intermediate/internal/pointstore"
)

// RelationVisitor receives each relation that references the looked-up id
type RelationVisitor func(relID uint64, rel *element.Relation) cache.ControlFlow

// CachedRelationVisitor receives the relation id and the relation store so it
// can decide whether and what to read
type CachedRelationVisitor func(relID uint64, relations *cache.RecordReader) cache.ControlFlow

// Reader serves lookups over finalized intermediate files. It never mutates
// state after construction and is safe for concurrent use.
type Reader struct {
	nodes           pointstore.Reader
	ways            *cache.RecordReader
	relations       *cache.RecordReader
	nodeToRelations *cache.IndexReader
	wayToRelations  *cache.IndexReader
}

// OpenReader opens every file named in paths. nodes is closed by Close.
// A missing or truncated file fails the whole open.
func OpenReader(nodes pointstore.Reader, paths config.Paths) (*Reader, error) {
	r := &Reader{nodes: nodes}

	var err error
	if r.ways, err = cache.OpenRecordReader(paths.Ways); err != nil {
		return nil, err
	}
	if r.relations, err = cache.OpenRecordReader(paths.Relations); err != nil {
		r.ways.Close()
		return nil, err
	}
	if r.nodeToRelations, err = cache.OpenIndexReader(paths.NodeToRelations); err != nil {
		r.ways.Close()
		r.relations.Close()
		return nil, err
	}
	if r.wayToRelations, err = cache.OpenIndexReader(paths.WayToRelations); err != nil {
		r.ways.Close()
		r.relations.Close()
		return nil, err
	}
	return r, nil
}

// GetNode returns a node's coordinates
func (r *Reader) GetNode(id uint64) (lat, lon float64, ok bool) {
	return r.nodes.GetPoint(id)
}

// GetWay decodes way id into dst
func (r *Reader) GetWay(id uint64, dst *element.Way) (bool, error) {
	return r.ways.Read(id, dst)
}

// GetRelation decodes relation id into dst
func (r *Reader) GetRelation(id uint64, dst *element.Relation) (bool, error) {
	return r.relations.Read(id, dst)
}

// ForEachRelationByWay calls fn for every relation that has way id as a member
func (r *Reader) ForEachRelationByWay(id uint64, fn RelationVisitor) {
	r.wayToRelations.ForEach(id, r.relationProcessor(fn))
}

// ForEachRelationByNode calls fn for every relation that has node id as a member
func (r *Reader) ForEachRelationByNode(id uint64, fn RelationVisitor) {
	r.nodeToRelations.ForEach(id, r.relationProcessor(fn))
}

// ForEachRelationByWayCached is ForEachRelationByWay without reading the relations
func (r *Reader) ForEachRelationByWayCached(id uint64, fn CachedRelationVisitor) {
	r.wayToRelations.ForEach(id, r.cachedRelationProcessor(fn))
}

// ForEachRelationByNodeCached is ForEachRelationByNode without reading the relations
func (r *Reader) ForEachRelationByNodeCached(id uint64, fn CachedRelationVisitor) {
	r.nodeToRelations.ForEach(id, r.cachedRelationProcessor(fn))
}

// relationProcessor reads each relation before handing it to fn. A relation
// that cannot be read ends the traversal.
func (r *Reader) relationProcessor(fn RelationVisitor) func(uint64) cache.ControlFlow {
	return func(relID uint64) cache.ControlFlow {
		var rel element.Relation
		ok, err := r.relations.Read(relID, &rel)
		if err != nil {
			logger.Get().Warn("Failed to read relation", zap.Uint64("relation", relID), zap.Error(err))
		}
		if !ok {
			return cache.Stop
		}
		return fn(relID, &rel)
	}
}

func (r *Reader) cachedRelationProcessor(fn CachedRelationVisitor) func(uint64) cache.ControlFlow {
	return func(relID uint64) cache.ControlFlow {
		return fn(relID, r.relations)
	}
}

// Close releases every mapping and the point storage
func (r *Reader) Close() error {
	return errors.Join(r.ways.Close(), r.relations.Close(), r.nodes.Close())
}
