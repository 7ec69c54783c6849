package ingest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/osm"

	"github.com/wegman-software/osm-intermediate/internal/cache"
	"github.com/wegman-software/osm-intermediate/internal/config"
	"github.com/wegman-software/osm-intermediate/internal/element"
	"github.com/wegman-software/osm-intermediate/internal/intermediate"
)

// sliceSource replays a fixed list of objects
type sliceSource struct {
	objs []osm.Object
	pos  int
	err  error
}

func (s *sliceSource) Scan() bool {
	if s.pos >= len(s.objs) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceSource) Object() osm.Object { return s.objs[s.pos-1] }
func (s *sliceSource) Err() error         { return s.err }

// recordingSink remembers batch sizes
type recordingSink struct {
	mu        sync.Mutex
	nodes     []uint64
	ways      []uint64
	relations []uint64
	sizes     []int
	fail      error
}

func (s *recordingSink) AddNodes(nodes []element.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, len(nodes))
	for _, n := range nodes {
		s.nodes = append(s.nodes, n.ID)
	}
	return nil
}

func (s *recordingSink) AddWays(ways []element.Way) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sizes = append(s.sizes, len(ways))
	for _, w := range ways {
		s.ways = append(s.ways, w.ID)
	}
	return nil
}

func (s *recordingSink) AddRelations(rels []element.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, len(rels))
	for _, r := range rels {
		s.relations = append(s.relations, r.ID)
	}
	return nil
}

func sampleObjects(nodes, ways, rels int) []osm.Object {
	var objs []osm.Object
	for i := 1; i <= nodes; i++ {
		objs = append(objs, &osm.Node{ID: osm.NodeID(i), Lat: float64(i) / 100, Lon: float64(i) / 100})
	}
	for i := 1; i <= ways; i++ {
		objs = append(objs, &osm.Way{ID: osm.WayID(i), Nodes: osm.WayNodes{{ID: 1}, {ID: osm.NodeID(i)}}})
	}
	for i := 1; i <= rels; i++ {
		objs = append(objs, &osm.Relation{ID: osm.RelationID(i), Members: osm.Members{
			{Type: osm.TypeWay, Ref: int64(i), Role: "outer"},
			{Type: osm.TypeNode, Ref: 1},
		}})
	}
	return objs
}

func loaderConfig(workers, batchSize int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Workers = workers
	cfg.BatchSize = batchSize
	return cfg
}

func TestLoadBatches(t *testing.T) {
	sink := &recordingSink{}
	l := NewLoader(loaderConfig(3, 4), sink)

	stats, err := l.Load(context.Background(), &sliceSource{objs: sampleObjects(10, 5, 2)}, 0)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if stats.Nodes != 10 || stats.Ways != 5 || stats.Relations != 2 {
		t.Errorf("stats = %+v, want 10/5/2", stats)
	}

	for _, got := range [][]uint64{sink.nodes, sink.ways, sink.relations} {
		slices.Sort(got)
	}
	if len(sink.nodes) != 10 || sink.nodes[0] != 1 || sink.nodes[9] != 10 {
		t.Errorf("nodes = %v", sink.nodes)
	}
	if !slices.Equal(sink.ways, []uint64{1, 2, 3, 4, 5}) {
		t.Errorf("ways = %v", sink.ways)
	}
	if !slices.Equal(sink.relations, []uint64{1, 2}) {
		t.Errorf("relations = %v", sink.relations)
	}
	for _, n := range sink.sizes {
		if n > 4 {
			t.Errorf("batch of %d exceeds batch size 4", n)
		}
	}
}

func TestLoadPropagatesErrors(t *testing.T) {
	boom := errors.New("disk full")

	t.Run("sink", func(t *testing.T) {
		l := NewLoader(loaderConfig(2, 1), &recordingSink{fail: boom})
		_, err := l.Load(context.Background(), &sliceSource{objs: sampleObjects(0, 50, 0)}, 0)
		if !errors.Is(err, boom) {
			t.Errorf("Load() error = %v, want %v", err, boom)
		}
	})

	t.Run("source", func(t *testing.T) {
		l := NewLoader(loaderConfig(2, 10), &recordingSink{})
		_, err := l.Load(context.Background(), &sliceSource{objs: sampleObjects(3, 0, 0), err: boom}, 0)
		if !errors.Is(err, boom) {
			t.Errorf("Load() error = %v, want %v", err, boom)
		}
	})
}

func TestLoadIntoWriter(t *testing.T) {
	cfg := loaderConfig(4, 3)
	cfg.Dir = t.TempDir()

	w, err := intermediate.Create(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(cfg, w).Load(context.Background(), &sliceSource{objs: sampleObjects(20, 10, 10)}, 0); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := w.SaveIndex(); err != nil {
		t.Fatal(err)
	}

	d, err := intermediate.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	r := d.Cache()

	if lat, _, ok := r.GetNode(20); !ok || lat != 0.2 {
		t.Errorf("GetNode(20) = (%v, %v)", lat, ok)
	}
	var way element.Way
	if ok, err := r.GetWay(7, &way); !ok || err != nil || !slices.Equal(way.Nodes, []uint64{1, 7}) {
		t.Errorf("GetWay(7) = (%+v, %v, %v)", way, ok, err)
	}

	var rels []uint64
	r.ForEachRelationByNode(1, func(relID uint64, _ *element.Relation) cache.ControlFlow {
		rels = append(rels, relID)
		return cache.Continue
	})
	if len(rels) != 10 || !slices.IsSorted(rels) {
		t.Errorf("relations of node 1 = %v, want 10 ascending ids", rels)
	}
}

func TestProgress(t *testing.T) {
	p := &ProgressTracker{totalBytes: 1000}
	got := p.at(10*time.Second, 500, 250)

	if got.Percentage != 25 {
		t.Errorf("Percentage = %v, want 25", got.Percentage)
	}
	if got.ETA != 30*time.Second {
		t.Errorf("ETA = %v, want 30s", got.ETA)
	}
	if got.Throughput != 50 {
		t.Errorf("Throughput = %v, want 50", got.Throughput)
	}
}

func TestFormatters(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatETA(0), "calculating..."},
		{FormatETA(42 * time.Second), "42s"},
		{FormatETA(3*time.Minute + 5*time.Second), "3m 5s"},
		{FormatETA(2*time.Hour + 1*time.Minute), "2h 1m 0s"},
		{FormatThroughput(12), "12/s"},
		{FormatThroughput(2500), "2.5K/s"},
		{FormatThroughput(3_400_000), "3.4M/s"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
