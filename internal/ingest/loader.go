// Package ingest streams an OSM PBF file into an intermediate Writer.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm-intermediate/internal/config"
	"github.com/wegman-software/osm-intermediate/internal/element"
	"github.com/wegman-software/osm-intermediate/internal/intermediate"
	"github.com/wegman-software/osm-intermediate/internal/logger"
)

// Source yields decoded OSM objects. *osmpbf.Scanner satisfies it.
type Source interface {
	Scan() bool
	Object() osm.Object
	Err() error
}

// Sink receives batches. *intermediate.Writer satisfies it.
type Sink interface {
	AddNodes(nodes []element.Node) error
	AddWays(ways []element.Way) error
	AddRelations(rels []element.Relation) error
}

var _ Sink = (*intermediate.Writer)(nil)

// Stats holds ingestion statistics
type Stats struct {
	Nodes     int64
	Ways      int64
	Relations int64
	BytesRead int64
	Duration  time.Duration
}

// batch holds elements of a single kind
type batch struct {
	nodes []element.Node
	ways  []element.Way
	rels  []element.Relation
}

// Loader batches objects from a Source and hands the batches to a pool of
// workers that write them to the Sink concurrently
type Loader struct {
	cfg  *config.Config
	sink Sink

	nodes     atomic.Int64
	ways      atomic.Int64
	relations atomic.Int64
}

// NewLoader creates a loader writing into sink
func NewLoader(cfg *config.Config, sink Sink) *Loader {
	return &Loader{cfg: cfg, sink: sink}
}

// Counts returns the number of nodes, ways and relations stored so far
func (l *Loader) Counts() (nodes, ways, relations int64) {
	return l.nodes.Load(), l.ways.Load(), l.relations.Load()
}

// Run reads the PBF file at path
func (l *Loader) Run(ctx context.Context, path string) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}

	scanner := osmpbf.New(ctx, f, l.cfg.Workers)
	defer scanner.Close()

	stats, err := l.Load(ctx, scanner, info.Size())
	if err != nil {
		return nil, err
	}
	stats.BytesRead = info.Size()
	return stats, nil
}

// Load drains src. totalBytes is only used for progress reporting.
func (l *Loader) Load(ctx context.Context, src Source, totalBytes int64) (*Stats, error) {
	log := logger.Get()
	start := time.Now()

	workers := max(l.cfg.Workers, 1)
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan batch, workers*2)

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for b := range batches {
				if err := l.store(b); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(batches)
		return l.produce(gctx, src, batches)
	})

	progressCtx, stopProgress := context.WithCancel(gctx)
	defer stopProgress()
	go l.reportProgress(progressCtx, src, NewProgressTracker(totalBytes))

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &Stats{
		Nodes:     l.nodes.Load(),
		Ways:      l.ways.Load(),
		Relations: l.relations.Load(),
		Duration:  time.Since(start),
	}
	log.Info("Ingestion complete",
		zap.Int64("nodes", stats.Nodes),
		zap.Int64("ways", stats.Ways),
		zap.Int64("relations", stats.Relations),
		zap.Duration("duration", stats.Duration.Round(time.Millisecond)))
	return stats, nil
}

// produce groups objects into per-kind batches of cfg.BatchSize
func (l *Loader) produce(ctx context.Context, src Source, out chan<- batch) error {
	size := max(l.cfg.BatchSize, 1)
	var cur batch

	send := func(b batch) error {
		select {
		case out <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for src.Scan() {
		switch o := src.Object().(type) {
		case *osm.Node:
			cur.nodes = append(cur.nodes, element.NodeFromOSM(o))
			if len(cur.nodes) >= size {
				if err := send(batch{nodes: cur.nodes}); err != nil {
					return err
				}
				cur.nodes = nil
			}
		case *osm.Way:
			cur.ways = append(cur.ways, element.WayFromOSM(o))
			if len(cur.ways) >= size {
				if err := send(batch{ways: cur.ways}); err != nil {
					return err
				}
				cur.ways = nil
			}
		case *osm.Relation:
			cur.rels = append(cur.rels, element.RelationFromOSM(o))
			if len(cur.rels) >= size {
				if err := send(batch{rels: cur.rels}); err != nil {
					return err
				}
				cur.rels = nil
			}
		}
	}
	if err := src.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("failed to scan input: %w", err)
	}

	if len(cur.nodes)+len(cur.ways)+len(cur.rels) > 0 {
		return send(cur)
	}
	return nil
}

func (l *Loader) store(b batch) error {
	if len(b.nodes) > 0 {
		if err := l.sink.AddNodes(b.nodes); err != nil {
			return err
		}
		l.nodes.Add(int64(len(b.nodes)))
	}
	if len(b.ways) > 0 {
		if err := l.sink.AddWays(b.ways); err != nil {
			return err
		}
		l.ways.Add(int64(len(b.ways)))
	}
	if len(b.rels) > 0 {
		if err := l.sink.AddRelations(b.rels); err != nil {
			return err
		}
		l.relations.Add(int64(len(b.rels)))
	}
	return nil
}

func (l *Loader) reportProgress(ctx context.Context, src Source, tracker *ProgressTracker) {
	log := logger.Get()
	scanned, _ := src.(interface{ FullyScannedBytes() int64 })

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nodes, ways, rels := l.Counts()
			var bytes int64
			if scanned != nil {
				bytes = scanned.FullyScannedBytes()
			}
			p := tracker.Calculate(nodes+ways+rels, bytes)
			log.Info("Ingestion progress",
				zap.Int64("nodes", nodes),
				zap.Int64("ways", ways),
				zap.Int64("relations", rels),
				zap.String("pct", fmt.Sprintf("%.1f%%", p.Percentage)),
				zap.String("rate", FormatThroughput(p.Throughput)),
				zap.String("eta", FormatETA(p.ETA)))
		}
	}
}
