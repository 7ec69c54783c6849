package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-intermediate/internal/ingest"
	"github.com/wegman-software/osm-intermediate/internal/intermediate"
	"github.com/wegman-software/osm-intermediate/internal/logger"
	"github.com/wegman-software/osm-intermediate/internal/metrics"
)

var buildCmd = &cobra.Command{
	Use:   "build <input.osm.pbf>",
	Short: "Write intermediate files from a PBF extract",
	Long: `Stream a PBF file into the intermediate store:

  1. Nodes go to the selected point storage backend
  2. Ways and relations are appended to record caches in concurrent batches
  3. Relation members are recorded in the node→relations and way→relations indexes
  4. All indexes are sorted and written once the input is exhausted`,
	Args: cobra.ExactArgs(1),
	Run:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	log.Info("Building intermediate data",
		zap.String("input", cfg.InputFile),
		zap.String("dir", cfg.Dir),
		zap.String("node_storage", string(cfg.NodeStorage)),
		zap.Int("workers", cfg.Workers),
		zap.Int("batch_size", cfg.BatchSize))

	w, err := intermediate.Create(cfg)
	if err != nil {
		exitWithError("failed to create intermediate writer", err)
	}

	loader := ingest.NewLoader(cfg, w)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	collector := metrics.NewCollector(cfg.MetricsInterval, log, func() []zap.Field {
		nodes, ways, rels := loader.Counts()
		return []zap.Field{zap.Int64("nodes", nodes), zap.Int64("ways", ways), zap.Int64("relations", rels)}
	})
	go collector.Start(ctx)

	stats, err := loader.Run(ctx, cfg.InputFile)
	if err != nil {
		exitWithError("ingestion failed", err)
	}

	start := time.Now()
	if err := w.SaveIndex(); err != nil {
		exitWithError("failed to save indexes", err)
	}

	log.Info("Build complete",
		zap.Int64("nodes", stats.Nodes),
		zap.Int64("ways", stats.Ways),
		zap.Int64("relations", stats.Relations),
		zap.Int64("input_bytes", stats.BytesRead),
		zap.Duration("ingest", stats.Duration.Round(time.Second)),
		zap.Duration("save", time.Since(start).Round(time.Millisecond)))
}
