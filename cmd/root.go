package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-intermediate/internal/config"
	"github.com/wegman-software/osm-intermediate/internal/logger"
)

var (
	cfg         = config.DefaultConfig()
	configFile  string
	nodeStorage string
)

var rootCmd = &cobra.Command{
	Use:   "osm-intermediate",
	Short: "Intermediate node/way/relation storage for OSM conversion",
	Long: `osm-intermediate stores the entities of an OSM extract on disk between
conversion passes:

  - Node coordinates in a point storage backend (raw, mem or map)
  - Ways and relations as length-prefixed records with sorted offset indexes
  - Node→relations and way→relations reverse indexes
  - Memory-mapped, lock-free lookups once the files are written`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			loaded, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			// Flags given on the command line win over the file
			flags := cmd.Flags()
			if !flags.Changed("dir") {
				cfg.Dir = loaded.Dir
			}
			if !flags.Changed("node-storage") {
				nodeStorage = string(loaded.NodeStorage)
			}
			if !flags.Changed("workers") {
				cfg.Workers = loaded.Workers
			}
			if !flags.Changed("batch-size") {
				cfg.BatchSize = loaded.BatchSize
			}
			if !flags.Changed("verbose") {
				cfg.Verbose = loaded.Verbose
			}
			if !flags.Changed("log-file") {
				cfg.LogFile = loaded.LogFile
			}
			if !flags.Changed("metrics-interval") {
				cfg.MetricsInterval = loaded.MetricsInterval
			}
		}
		cfg.NodeStorage = config.NodeStorage(nodeStorage)

		if cfg.LogFile != "" {
			logger.InitWithFile(cfg.Verbose, cfg.LogFile)
		} else {
			logger.Init(cfg.Verbose)
		}
		return cfg.Validate()
	},
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "YAML config file")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVarP(&cfg.Dir, "dir", "d", cfg.Dir, "Directory for intermediate files")
	flags.StringVar(&nodeStorage, "node-storage", string(cfg.NodeStorage), "Node storage backend: raw, mem or map")
	flags.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Elements per write batch")
	flags.StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	flags.DurationVar(&cfg.MetricsInterval, "metrics-interval", 30*time.Second, "Interval for system metrics logging (e.g., 10s, 1m)")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
