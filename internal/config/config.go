package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeStorage selects the point storage backend used for node coordinates
type NodeStorage string

const (
	// NodeStorageRaw is a dense file addressed by offset = 8 * id
	NodeStorageRaw NodeStorage = "raw"
	// NodeStorageMem keeps the dense array in memory and writes it out on close
	NodeStorageMem NodeStorage = "mem"
	// NodeStorageMap appends (id, lat, lon) records and indexes them on read
	NodeStorageMap NodeStorage = "map"
)

// File names inside the intermediate directory
const (
	NodesFile     = "nodes.dat"
	WaysFile      = "ways.dat"
	RelationsFile = "relations.dat"
	OffsetExt     = ".offs"
	ID2RelExt     = ".id2rel"
)

// Config holds the configuration for building and reading intermediate data
type Config struct {
	// Input settings
	InputFile string `yaml:"input_file"`

	// Storage settings
	Dir         string      `yaml:"dir"`          // Directory holding the intermediate files
	NodeStorage NodeStorage `yaml:"node_storage"` // Point storage backend

	// Processing settings
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"` // Elements per batch handed to the writer

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`         // Path to log file (empty = no file logging)
	MetricsInterval time.Duration `yaml:"metrics_interval"` // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Dir:             "./intermediate",
		NodeStorage:     NodeStorageRaw,
		Workers:         runtime.NumCPU(),
		BatchSize:       10000,
		MetricsInterval: 30 * time.Second,
	}
}

// LoadFile reads a YAML config file and overlays it on the defaults
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("intermediate directory is required")
	}
	switch c.NodeStorage {
	case NodeStorageRaw, NodeStorageMem, NodeStorageMap:
	default:
		return fmt.Errorf("unknown node storage %q (want raw, mem or map)", c.NodeStorage)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	return nil
}

// Paths lists every file that makes up one set of intermediate data
type Paths struct {
	Nodes           string
	Ways            string // offsets live at Ways + OffsetExt
	Relations       string // offsets live at Relations + OffsetExt
	NodeToRelations string
	WayToRelations  string
}

// Paths returns the file layout under c.Dir
func (c *Config) Paths() Paths {
	return PathsIn(c.Dir)
}

// PathsIn returns the file layout under dir
func PathsIn(dir string) Paths {
	return Paths{
		Nodes:           filepath.Join(dir, NodesFile),
		Ways:            filepath.Join(dir, WaysFile),
		Relations:       filepath.Join(dir, RelationsFile),
		NodeToRelations: filepath.Join(dir, NodesFile+ID2RelExt),
		WayToRelations:  filepath.Join(dir, WaysFile+ID2RelExt),
	}
}
