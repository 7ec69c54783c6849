package intermediate

import (
	"github.com/wegman-software/osm-intermediate/internal/config"
	"github.com/wegman-software/osm-intermediate/internal/pointstore"
)

// Data owns the single Reader built over one intermediate directory. Open it
// once and pass Cache() to every consumer.
type Data struct {
	cfg    *config.Config
	reader *Reader
}

// Open builds the point storage reader and the Reader described by cfg
func Open(cfg *config.Config) (*Data, error) {
	paths := cfg.Paths()

	nodes, err := pointstore.NewReader(cfg.NodeStorage, paths.Nodes)
	if err != nil {
		return nil, err
	}
	r, err := OpenReader(nodes, paths)
	if err != nil {
		nodes.Close()
		return nil, err
	}
	return &Data{cfg: cfg, reader: r}, nil
}

// Cache returns the shared Reader
func (d *Data) Cache() *Reader {
	return d.reader
}

// Config returns the configuration Data was opened with
func (d *Data) Config() *config.Config {
	return d.cfg
}

// Close closes the shared Reader. No consumer may use it afterwards.
func (d *Data) Close() error {
	return d.reader.Close()
}
