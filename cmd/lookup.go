package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wegman-software/osm-intermediate/internal/cache"
	"github.com/wegman-software/osm-intermediate/internal/element"
	"github.com/wegman-software/osm-intermediate/internal/intermediate"
)

var (
	byWay    bool
	relLimit int
	idsOnly  bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Query finished intermediate files",
}

var lookupNodeCmd = &cobra.Command{
	Use:   "node <id>",
	Short: "Print a node's coordinates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReader(args[0], func(r *intermediate.Reader, id uint64) error {
			lat, lon, ok := r.GetNode(id)
			if !ok {
				return fmt.Errorf("node %d not found", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node %d: lat=%.7f lon=%.7f\n", id, lat, lon)
			return nil
		})
	},
}

var lookupWayCmd = &cobra.Command{
	Use:   "way <id>",
	Short: "Print a way's nodes and tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReader(args[0], func(r *intermediate.Reader, id uint64) error {
			var way element.Way
			ok, err := r.GetWay(id, &way)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("way %d not found", id)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "way %d: %d nodes %v\n", id, len(way.Nodes), way.Nodes)
			fmt.Fprintf(out, "  tags: %s\n", formatTags(way.Tags))
			return nil
		})
	},
}

var lookupRelationsCmd = &cobra.Command{
	Use:   "relations <id>",
	Short: "List relations that reference a node (default) or a way (--way)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReader(args[0], func(r *intermediate.Reader, id uint64) error {
			out := cmd.OutOrStdout()
			count := 0
			limitReached := func() cache.ControlFlow {
				count++
				if relLimit > 0 && count >= relLimit {
					return cache.Stop
				}
				return cache.Continue
			}

			if idsOnly {
				visit := func(relID uint64, _ *cache.RecordReader) cache.ControlFlow {
					fmt.Fprintln(out, relID)
					return limitReached()
				}
				if byWay {
					r.ForEachRelationByWayCached(id, visit)
				} else {
					r.ForEachRelationByNodeCached(id, visit)
				}
				return nil
			}

			visit := func(relID uint64, rel *element.Relation) cache.ControlFlow {
				fmt.Fprintf(out, "relation %d: %d members, tags: %s\n", relID, len(rel.Members), formatTags(rel.Tags))
				return limitReached()
			}
			if byWay {
				r.ForEachRelationByWay(id, visit)
			} else {
				r.ForEachRelationByNode(id, visit)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.AddCommand(lookupNodeCmd, lookupWayCmd, lookupRelationsCmd)

	lookupRelationsCmd.Flags().BoolVar(&byWay, "way", false, "Treat <id> as a way id")
	lookupRelationsCmd.Flags().IntVar(&relLimit, "limit", 0, "Stop after this many relations (0 = all)")
	lookupRelationsCmd.Flags().BoolVar(&idsOnly, "ids-only", false, "Print relation ids without reading the relations")
}

// withReader opens the intermediate data in cfg.Dir and calls fn with the parsed id
func withReader(arg string, fn func(r *intermediate.Reader, id uint64) error) error {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", arg, err)
	}

	d, err := intermediate.Open(cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d.Cache(), id)
}

func formatTags(tags []element.Tag) string {
	if len(tags) == 0 {
		return "-"
	}
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = t.Key + "=" + t.Value
	}
	return strings.Join(parts, ", ")
}
