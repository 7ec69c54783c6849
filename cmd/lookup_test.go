package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wegman-software/osm-intermediate/internal/config"
	"github.com/wegman-software/osm-intermediate/internal/element"
	"github.com/wegman-software/osm-intermediate/internal/intermediate"
)

func buildFixture(t *testing.T) string {
	t.Helper()
	c := config.DefaultConfig()
	c.Dir = t.TempDir()

	w, err := intermediate.Create(c)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AddNode(3, 10.5, 20.25); err != nil {
		t.Fatal(err)
	}
	if err := w.AddWay(7, &element.Way{ID: 7, Nodes: []uint64{3, 4}, Tags: []element.Tag{{Key: "highway", Value: "path"}}}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []uint64{11, 12, 13} {
		rel := &element.Relation{ID: id, Members: []element.Member{{Type: element.MemberWay, Ref: 7}}}
		if err := w.AddRelation(id, rel); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.SaveIndex(); err != nil {
		t.Fatal(err)
	}
	return c.Dir
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLookupCommands(t *testing.T) {
	dir := buildFixture(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{
			name: "node",
			args: []string{"lookup", "node", "-d", dir, "3"},
			want: []string{"node 3: lat=10.5000000 lon=20.2500000"},
		},
		{
			name: "way",
			args: []string{"lookup", "way", "-d", dir, "7"},
			want: []string{"way 7: 2 nodes [3 4]", "tags: highway=path"},
		},
		{
			name: "relations by way with limit",
			args: []string{"lookup", "relations", "-d", dir, "--way", "--ids-only=false", "--limit", "2", "7"},
			want: []string{"relation 11:", "relation 12:"},
		},
		{
			name: "relation ids only",
			args: []string{"lookup", "relations", "-d", dir, "--way", "--ids-only", "--limit", "0", "7"},
			want: []string{"11\n12\n13\n"},
		},
		{
			name:    "missing way",
			args:    []string{"lookup", "way", "-d", dir, "8"},
			wantErr: true,
		},
		{
			name:    "bad id",
			args:    []string{"lookup", "node", "-d", dir, "abc"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCmd(t, tt.args...)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q does not contain %q", out, w)
				}
			}
		})
	}
}
