// Package element defines the node, way and relation payloads kept in the
// intermediate stores and their compact binary encoding.
package element

import (
	"math"

	"github.com/paulmach/osm"
)

// Node is a point with its coordinates in degrees
type Node struct {
	ID  uint64
	Lat float64
	Lon float64
}

// Tag is a single key/value pair
type Tag struct {
	Key   string
	Value string
}

// Way is an ordered list of node references
type Way struct {
	ID    uint64
	Nodes []uint64
	Tags  []Tag
}

// MemberType identifies what a relation member points to
type MemberType uint8

const (
	MemberNode MemberType = iota + 1
	MemberWay
	MemberRelation
)

func (t MemberType) String() string {
	switch t {
	case MemberNode:
		return "n"
	case MemberWay:
		return "w"
	case MemberRelation:
		return "r"
	}
	return "?"
}

// Member is one entry of a relation
type Member struct {
	Type MemberType
	Ref  uint64
	Role string
}

// Relation is a tagged group of members
type Relation struct {
	ID      uint64
	Members []Member
	Tags    []Tag
}

// NodeRefs returns the ids of all node members
func (r *Relation) NodeRefs() []uint64 {
	return r.refs(MemberNode)
}

// WayRefs returns the ids of all way members
func (r *Relation) WayRefs() []uint64 {
	return r.refs(MemberWay)
}

func (r *Relation) refs(t MemberType) []uint64 {
	var ids []uint64
	for _, m := range r.Members {
		if m.Type == t {
			ids = append(ids, m.Ref)
		}
	}
	return ids
}

// Tag returns the value for key, or "" if absent
func (r *Relation) Tag(key string) string {
	return findTag(r.Tags, key)
}

// Tag returns the value for key, or "" if absent
func (w *Way) Tag(key string) string {
	return findTag(w.Tags, key)
}

// IsClosed reports whether the first and last node are the same
func (w *Way) IsClosed() bool {
	return len(w.Nodes) >= 4 && w.Nodes[0] == w.Nodes[len(w.Nodes)-1]
}

func findTag(tags []Tag, key string) string {
	for _, t := range tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

func fromOSMTags(tags osm.Tags) []Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]Tag, len(tags))
	for i, t := range tags {
		out[i] = Tag{Key: t.Key, Value: t.Value}
	}
	return out
}

// NodeFromOSM converts a decoded OSM node
func NodeFromOSM(n *osm.Node) Node {
	return Node{ID: uint64(n.ID), Lat: n.Lat, Lon: n.Lon}
}

// WayFromOSM converts a decoded OSM way
func WayFromOSM(w *osm.Way) Way {
	nodes := make([]uint64, len(w.Nodes))
	for i, wn := range w.Nodes {
		nodes[i] = uint64(wn.ID)
	}
	return Way{ID: uint64(w.ID), Nodes: nodes, Tags: fromOSMTags(w.Tags)}
}

// RelationFromOSM converts a decoded OSM relation. Members of unknown type are dropped.
func RelationFromOSM(r *osm.Relation) Relation {
	members := make([]Member, 0, len(r.Members))
	for _, m := range r.Members {
		var t MemberType
		switch m.Type {
		case osm.TypeNode:
			t = MemberNode
		case osm.TypeWay:
			t = MemberWay
		case osm.TypeRelation:
			t = MemberRelation
		default:
			continue
		}
		members = append(members, Member{Type: t, Ref: uint64(m.Ref), Role: m.Role})
	}
	return Relation{ID: uint64(r.ID), Members: members, Tags: fromOSMTags(r.Tags)}
}

// ScaleCoord converts a float64 lat/lon to a scaled integer (× 10^7)
func ScaleCoord(coord float64) int32 {
	return int32(math.Round(coord * 1e7))
}

// UnscaleCoord converts a scaled integer back to float64
func UnscaleCoord(scaled int32) float64 {
	return float64(scaled) / 1e7
}
