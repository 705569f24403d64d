// Package graph provides the host graph data model for relcount.
//
// It defines the nodes and relationships whose degrees are cached, the
// Direction of a relationship as seen from one of its endpoints, and the
// helpers that resolve that direction.
package graph

import (
	"fmt"
	"strings"
)

// NodeLabel represents the type of a graph node.
type NodeLabel string

// RelType represents the type of relationship between graph nodes.
type RelType string

// Direction is the direction of a relationship from a node's point of view.
type Direction int

const (
	// Outgoing relationships start at the point of view.
	Outgoing Direction = iota
	// Incoming relationships end at the point of view.
	Incoming
	// Both matches either direction. It is never stored.
	Both
)

// String returns the wire name of the direction.
func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "OUTGOING"
	case Incoming:
		return "INCOMING"
	case Both:
		return "BOTH"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses the wire name of a direction (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(s) {
	case "OUTGOING", "OUT":
		return Outgoing, nil
	case "INCOMING", "IN":
		return Incoming, nil
	case "BOTH":
		return Both, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// GraphNode represents a node in the graph.
type GraphNode struct {
	// ID is the unique identifier for the node.
	ID string

	// Label is the type of the node.
	Label NodeLabel

	// Properties is the node's property bag. Cached degrees live here too,
	// under keys that carry the module prefix.
	Properties map[string]any
}

// GraphRelationship represents a directed edge in the graph.
type GraphRelationship struct {
	// ID is the unique identifier for the relationship.
	ID string

	// Type is the type of relationship.
	Type RelType

	// Source is the ID of the start node.
	Source string

	// Target is the ID of the end node.
	Target string

	// Properties holds the relationship's properties.
	Properties map[string]any
}

// IsSelfLoop reports whether both endpoints are the same node.
func (r *GraphRelationship) IsSelfLoop() bool {
	return r.Source == r.Target
}

// DirectionFrom resolves the direction of the relationship from pointOfView.
// A self-loop is ambiguous and resolves to defaultDirection.
func (r *GraphRelationship) DirectionFrom(pointOfView string, defaultDirection Direction) Direction {
	switch {
	case r.IsSelfLoop():
		return defaultDirection
	case r.Source == pointOfView:
		return Outgoing
	default:
		return Incoming
	}
}

// CopyProperties returns a shallow copy of a property map.
func CopyProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
