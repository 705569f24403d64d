// Package ingestion feeds relationships into relcount from files: whole graphs
// from a JSON document and edge event streams from JSONL files.
package ingestion

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/Benny93/relcount-go/internal/graph"
)

// GraphFile is the on-disk form of a graph.
type GraphFile struct {
	Nodes         []NodeRecord         `json:"nodes"`
	Relationships []RelationshipRecord `json:"relationships"`
}

// NodeRecord is one node of a graph file.
type NodeRecord struct {
	ID         string         `json:"id"`
	Label      string         `json:"label,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// RelationshipRecord is one relationship of a graph file or event.
type RelationshipRecord struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relationship converts the record. A missing ID gets a random one.
func (r RelationshipRecord) Relationship() (*graph.GraphRelationship, error) {
	if r.Type == "" {
		return nil, fmt.Errorf("relationship %q: missing type", r.ID)
	}
	if r.Source == "" || r.Target == "" {
		return nil, fmt.Errorf("relationship %q: missing endpoint", r.ID)
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &graph.GraphRelationship{
		ID:         id,
		Type:       graph.RelType(r.Type),
		Source:     r.Source,
		Target:     r.Target,
		Properties: graph.CopyProperties(r.Properties),
	}, nil
}

// LoadGraphFile reads a JSON graph file. Relationships must connect nodes
// declared in the same file.
func LoadGraphFile(path string) (*graph.KnowledgeGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph file: %w", err)
	}

	var file GraphFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing graph file %s: %w", path, err)
	}

	g := graph.NewKnowledgeGraph()
	for _, n := range file.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("graph file %s: node without id", path)
		}
		g.AddNode(&graph.GraphNode{
			ID:         n.ID,
			Label:      graph.NodeLabel(n.Label),
			Properties: graph.CopyProperties(n.Properties),
		})
	}
	for _, r := range file.Relationships {
		rel, err := r.Relationship()
		if err != nil {
			return nil, fmt.Errorf("graph file %s: %w", path, err)
		}
		if g.GetNode(rel.Source) == nil || g.GetNode(rel.Target) == nil {
			return nil, fmt.Errorf("graph file %s: relationship %s connects unknown nodes", path, rel.ID)
		}
		g.AddRelationship(rel)
	}
	return g, nil
}
