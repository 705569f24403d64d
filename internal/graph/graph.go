package graph

import (
	"sort"
	"sync"
)

// KnowledgeGraph is an in-memory directed graph of nodes and their
// relationships.
//
// Nodes are keyed by their ID string; relationships are keyed likewise.
// Removing a node cascades to any relationship where the node appears as
// source or target.
//
// Adjacency lookups are backed by per-node indexes so they are O(result)
// rather than O(graph).
type KnowledgeGraph struct {
	mu            sync.RWMutex
	nodes         map[string]*GraphNode
	relationships map[string]*GraphRelationship

	// Adjacency indexes, kept in sync by add/remove helpers.
	outgoing map[string]map[string]*GraphRelationship
	incoming map[string]map[string]*GraphRelationship
}

// NewKnowledgeGraph creates a new empty graph.
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		nodes:         make(map[string]*GraphNode),
		relationships: make(map[string]*GraphRelationship),
		outgoing:      make(map[string]map[string]*GraphRelationship),
		incoming:      make(map[string]map[string]*GraphRelationship),
	}
}

// NodeCount returns the number of nodes without list materialization.
func (g *KnowledgeGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// RelationshipCount returns the number of relationships without list materialization.
func (g *KnowledgeGraph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.relationships)
}

// IterNodes returns a channel that yields all nodes.
func (g *KnowledgeGraph) IterNodes() <-chan *GraphNode {
	g.mu.RLock()
	ch := make(chan *GraphNode, len(g.nodes))
	for _, node := range g.nodes {
		ch <- node
	}
	close(ch)
	g.mu.RUnlock()
	return ch
}

// IterRelationships returns a channel that yields all relationships.
func (g *KnowledgeGraph) IterRelationships() <-chan *GraphRelationship {
	g.mu.RLock()
	ch := make(chan *GraphRelationship, len(g.relationships))
	for _, rel := range g.relationships {
		ch <- rel
	}
	close(ch)
	g.mu.RUnlock()
	return ch
}

// NodeIDs returns all node IDs in ascending order.
func (g *KnowledgeGraph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddNode adds a node to the graph, replacing any existing node with the same ID.
func (g *KnowledgeGraph) AddNode(node *GraphNode) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if node.Properties == nil {
		node.Properties = make(map[string]any)
	}
	g.nodes[node.ID] = node
}

// GetNode returns the node with the given ID, or nil if it does not exist.
func (g *KnowledgeGraph) GetNode(nodeID string) *GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[nodeID]
}

// RemoveNode removes a node and cascade-deletes all relationships that reference it.
// Returns true if the node existed and was removed, false otherwise.
func (g *KnowledgeGraph) RemoveNode(nodeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[nodeID]; !ok {
		return false
	}

	delete(g.nodes, nodeID)

	g.cascadeRelationshipsForNode(nodeID)
	return true
}

// AddRelationship adds a relationship to the graph, replacing any existing relationship with the same ID.
func (g *KnowledgeGraph) AddRelationship(rel *GraphRelationship) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.relationships[rel.ID]; ok {
		g.unindexRelationship(old)
	}

	g.relationships[rel.ID] = rel

	if g.outgoing[rel.Source] == nil {
		g.outgoing[rel.Source] = make(map[string]*GraphRelationship)
	}
	g.outgoing[rel.Source][rel.ID] = rel

	if g.incoming[rel.Target] == nil {
		g.incoming[rel.Target] = make(map[string]*GraphRelationship)
	}
	g.incoming[rel.Target][rel.ID] = rel
}

// GetRelationship returns the relationship with the given ID, or nil.
func (g *KnowledgeGraph) GetRelationship(relID string) *GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relationships[relID]
}

// RemoveRelationship removes a relationship. Returns the removed relationship
// or nil if it did not exist.
func (g *KnowledgeGraph) RemoveRelationship(relID string) *GraphRelationship {
	g.mu.Lock()
	defer g.mu.Unlock()

	rel, ok := g.relationships[relID]
	if !ok {
		return nil
	}
	delete(g.relationships, relID)
	g.unindexRelationship(rel)
	return rel
}

// GetOutgoing returns relationships originating from the given node ID.
// If relType is provided, only relationships of that type are returned.
func (g *KnowledgeGraph) GetOutgoing(nodeID string, relType ...RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterByType(g.outgoing[nodeID], relType...)
}

// GetIncoming returns relationships targeting the given node ID.
// If relType is provided, only relationships of that type are returned.
func (g *KnowledgeGraph) GetIncoming(nodeID string, relType ...RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterByType(g.incoming[nodeID], relType...)
}

// GetRelationships returns every relationship touching the node, each once,
// ordered by ID. Self-loops appear once.
func (g *KnowledgeGraph) GetRelationships(nodeID string) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var result []*GraphRelationship
	for _, index := range []map[string]*GraphRelationship{g.outgoing[nodeID], g.incoming[nodeID]} {
		for id, rel := range index {
			if seen[id] {
				continue
			}
			seen[id] = true
			result = append(result, rel)
		}
	}
	return sortRelationships(result)
}

// NodePropertyKeys returns the property keys of a node in ascending order.
func (g *KnowledgeGraph) NodePropertyKeys(nodeID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[nodeID]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(node.Properties))
	for k := range node.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NodeProperty returns a node property and whether it was set.
func (g *KnowledgeGraph) NodeProperty(nodeID, key string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[nodeID]
	if !ok {
		return nil, false
	}
	v, ok := node.Properties[key]
	return v, ok
}

// SetNodeProperty sets a node property. Returns false if the node does not exist.
func (g *KnowledgeGraph) SetNodeProperty(nodeID, key string, value any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[nodeID]
	if !ok {
		return false
	}
	node.Properties[key] = value
	return true
}

// RemoveNodeProperty removes a node property. Returns false if the node does not exist.
func (g *KnowledgeGraph) RemoveNodeProperty(nodeID, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[nodeID]
	if !ok {
		return false
	}
	delete(node.Properties, key)
	return true
}

// Stats returns a summary of graph size.
func (g *KnowledgeGraph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return map[string]int{
		"nodes":         len(g.nodes),
		"relationships": len(g.relationships),
	}
}

// unindexRelationship drops a relationship from the secondary indexes.
// Must be called with the write lock held.
func (g *KnowledgeGraph) unindexRelationship(rel *GraphRelationship) {
	delete(g.outgoing[rel.Source], rel.ID)
	delete(g.incoming[rel.Target], rel.ID)
}

// cascadeRelationshipsForNode removes all relationships where the node is source or target.
// Must be called with the write lock held.
func (g *KnowledgeGraph) cascadeRelationshipsForNode(nodeID string) {
	if outRels, ok := g.outgoing[nodeID]; ok {
		for _, rel := range outRels {
			delete(g.relationships, rel.ID)
					delete(g.incoming[rel.Target], rel.ID)
		}
		delete(g.outgoing, nodeID)
	}

	if inRels, ok := g.incoming[nodeID]; ok {
		for _, rel := range inRels {
			delete(g.relationships, rel.ID)
					delete(g.outgoing[rel.Source], rel.ID)
		}
		delete(g.incoming, nodeID)
	}
}

func filterByType(rels map[string]*GraphRelationship, relType ...RelType) []*GraphRelationship {
	if len(rels) == 0 {
		return nil
	}

	result := make([]*GraphRelationship, 0, len(rels))
	for _, rel := range rels {
		if len(relType) > 0 && relType[0] != "" && rel.Type != relType[0] {
			continue
		}
		result = append(result, rel)
	}
	return sortRelationships(result)
}

func sortRelationships(rels []*GraphRelationship) []*GraphRelationship {
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
	return rels
}
