package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/Benny93/relcount-go/internal/graph"
)

// MemoryBackend is an in-memory implementation of Backend built on a
// KnowledgeGraph. Writers are serialized; a failed Update is rolled back
// by replaying an undo log.
type MemoryBackend struct {
	mu       sync.RWMutex
	g        *graph.KnowledgeGraph
	readOnly bool
	closed   bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{g: graph.NewKnowledgeGraph()}
}

// Initialize implements Backend.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = readOnly
	m.closed = false
	if m.g == nil {
		m.g = graph.NewKnowledgeGraph()
	}
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// View implements Backend.
func (m *MemoryBackend) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memTx{g: m.g, readOnly: true})
}

// Update implements Backend.
func (m *MemoryBackend) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.readOnly {
		return ErrReadOnly
	}

	tx := &memTx{g: m.g}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// BulkLoad implements Backend.
func (m *MemoryBackend) BulkLoad(ctx context.Context, g *graph.KnowledgeGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	fresh := graph.NewKnowledgeGraph()
	for node := range g.IterNodes() {
		fresh.AddNode(copyNode(node))
	}
	for rel := range g.IterRelationships() {
		fresh.AddRelationship(copyRelationship(rel))
	}
	m.g = fresh
	return nil
}

// Stats implements Backend.
func (m *MemoryBackend) Stats(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.g.Stats(), nil
}

// memTx is a transaction over the shared graph. Every mutation pushes the
// closure that reverts it.
type memTx struct {
	g        *graph.KnowledgeGraph
	readOnly bool
	undo     []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) writable() error {
	if tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (tx *memTx) PropertyKeys(nodeID string) ([]string, error) {
	if tx.g.GetNode(nodeID) == nil {
		return nil, fmt.Errorf("reading property keys of %s: %w", nodeID, ErrNodeNotFound)
	}
	return tx.g.NodePropertyKeys(nodeID), nil
}

func (tx *memTx) Property(nodeID, key string) (any, bool, error) {
	if tx.g.GetNode(nodeID) == nil {
		return nil, false, fmt.Errorf("reading property %s of %s: %w", key, nodeID, ErrNodeNotFound)
	}
	v, ok := tx.g.NodeProperty(nodeID, key)
	return v, ok, nil
}

func (tx *memTx) SetProperty(nodeID, key string, value any) error {
	if err := tx.writable(); err != nil {
		return err
	}
	old, existed := tx.g.NodeProperty(nodeID, key)
	if !tx.g.SetNodeProperty(nodeID, key, value) {
		return fmt.Errorf("setting property %s of %s: %w", key, nodeID, ErrNodeNotFound)
	}
	tx.undo = append(tx.undo, func() { tx.restoreProperty(nodeID, key, old, existed) })
	return nil
}

func (tx *memTx) RemoveProperty(nodeID, key string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	old, existed := tx.g.NodeProperty(nodeID, key)
	if !tx.g.RemoveNodeProperty(nodeID, key) {
		return fmt.Errorf("removing property %s of %s: %w", key, nodeID, ErrNodeNotFound)
	}
	tx.undo = append(tx.undo, func() { tx.restoreProperty(nodeID, key, old, existed) })
	return nil
}

func (tx *memTx) restoreProperty(nodeID, key string, old any, existed bool) {
	if existed {
		tx.g.SetNodeProperty(nodeID, key, old)
		return
	}
	tx.g.RemoveNodeProperty(nodeID, key)
}

func (tx *memTx) Node(nodeID string) (*graph.GraphNode, error) {
	node := tx.g.GetNode(nodeID)
	if node == nil {
		return nil, fmt.Errorf("getting node %s: %w", nodeID, ErrNodeNotFound)
	}
	return copyNode(node), nil
}

func (tx *memTx) NodeIDs() ([]string, error) {
	return tx.g.NodeIDs(), nil
}

func (tx *memTx) AddNode(node *graph.GraphNode) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if old := tx.g.GetNode(node.ID); old != nil {
		prev := copyNode(old)
		tx.undo = append(tx.undo, func() { tx.g.AddNode(prev) })
	} else {
		id := node.ID
		tx.undo = append(tx.undo, func() { tx.g.RemoveNode(id) })
	}
	tx.g.AddNode(copyNode(node))
	return nil
}

func (tx *memTx) Relationship(relID string) (*graph.GraphRelationship, error) {
	rel := tx.g.GetRelationship(relID)
	if rel == nil {
		return nil, fmt.Errorf("getting relationship %s: %w", relID, ErrRelationshipNotFound)
	}
	return copyRelationship(rel), nil
}

func (tx *memTx) RelationshipIDs() ([]string, error) {
	var ids []string
	for rel := range tx.g.IterRelationships() {
		ids = append(ids, rel.ID)
	}
	return sortedIDs(ids), nil
}

func (tx *memTx) Relationships(nodeID string) ([]*graph.GraphRelationship, error) {
	if tx.g.GetNode(nodeID) == nil {
		return nil, fmt.Errorf("listing relationships of %s: %w", nodeID, ErrNodeNotFound)
	}
	return copyRelationships(tx.g.GetRelationships(nodeID)), nil
}

func (tx *memTx) DirectedRelationships(nodeID string, dir graph.Direction, relType graph.RelType) ([]*graph.GraphRelationship, error) {
	if tx.g.GetNode(nodeID) == nil {
		return nil, fmt.Errorf("listing relationships of %s: %w", nodeID, ErrNodeNotFound)
	}
	switch dir {
	case graph.Outgoing:
		return copyRelationships(tx.g.GetOutgoing(nodeID, relType)), nil
	case graph.Incoming:
		return copyRelationships(tx.g.GetIncoming(nodeID, relType)), nil
	}
	var out []*graph.GraphRelationship
	for _, rel := range tx.g.GetRelationships(nodeID) {
		if relType == "" || rel.Type == relType {
			out = append(out, copyRelationship(rel))
		}
	}
	return out, nil
}

func (tx *memTx) CreateRelationship(rel *graph.GraphRelationship) error {
	if err := tx.writable(); err != nil {
		return err
	}
	for _, id := range []string{rel.Source, rel.Target} {
		if tx.g.GetNode(id) == nil {
			return fmt.Errorf("creating relationship %s: endpoint %s: %w", rel.ID, id, ErrNodeNotFound)
		}
	}
	if tx.g.GetRelationship(rel.ID) != nil {
		return fmt.Errorf("creating relationship %s: %w", rel.ID, ErrRelationshipExists)
	}
	id := rel.ID
	tx.undo = append(tx.undo, func() { tx.g.RemoveRelationship(id) })
	tx.g.AddRelationship(copyRelationship(rel))
	return nil
}

func (tx *memTx) DeleteRelationship(relID string) (*graph.GraphRelationship, error) {
	if err := tx.writable(); err != nil {
		return nil, err
	}
	rel := tx.g.RemoveRelationship(relID)
	if rel == nil {
		return nil, fmt.Errorf("deleting relationship %s: %w", relID, ErrRelationshipNotFound)
	}
	tx.undo = append(tx.undo, func() { tx.g.AddRelationship(rel) })
	return copyRelationship(rel), nil
}

func copyNode(node *graph.GraphNode) *graph.GraphNode {
	return &graph.GraphNode{
		ID:         node.ID,
		Label:      node.Label,
		Properties: graph.CopyProperties(node.Properties),
	}
}

func copyRelationships(rels []*graph.GraphRelationship) []*graph.GraphRelationship {
	out := make([]*graph.GraphRelationship, len(rels))
	for i, rel := range rels {
		out[i] = copyRelationship(rel)
	}
	return out
}

func copyRelationship(rel *graph.GraphRelationship) *graph.GraphRelationship {
	return &graph.GraphRelationship{
		ID:         rel.ID,
		Type:       rel.Type,
		Source:     rel.Source,
		Target:     rel.Target,
		Properties: graph.CopyProperties(rel.Properties),
	}
}
