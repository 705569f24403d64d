// Package storage provides the host graph store for relcount.
//
// It defines the Backend protocol that all storage implementations must
// satisfy. All reads and writes happen inside a Tx obtained from View or
// Update; an Update either commits every change made through its Tx or
// none of them.
package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/Benny93/relcount-go/internal/graph"
)

var (
	// ErrNodeNotFound is returned when a node ID does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrRelationshipNotFound is returned when a relationship ID does not exist.
	ErrRelationshipNotFound = errors.New("relationship not found")

	// ErrRelationshipExists is returned when creating a relationship whose ID
	// is already stored.
	ErrRelationshipExists = errors.New("relationship already exists")

	// ErrClosed is returned when the backend is used before Initialize or after Close.
	ErrClosed = errors.New("storage backend is closed")

	// ErrReadOnly is returned for writes to a read-only backend or transaction.
	ErrReadOnly = errors.New("storage is read-only")
)

// PropertyStore is the raw per-node key-value bag.
type PropertyStore interface {
	// PropertyKeys returns the node's property keys in ascending order.
	PropertyKeys(nodeID string) ([]string, error)

	// Property returns a property value and whether it was set.
	Property(nodeID, key string) (any, bool, error)

	// SetProperty sets a property value.
	SetProperty(nodeID, key string, value any) error

	// RemoveProperty removes a property. Removing a missing key is not an error.
	RemoveProperty(nodeID, key string) error
}

// Tx is a unit of work over the graph.
type Tx interface {
	PropertyStore

	// Node returns the node with its properties, or ErrNodeNotFound.
	Node(nodeID string) (*graph.GraphNode, error)

	// NodeIDs returns all node IDs in ascending order.
	NodeIDs() ([]string, error)

	// AddNode inserts or replaces a node together with its properties.
	AddNode(node *graph.GraphNode) error

	// Relationship returns a relationship, or ErrRelationshipNotFound.
	Relationship(relID string) (*graph.GraphRelationship, error)

	// RelationshipIDs returns all relationship IDs in ascending order.
	RelationshipIDs() ([]string, error)

	// Relationships returns every relationship touching the node, ordered by ID.
	Relationships(nodeID string) ([]*graph.GraphRelationship, error)

	// DirectedRelationships returns the relationships of the given type
	// leaving (Outgoing) or entering (Incoming) the node, ordered by ID. Both
	// returns the union, and an empty type matches every type. A self-loop
	// is both outgoing and incoming.
	DirectedRelationships(nodeID string, dir graph.Direction, relType graph.RelType) ([]*graph.GraphRelationship, error)

	// CreateRelationship stores a new relationship. Both endpoints must exist
	// and the ID must be unused, otherwise ErrRelationshipExists.
	CreateRelationship(rel *graph.GraphRelationship) error

	// DeleteRelationship removes a relationship and returns it.
	DeleteRelationship(relID string) (*graph.GraphRelationship, error)
}

// Backend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Initialize opens or creates the storage backend at the given path.
	// If readOnly is true, the backend is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction and commits it if fn
	// returns nil. Any error discards every change made through tx.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// BulkLoad replaces the entire store with the contents of the graph.
	BulkLoad(ctx context.Context, g *graph.KnowledgeGraph) error

	// Stats returns node and relationship counts.
	Stats(ctx context.Context) (map[string]int, error)
}

func sortedIDs(ids []string) []string {
	sort.Strings(ids)
	return ids
}
