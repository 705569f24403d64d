package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Benny93/relcount-go/internal/graph"
)

// Key prefixes for different data types
const (
	prefixNode     = "n:"     // node data
	prefixRel      = "r:"     // relationship data
	prefixIncoming = "i:in:"  // incoming relationships
	prefixOutgoing = "i:out:" // outgoing relationships
	prefixProperty = "p:"     // node properties, one key per property
)

// keySep separates IDs inside composite keys. IDs may contain ':'.
const keySep = "\x00"

// nodeRecord is the stored form of a node. Properties live under their own keys.
type nodeRecord struct {
	ID    string          `msgpack:"id"`
	Label graph.NodeLabel `msgpack:"label"`
}

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db          *badger.DB
	initialized bool
	readOnly    bool
	mu          sync.RWMutex
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
// An empty path opens an in-memory database.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if path == "" {
		opts = opts.WithInMemory(true)
	}
	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.initialized = true
	b.readOnly = readOnly
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.initialized = false
	return err
}

// View implements Backend.
func (b *BadgerBackend) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return ErrClosed
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	return fn(&badgerTx{txn: txn, readOnly: true})
}

// Update implements Backend. A concurrent transaction touching the same
// keys makes the commit fail with badger.ErrConflict; nothing is written
// in that case and the caller may retry.
func (b *BadgerBackend) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return ErrClosed
	}
	if b.readOnly {
		return ErrReadOnly
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(&badgerTx{txn: txn}); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// BulkLoad replaces the entire store with the contents of the graph.
func (b *BadgerBackend) BulkLoad(ctx context.Context, g *graph.KnowledgeGraph) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return ErrClosed
	}

	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("dropping existing data: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for node := range g.IterNodes() {
		if err := writeNode(wb.Set, node); err != nil {
			return err
		}
	}

	for rel := range g.IterRelationships() {
		if err := writeRelationship(wb.Set, rel); err != nil {
			return err
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing bulk load: %w", err)
	}
	return nil
}

// Stats implements Backend.
func (b *BadgerBackend) Stats(ctx context.Context) (map[string]int, error) {
	stats := map[string]int{}
	err := b.View(ctx, func(tx Tx) error {
		btx := tx.(*badgerTx)
		stats["nodes"] = btx.countPrefix([]byte(prefixNode))
		stats["relationships"] = btx.countPrefix([]byte(prefixRel))
		return nil
	})
	return stats, err
}

// setFunc abstracts over badger.Txn.Set and badger.WriteBatch.Set.
type setFunc func(key, val []byte) error

func writeNode(set setFunc, node *graph.GraphNode) error {
	data, err := msgpack.Marshal(nodeRecord{ID: node.ID, Label: node.Label})
	if err != nil {
		return fmt.Errorf("marshaling node: %w", err)
	}
	if err := set(nodeKey(node.ID), data); err != nil {
		return fmt.Errorf("setting node: %w", err)
	}
	for k, v := range node.Properties {
		data, err := msgpack.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling property %s: %w", k, err)
		}
		if err := set(propertyKey(node.ID, k), data); err != nil {
			return fmt.Errorf("setting property %s: %w", k, err)
		}
	}
	return nil
}

func writeRelationship(set setFunc, rel *graph.GraphRelationship) error {
	data, err := msgpack.Marshal(rel)
	if err != nil {
		return fmt.Errorf("marshaling relationship: %w", err)
	}
	if err := set(relKey(rel.ID), data); err != nil {
		return fmt.Errorf("setting relationship: %w", err)
	}
	if err := set(outgoingKey(rel), []byte(rel.ID)); err != nil {
		return fmt.Errorf("setting outgoing index: %w", err)
	}
	if err := set(incomingKey(rel), []byte(rel.ID)); err != nil {
		return fmt.Errorf("setting incoming index: %w", err)
	}
	return nil
}

// badgerTx implements Tx on top of a badger transaction.
type badgerTx struct {
	txn      *badger.Txn
	readOnly bool
}

func (tx *badgerTx) writable() error {
	if tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (tx *badgerTx) requireNode(nodeID string) error {
	_, err := tx.txn.Get(nodeKey(nodeID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("node %s: %w", nodeID, ErrNodeNotFound)
	}
	if err != nil {
		return fmt.Errorf("getting node %s: %w", nodeID, err)
	}
	return nil
}

func (tx *badgerTx) PropertyKeys(nodeID string) ([]string, error) {
	if err := tx.requireNode(nodeID); err != nil {
		return nil, err
	}

	prefix := propertyPrefix(nodeID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
	}
	return keys, nil
}

func (tx *badgerTx) Property(nodeID, key string) (any, bool, error) {
	if err := tx.requireNode(nodeID); err != nil {
		return nil, false, err
	}

	item, err := tx.txn.Get(propertyKey(nodeID, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting property %s of %s: %w", key, nodeID, err)
	}

	var value any
	if err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &value)
	}); err != nil {
		return nil, false, fmt.Errorf("unmarshaling property %s of %s: %w", key, nodeID, err)
	}
	return value, true, nil
}

func (tx *badgerTx) SetProperty(nodeID, key string, value any) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if err := tx.requireNode(nodeID); err != nil {
		return err
	}

	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling property %s: %w", key, err)
	}
	if err := tx.txn.Set(propertyKey(nodeID, key), data); err != nil {
		return fmt.Errorf("setting property %s of %s: %w", key, nodeID, err)
	}
	return nil
}

func (tx *badgerTx) RemoveProperty(nodeID, key string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if err := tx.requireNode(nodeID); err != nil {
		return err
	}
	if err := tx.txn.Delete(propertyKey(nodeID, key)); err != nil {
		return fmt.Errorf("removing property %s of %s: %w", key, nodeID, err)
	}
	return nil
}

func (tx *badgerTx) Node(nodeID string) (*graph.GraphNode, error) {
	item, err := tx.txn.Get(nodeKey(nodeID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("getting node %s: %w", nodeID, ErrNodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting node %s: %w", nodeID, err)
	}

	var rec nodeRecord
	if err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}

	node := &graph.GraphNode{ID: rec.ID, Label: rec.Label, Properties: map[string]any{}}
	keys, err := tx.PropertyKeys(nodeID)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		v, _, err := tx.Property(nodeID, k)
		if err != nil {
			return nil, err
		}
		node.Properties[k] = v
	}
	return node, nil
}

func (tx *badgerTx) NodeIDs() ([]string, error) {
	return tx.idsUnder([]byte(prefixNode)), nil
}

func (tx *badgerTx) AddNode(node *graph.GraphNode) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if err := tx.deletePrefix(propertyPrefix(node.ID)); err != nil {
		return err
	}
	return writeNode(tx.txn.Set, node)
}

func (tx *badgerTx) Relationship(relID string) (*graph.GraphRelationship, error) {
	item, err := tx.txn.Get(relKey(relID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("getting relationship %s: %w", relID, ErrRelationshipNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting relationship %s: %w", relID, err)
	}

	var rel graph.GraphRelationship
	if err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &rel)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling relationship: %w", err)
	}
	return &rel, nil
}

func (tx *badgerTx) RelationshipIDs() ([]string, error) {
	return tx.idsUnder([]byte(prefixRel)), nil
}

func (tx *badgerTx) Relationships(nodeID string) ([]*graph.GraphRelationship, error) {
	return tx.DirectedRelationships(nodeID, graph.Both, "")
}

func (tx *badgerTx) DirectedRelationships(nodeID string, dir graph.Direction, relType graph.RelType) ([]*graph.GraphRelationship, error) {
	if err := tx.requireNode(nodeID); err != nil {
		return nil, err
	}

	var prefixes []string
	if dir != graph.Incoming {
		prefixes = append(prefixes, prefixOutgoing)
	}
	if dir != graph.Outgoing {
		prefixes = append(prefixes, prefixIncoming)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, prefix := range prefixes {
		p := prefix + nodeID + keySep
		if relType != "" {
			p += string(relType) + keySep
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(p)
		it := tx.txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			var relID string
			if err := it.Item().Value(func(val []byte) error {
				relID = string(val)
				return nil
			}); err != nil {
				it.Close()
				return nil, fmt.Errorf("reading rel ID: %w", err)
			}
			if !seen[relID] {
				seen[relID] = true
				ids = append(ids, relID)
			}
		}
		it.Close()
	}

	rels := make([]*graph.GraphRelationship, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		rel, err := tx.Relationship(id)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

func (tx *badgerTx) CreateRelationship(rel *graph.GraphRelationship) error {
	if err := tx.writable(); err != nil {
		return err
	}
	for _, id := range []string{rel.Source, rel.Target} {
		if err := tx.requireNode(id); err != nil {
			return fmt.Errorf("creating relationship %s: %w", rel.ID, err)
		}
	}
	_, err := tx.txn.Get(relKey(rel.ID))
	if err == nil {
		return fmt.Errorf("creating relationship %s: %w", rel.ID, ErrRelationshipExists)
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("getting relationship %s: %w", rel.ID, err)
	}
	return writeRelationship(tx.txn.Set, rel)
}

func (tx *badgerTx) DeleteRelationship(relID string) (*graph.GraphRelationship, error) {
	if err := tx.writable(); err != nil {
		return nil, err
	}
	rel, err := tx.Relationship(relID)
	if err != nil {
		return nil, fmt.Errorf("deleting relationship: %w", err)
	}
	if err := tx.txn.Delete(relKey(relID)); err != nil {
		return nil, fmt.Errorf("deleting relationship %s: %w", relID, err)
	}
	if err := tx.unindex(rel); err != nil {
		return nil, err
	}
	return rel, nil
}

func (tx *badgerTx) unindex(rel *graph.GraphRelationship) error {
	if err := tx.txn.Delete(outgoingKey(rel)); err != nil {
		return fmt.Errorf("deleting outgoing index: %w", err)
	}
	if err := tx.txn.Delete(incomingKey(rel)); err != nil {
		return fmt.Errorf("deleting incoming index: %w", err)
	}
	return nil
}

func (tx *badgerTx) idsUnder(prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
	}
	return ids
}

func (tx *badgerTx) countPrefix(prefix []byte) int {
	return len(tx.idsUnder(prefix))
}

func (tx *badgerTx) deletePrefix(prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := tx.txn.NewIterator(opts)

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := tx.txn.Delete(key); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

func nodeKey(nodeID string) []byte {
	return []byte(prefixNode + nodeID)
}

func relKey(relID string) []byte {
	return []byte(prefixRel + relID)
}

func propertyPrefix(nodeID string) []byte {
	return []byte(prefixProperty + nodeID + keySep)
}

func propertyKey(nodeID, key string) []byte {
	return []byte(prefixProperty + nodeID + keySep + key)
}

func outgoingKey(rel *graph.GraphRelationship) []byte {
	return []byte(prefixOutgoing + rel.Source + keySep + string(rel.Type) + keySep + rel.ID)
}

func incomingKey(rel *graph.GraphRelationship) []byte {
	return []byte(prefixIncoming + rel.Target + keySep + string(rel.Type) + keySep + rel.ID)
}
