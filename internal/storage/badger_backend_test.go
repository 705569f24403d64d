package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/relcount-go/internal/graph"
)

func setupTestBadgerBackend(t *testing.T) (*BadgerBackend, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "badger")

	backend := NewBadgerBackend()
	err := backend.Initialize(dbPath, false)
	require.NoError(t, err)

	cleanup := func() {
		backend.Close()
	}

	return backend, cleanup
}

func TestBadgerBackend_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("Success", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "badger")

		backend := NewBadgerBackend()
		err := backend.Initialize(dbPath, false)

		assert.NoError(t, err)
		assert.NotNil(t, backend.db)
		assert.True(t, backend.initialized)

		backend.Close()
	})

	t.Run("InMemory", func(t *testing.T) {
		backend := NewBadgerBackend()
		err := backend.Initialize("", false)

		require.NoError(t, err)
		assert.True(t, backend.initialized)

		backend.Close()
	})

	t.Run("ReadOnly", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "badger")

		// First create the DB
		backend1 := NewBadgerBackend()
		err := backend1.Initialize(dbPath, false)
		require.NoError(t, err)
		backend1.Close()

		// Open in read-only mode
		backend2 := NewBadgerBackend()
		err = backend2.Initialize(dbPath, true)
		require.NoError(t, err)
		assert.True(t, backend2.initialized)

		err = backend2.Update(context.Background(), func(Tx) error { return nil })
		assert.ErrorIs(t, err, ErrReadOnly)

		backend2.Close()
	})

	t.Run("InvalidPath", func(t *testing.T) {
		tmpDir := t.TempDir()
		file := filepath.Join(tmpDir, "not-a-dir")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

		backend := NewBadgerBackend()
		err := backend.Initialize(filepath.Join(file, "badger"), false)

		assert.Error(t, err)
	})
}

func TestBadgerBackend_Persistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "badger")

	backend := NewBadgerBackend()
	require.NoError(t, backend.Initialize(dbPath, false))

	g := graph.NewKnowledgeGraph()
	g.AddNode(&graph.GraphNode{ID: "alice", Label: "Person"})
	g.AddNode(&graph.GraphNode{ID: "bob", Label: "Person"})
	require.NoError(t, backend.BulkLoad(ctx, g))

	err := backend.Update(ctx, func(tx Tx) error {
		if err := tx.CreateRelationship(&graph.GraphRelationship{ID: "r1", Type: "FRIEND", Source: "alice", Target: "bob"}); err != nil {
			return err
		}
		return tx.SetProperty("alice", "_GA_RC_FRIEND#OUTGOING", 1)
	})
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	reopened := NewBadgerBackend()
	require.NoError(t, reopened.Initialize(dbPath, true))
	defer reopened.Close()

	err = reopened.View(ctx, func(tx Tx) error {
		v, ok, err := tx.Property("alice", "_GA_RC_FRIEND#OUTGOING")
		require.NoError(t, err)
		require.True(t, ok)
		assert.EqualValues(t, 1, v)

		rels, err := tx.Relationships("bob")
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, graph.RelType("FRIEND"), rels[0].Type)
		return nil
	})
	require.NoError(t, err)
}

func TestBadgerBackend_NodeIDsWithSeparators(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend, cleanup := setupTestBadgerBackend(t)
	defer cleanup()

	g := graph.NewKnowledgeGraph()
	g.AddNode(&graph.GraphNode{ID: "a", Label: "Person"})
	g.AddNode(&graph.GraphNode{ID: "a:b", Label: "Person"})
	g.AddNode(&graph.GraphNode{ID: "c", Label: "Person"})
	g.AddRelationship(&graph.GraphRelationship{ID: "r1", Type: "FRIEND", Source: "a:b", Target: "c"})
	require.NoError(t, backend.BulkLoad(ctx, g))

	err := backend.View(ctx, func(tx Tx) error {
		rels, err := tx.Relationships("a")
		require.NoError(t, err)
		assert.Empty(t, rels)

		rels, err = tx.Relationships("a:b")
		require.NoError(t, err)
		assert.Len(t, rels, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestBadgerBackend_AddNodeReplacesProperties(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend, cleanup := setupTestBadgerBackend(t)
	defer cleanup()

	err := backend.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.AddNode(&graph.GraphNode{ID: "alice", Label: "Person", Properties: map[string]any{"a": 1, "b": 2}}))
		return tx.AddNode(&graph.GraphNode{ID: "alice", Label: "Admin", Properties: map[string]any{"b": 3}})
	})
	require.NoError(t, err)

	err = backend.View(ctx, func(tx Tx) error {
		node, err := tx.Node("alice")
		require.NoError(t, err)
		assert.Equal(t, graph.NodeLabel("Admin"), node.Label)
		assert.Len(t, node.Properties, 1)
		assert.EqualValues(t, 3, node.Properties["b"])
		return nil
	})
	require.NoError(t, err)
}
