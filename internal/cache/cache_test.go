package cache

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/relcount-go/internal/descriptor"
	"github.com/Benny93/relcount-go/internal/graph"
)

func newTestCache(opts Options) (*Cache, mapProps) {
	if opts.Logger == nil {
		opts.Logger, _ = nullLogger()
	}
	l, _ := nullLogger()
	return New(NewPropertyStore(descriptor.DefaultCodec(""), l), opts), mapProps{}
}

func TestCache_IncrementCount(t *testing.T) {
	t.Parallel()

	t.Run("NewEntryTriggersCompaction", func(t *testing.T) {
		compactor := &recordingCompactor{}
		c, props := newTestCache(Options{Compactor: compactor})
		ctx := context.Background()
		d := literalFriend(map[string]string{"since": "2020"})

		require.NoError(t, c.IncrementCount(ctx, props, "alice", d, 1))
		require.NoError(t, c.IncrementCount(ctx, props, "alice", d, 1))

		assert.Equal(t, []string{"alice"}, compactor.nodes)
		degrees, err := c.CachedCounts(props, "alice")
		require.NoError(t, err)
		requireCount(t, degrees, d, 2)
	})

	t.Run("NonPositiveDelta", func(t *testing.T) {
		c, props := newTestCache(Options{})

		err := c.IncrementCount(context.Background(), props, "alice", friend(nil), 0)

		assert.ErrorIs(t, err, ErrNonPositiveDelta)
		assert.Empty(t, props["alice"])
	})
}

func TestCache_DecrementCount(t *testing.T) {
	t.Parallel()

	t.Run("InSync", func(t *testing.T) {
		c, props := newTestCache(Options{})
		d := friend(nil)
		require.NoError(t, c.IncrementCount(context.Background(), props, "alice", d, 3))

		ok, err := c.DecrementCount(props, "alice", literalFriend(map[string]string{"k": "v"}), 1)

		require.NoError(t, err)
		assert.True(t, ok)
		degrees, err := c.CachedCounts(props, "alice")
		require.NoError(t, err)
		requireCount(t, degrees, d, 2)
	})

	t.Run("NoEntryLogsWarning", func(t *testing.T) {
		l, hook := nullLogger()
		c, props := newTestCache(Options{Logger: l})

		ok, err := c.DecrementCount(props, "alice", friend(nil), 1)

		require.NoError(t, err)
		assert.False(t, ok)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		assert.Equal(t, "alice", hook.LastEntry().Data["node"])
	})

	t.Run("BelowZeroLogsWarningAndRemoves", func(t *testing.T) {
		l, hook := nullLogger()
		c, props := newTestCache(Options{Logger: l})
		require.NoError(t, c.IncrementCount(context.Background(), props, "alice", friend(nil), 1))

		ok, err := c.DecrementCount(props, "alice", friend(nil), 2)

		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		assert.Empty(t, props["alice"])
	})
}

func TestCache_DeleteCount(t *testing.T) {
	t.Parallel()

	c, props := newTestCache(Options{})
	general := friend(nil)
	require.NoError(t, c.IncrementCount(context.Background(), props, "alice", general, 2))

	ok, err := c.DeleteCount(props, "alice", literalFriend(nil))
	require.NoError(t, err)
	assert.False(t, ok, "delete matches exactly, not by generality")

	ok, err = c.DeleteCount(props, "alice", general)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, props["alice"])
}

func TestCache_HandleEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rel := &graph.GraphRelationship{
		ID: "r1", Type: "FRIEND", Source: "alice", Target: "bob",
		Properties: map[string]any{"since": "2020"},
	}

	t.Run("CountsBothEndpoints", func(t *testing.T) {
		c, props := newTestCache(Options{})

		require.NoError(t, c.HandleCreated(ctx, props, rel, "alice", graph.Incoming))
		require.NoError(t, c.HandleCreated(ctx, props, rel, "bob", graph.Outgoing))

		aliceCounts, err := c.CachedCounts(props, "alice")
		require.NoError(t, err)
		requireCount(t, aliceCounts, descriptor.NewLiteral("FRIEND", graph.Outgoing, map[string]string{"since": "2020"}), 1)

		bobCounts, err := c.CachedCounts(props, "bob")
		require.NoError(t, err)
		requireCount(t, bobCounts, descriptor.NewLiteral("FRIEND", graph.Incoming, map[string]string{"since": "2020"}), 1)

		ok, err := c.HandleDeleted(props, rel, "alice", graph.Incoming)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, props["alice"])
	})

	t.Run("SelfLoopUsesDefaultDirection", func(t *testing.T) {
		c, props := newTestCache(Options{Extractor: ExtractNone()})
		loop := &graph.GraphRelationship{ID: "r2", Type: "SELF", Source: "alice", Target: "alice"}

		require.NoError(t, c.HandleCreated(ctx, props, loop, "alice", graph.Incoming))
		require.NoError(t, c.HandleCreated(ctx, props, loop, "alice", graph.Outgoing))

		degrees, err := c.CachedCounts(props, "alice")
		require.NoError(t, err)
		requireCount(t, degrees, descriptor.NewLiteral("SELF", graph.Incoming, nil), 1)
		requireCount(t, degrees, descriptor.NewLiteral("SELF", graph.Outgoing, nil), 1)
	})

	t.Run("BothIsRejected", func(t *testing.T) {
		c, props := newTestCache(Options{})

		err := c.HandleCreated(ctx, props, rel, "alice", graph.Both)
		assert.ErrorIs(t, err, ErrInvalidDirection)

		_, err = c.HandleDeleted(props, rel, "alice", graph.Both)
		assert.ErrorIs(t, err, ErrInvalidDirection)
	})

	t.Run("ExcludedRelationshipsAreIgnored", func(t *testing.T) {
		c, props := newTestCache(Options{Include: IncludeTypes("KNOWS")})

		require.NoError(t, c.HandleCreated(ctx, props, rel, "alice", graph.Incoming))
		ok, err := c.HandleDeleted(props, rel, "alice", graph.Incoming)

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, props["alice"])
	})

	t.Run("WeightIsApplied", func(t *testing.T) {
		weighted := &graph.GraphRelationship{
			ID: "r3", Type: "FRIEND", Source: "alice", Target: "bob",
			Properties: map[string]any{"weight": 5},
		}
		c, props := newTestCache(Options{Extractor: ExtractNone(), Weigh: WeighByProperty("weight", 1)})

		require.NoError(t, c.HandleCreated(ctx, props, weighted, "alice", graph.Incoming))

		degrees, err := c.CachedCounts(props, "alice")
		require.NoError(t, err)
		requireCount(t, degrees, descriptor.NewLiteral("FRIEND", graph.Outgoing, nil), 5)
	})

	t.Run("SeparatorInPropertyIsRejected", func(t *testing.T) {
		c, props := newTestCache(Options{})
		noted := &graph.GraphRelationship{
			ID: "r4", Type: "FRIEND", Source: "alice", Target: "bob",
			Properties: map[string]any{"note": "a#b"},
		}

		err := c.HandleCreated(ctx, props, noted, "alice", graph.Incoming)
		assert.ErrorIs(t, err, descriptor.ErrMalformed)
		assert.Empty(t, props["alice"])

		_, err = c.HandleDeleted(props, noted, "alice", graph.Incoming)
		assert.ErrorIs(t, err, descriptor.ErrMalformed)

		err = c.IncrementCount(ctx, props, "alice", literalFriend(map[string]string{"note": "a#b"}), 1)
		assert.ErrorIs(t, err, descriptor.ErrMalformed)
		assert.Empty(t, props["alice"])
	})

	t.Run("ExcludedRelationshipsAreNotValidated", func(t *testing.T) {
		c, props := newTestCache(Options{Include: IncludeTypes("KNOWS")})
		odd := &graph.GraphRelationship{ID: "r5", Type: "FRI#END", Source: "alice", Target: "bob"}

		assert.NoError(t, c.HandleCreated(ctx, props, odd, "alice", graph.Incoming))
		assert.Empty(t, props["alice"])
	})

	t.Run("NonPositiveWeightIsRejected", func(t *testing.T) {
		zero := func(*graph.GraphRelationship, string) int { return 0 }
		c, props := newTestCache(Options{Weigh: zero})

		err := c.HandleCreated(ctx, props, rel, "alice", graph.Incoming)

		assert.ErrorIs(t, err, ErrNonPositiveDelta)
	})
}
