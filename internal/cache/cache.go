// Package cache maintains per-node cached relationship counts.
//
// Counts are keyed by edge descriptors and live in the node's own property
// bag, written through a Store. The Cache turns relationship events into
// increments and decrements and hands nodes that gained a new entry to a
// Compactor.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Benny93/relcount-go/internal/descriptor"
	"github.com/Benny93/relcount-go/internal/graph"
	"github.com/Benny93/relcount-go/internal/storage"
)

var (
	// ErrInvalidDirection is returned when Both is given as the default
	// direction for a relationship event.
	ErrInvalidDirection = errors.New("default direction must be OUTGOING or INCOMING")

	// ErrNonPositiveDelta is returned for increments and decrements by
	// zero or less.
	ErrNonPositiveDelta = errors.New("delta must be positive")
)

// Compactor reduces the number of cached counts of a node.
type Compactor interface {
	Compact(ctx context.Context, props storage.PropertyStore, nodeID string) error
}

// Options configures a Cache. Zero fields get defaults.
type Options struct {
	Extractor PropertyExtractor
	Weigh     WeighingFunc
	Include   InclusionPolicy
	Compactor Compactor
	Logger    logrus.FieldLogger
}

// Cache applies relationship events to cached counts.
type Cache struct {
	store     Store
	extractor PropertyExtractor
	weigh     WeighingFunc
	include   InclusionPolicy
	compactor Compactor
	logger    logrus.FieldLogger
}

// New creates a cache over store.
func New(store Store, opts Options) *Cache {
	c := &Cache{
		store:     store,
		extractor: opts.Extractor,
		weigh:     opts.Weigh,
		include:   opts.Include,
		compactor: opts.Compactor,
		logger:    opts.Logger,
	}
	if c.extractor == nil {
		c.extractor = ExtractAll()
	}
	if c.weigh == nil {
		c.weigh = OnePerRelationship()
	}
	if c.include == nil {
		c.include = IncludeAll()
	}
	if c.logger == nil {
		c.logger = logrus.New()
	}
	return c
}

// Store returns the underlying store.
func (c *Cache) Store() Store {
	return c.store
}

// Includes reports whether rel is counted by this cache.
func (c *Cache) Includes(rel *graph.GraphRelationship) bool {
	return c.include(rel)
}

// CachedCounts returns every cached count of the node, most specific first.
func (c *Cache) CachedCounts(props storage.PropertyStore, nodeID string) (Degrees, error) {
	return c.store.Read(props, nodeID)
}

// IncrementCount adds delta to the count covering desc, creating a new
// entry when none does. A new entry triggers compaction.
func (c *Cache) IncrementCount(ctx context.Context, props storage.PropertyStore, nodeID string, desc descriptor.Descriptor, delta int) error {
	if delta <= 0 {
		return fmt.Errorf("incrementing %s on %s by %d: %w", desc, nodeID, delta, ErrNonPositiveDelta)
	}
	if err := c.store.Codec().Validate(desc); err != nil {
		return fmt.Errorf("incrementing %s on %s: %w", desc, nodeID, err)
	}

	node, err := Load(c.store, props, nodeID)
	if err != nil {
		return err
	}
	created := node.Increment(desc, delta)
	if err := c.store.Write(props, node); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"action":     "increment",
		"node":       nodeID,
		"descriptor": desc.String(),
		"delta":      delta,
		"created":    created,
	}).Debug("cached count incremented")

	if created && c.compactor != nil {
		if err := c.compactor.Compact(ctx, props, nodeID); err != nil {
			return fmt.Errorf("compacting %s: %w", nodeID, err)
		}
	}
	return nil
}

// DecrementCount subtracts delta from the count covering desc. It returns
// false, after logging a warning, when no entry covers desc or the entry
// was smaller than delta. Entries reaching zero are removed.
func (c *Cache) DecrementCount(props storage.PropertyStore, nodeID string, desc descriptor.Descriptor, delta int) (bool, error) {
	if delta <= 0 {
		return false, fmt.Errorf("decrementing %s on %s by %d: %w", desc, nodeID, delta, ErrNonPositiveDelta)
	}

	node, err := Load(c.store, props, nodeID)
	if err != nil {
		return false, err
	}

	log := c.logger.WithFields(logrus.Fields{
		"action":     "decrement",
		"node":       nodeID,
		"descriptor": desc.String(),
		"delta":      delta,
	})

	matched, inSync := node.Decrement(desc, delta)
	if !matched {
		log.Warn("cached count out of sync: no entry covers the relationship")
		return false, nil
	}
	if err := c.store.Write(props, node); err != nil {
		return false, err
	}
	if !inSync {
		log.Warn("cached count out of sync: entry was smaller than the decrement")
	}
	return inSync, nil
}

// DeleteCount removes the entry cached for exactly desc and reports
// whether it existed.
func (c *Cache) DeleteCount(props storage.PropertyStore, nodeID string, desc descriptor.Descriptor) (bool, error) {
	node, err := Load(c.store, props, nodeID)
	if err != nil {
		return false, err
	}
	if !node.Delete(desc) {
		return false, nil
	}
	return true, c.store.Write(props, node)
}

// Clear removes every cached count of the node.
func (c *Cache) Clear(props storage.PropertyStore, nodeID string) error {
	return c.store.Clear(props, nodeID)
}

// Describe returns the literal descriptor of rel as seen from pointOfView.
func (c *Cache) Describe(rel *graph.GraphRelationship, pointOfView string, defaultDirection graph.Direction) (descriptor.Descriptor, error) {
	if defaultDirection == graph.Both {
		return descriptor.Descriptor{}, fmt.Errorf("describing %s: %w", rel.ID, ErrInvalidDirection)
	}
	dir := rel.DirectionFrom(pointOfView, defaultDirection)
	desc := descriptor.NewLiteral(rel.Type, dir, c.extractor(rel, pointOfView))
	if err := c.store.Codec().Validate(desc); err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("describing %s: %w", rel.ID, err)
	}
	return desc, nil
}

// HandleCreated counts a new relationship on pointOfView. defaultDirection
// resolves self-loops and must not be Both.
func (c *Cache) HandleCreated(ctx context.Context, props storage.PropertyStore, rel *graph.GraphRelationship, pointOfView string, defaultDirection graph.Direction) error {
	if !c.include(rel) {
		return nil
	}
	desc, err := c.Describe(rel, pointOfView, defaultDirection)
	if err != nil {
		return err
	}
	weight, err := c.Weigh(rel, pointOfView)
	if err != nil {
		return err
	}
	return c.IncrementCount(ctx, props, pointOfView, desc, weight)
}

// HandleDeleted uncounts a removed relationship on pointOfView. It returns
// false when the cached counts were out of sync.
func (c *Cache) HandleDeleted(props storage.PropertyStore, rel *graph.GraphRelationship, pointOfView string, defaultDirection graph.Direction) (bool, error) {
	if !c.include(rel) {
		return true, nil
	}
	desc, err := c.Describe(rel, pointOfView, defaultDirection)
	if err != nil {
		return false, err
	}
	weight, err := c.Weigh(rel, pointOfView)
	if err != nil {
		return false, err
	}
	return c.DecrementCount(props, pointOfView, desc, weight)
}

// Weigh returns the positive weight of rel as seen from pointOfView.
func (c *Cache) Weigh(rel *graph.GraphRelationship, pointOfView string) (int, error) {
	w := c.weigh(rel, pointOfView)
	if w <= 0 {
		return 0, fmt.Errorf("weighing %s from %s returned %d: %w", rel.ID, pointOfView, w, ErrNonPositiveDelta)
	}
	return w, nil
}
