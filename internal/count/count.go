// Package count answers relationship count queries from cached counts,
// falling back to traversal when the cache is too coarse.
package count

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Benny93/relcount-go/internal/cache"
	"github.com/Benny93/relcount-go/internal/descriptor"
	"github.com/Benny93/relcount-go/internal/graph"
	"github.com/Benny93/relcount-go/internal/storage"
)

// ErrUnableToCount is matched by every *UnableToCountError.
var ErrUnableToCount = errors.New("unable to count")

// UnableToCountError reports that compaction merged away the granularity
// needed to answer Query exactly.
type UnableToCountError struct {
	NodeID string
	Query  descriptor.Descriptor
	// Cached is the cached descriptor that may hide matching relationships.
	Cached descriptor.Descriptor
}

func (e *UnableToCountError) Error() string {
	return fmt.Sprintf("unable to count %s on %s: cached count %s is too general", e.Query, e.NodeID, e.Cached)
}

// Is makes errors.Is(err, ErrUnableToCount) succeed.
func (e *UnableToCountError) Is(target error) bool {
	return target == ErrUnableToCount
}

// Counter counts the relationships of a node described by a query.
type Counter interface {
	Count(tx storage.Tx, nodeID string, query descriptor.Descriptor) (int, error)
}

// CachedCounter answers from cached counts only.
type CachedCounter struct {
	store cache.Store
}

// NewCachedCounter creates a counter reading through store.
func NewCachedCounter(store cache.Store) *CachedCounter {
	return &CachedCounter{store: store}
}

// Count implements Counter. Cached counts at least as specific as query are
// summed and counts excluding it are skipped. Any other cached count of the
// same type and direction overlaps the query without being contained in it,
// so the result would be inexact and *UnableToCountError is returned.
func (c *CachedCounter) Count(tx storage.Tx, nodeID string, query descriptor.Descriptor) (int, error) {
	degrees, err := c.store.Read(tx, nodeID)
	if err != nil {
		return 0, err
	}
	return Sum(degrees, nodeID, query)
}

// Sum applies the counting rule of CachedCounter to already read counts.
func Sum(degrees cache.Degrees, nodeID string, query descriptor.Descriptor) (int, error) {
	total := 0
	for _, deg := range degrees {
		cached := deg.Descriptor
		switch {
		case cached.IsMoreSpecificThan(query):
			total += deg.Count
		case cached.IsMutuallyExclusive(query):
		default:
			return 0, &UnableToCountError{NodeID: nodeID, Query: query, Cached: cached}
		}
	}
	return total, nil
}

// NaiveCounter counts by walking the node's relationships. It is exact and
// uses the same extraction, weighing and inclusion as the cache.
type NaiveCounter struct {
	cache *cache.Cache
}

// NewNaiveCounter creates a traversal counter.
func NewNaiveCounter(c *cache.Cache) *NaiveCounter {
	return &NaiveCounter{cache: c}
}

// Count implements Counter. It walks only the relationships of the query's
// type and direction. A self-loop is seen once in each direction.
func (n *NaiveCounter) Count(tx storage.Tx, nodeID string, query descriptor.Descriptor) (int, error) {
	rels, err := tx.DirectedRelationships(nodeID, query.Direction, query.Type)
	if err != nil {
		return 0, fmt.Errorf("counting %s on %s: %w", query, nodeID, err)
	}

	total := 0
	for _, rel := range rels {
		if !n.cache.Includes(rel) {
			continue
		}
		directions := []graph.Direction{query.Direction}
		if query.Direction == graph.Both {
			directions = []graph.Direction{graph.Outgoing}
			if rel.IsSelfLoop() {
				directions = append(directions, graph.Incoming)
			}
		}
		for _, dir := range directions {
			desc, err := n.cache.Describe(rel, nodeID, dir)
			if err != nil {
				return 0, err
			}
			if !query.IsMoreGeneralThan(desc) {
				continue
			}
			w, err := n.cache.Weigh(rel, nodeID)
			if err != nil {
				return 0, err
			}
			total += w
		}
	}
	return total, nil
}

// FallbackCounter answers from primary and re-counts with fallback when
// primary is unable to count.
type FallbackCounter struct {
	primary  Counter
	fallback Counter
	logger   logrus.FieldLogger
}

// NewFallbackCounter creates a counter chaining primary and fallback.
func NewFallbackCounter(primary, fallback Counter, logger logrus.FieldLogger) *FallbackCounter {
	return &FallbackCounter{primary: primary, fallback: fallback, logger: logger}
}

// Count implements Counter.
func (f *FallbackCounter) Count(tx storage.Tx, nodeID string, query descriptor.Descriptor) (int, error) {
	n, err := f.primary.Count(tx, nodeID, query)
	if !errors.Is(err, ErrUnableToCount) {
		return n, err
	}
	f.logger.WithFields(logrus.Fields{
		"action":     "count",
		"node":       nodeID,
		"descriptor": query.String(),
	}).WithError(err).Debug("falling back to traversal")
	return f.fallback.Count(tx, nodeID, query)
}
