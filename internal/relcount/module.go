// Package relcount wires the relationship count cache, compaction and
// counters onto a storage backend. Every write runs in one backend
// transaction together with the cache updates it causes.
package relcount

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Benny93/relcount-go/internal/cache"
	"github.com/Benny93/relcount-go/internal/compact"
	"github.com/Benny93/relcount-go/internal/config"
	"github.com/Benny93/relcount-go/internal/count"
	"github.com/Benny93/relcount-go/internal/descriptor"
	"github.com/Benny93/relcount-go/internal/graph"
	"github.com/Benny93/relcount-go/internal/storage"
)

// Module maintains cached relationship counts for every node of a backend.
type Module struct {
	cfg       config.Config
	backend   storage.Backend
	store     cache.Store
	cache     *cache.Cache
	compactor *compact.ThresholdCompactor
	async     *compact.AsyncCompactor
	cached    *count.CachedCounter
	counter   count.Counter
	logger    logrus.FieldLogger
}

// New creates a module over an initialized backend. Metrics are registered
// with reg when it is not nil.
func New(ctx context.Context, cfg config.Config, backend storage.Backend, logger logrus.FieldLogger, reg prometheus.Registerer) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var store cache.Store
	switch cfg.Caching {
	case config.CachingSingleProperty:
		store = cache.NewBlobStore(cfg.Codec())
	default:
		store = cache.NewPropertyStore(cfg.Codec(), logger)
	}

	metrics := compact.NewMetrics(reg)
	threshold := compact.NewThresholdCompactor(store, cfg.Strategy(), cfg.Threshold, metrics, logger)

	m := &Module{
		cfg:       cfg,
		backend:   backend,
		store:     store,
		compactor: threshold,
		logger:    logger,
	}

	var compactor cache.Compactor = threshold
	if cfg.AsyncCompaction {
		m.async = compact.NewAsyncCompactor(ctx, backend, threshold, cfg.QueueSize, metrics, logger)
		compactor = m.async
	}

	m.cache = cache.New(store, cache.Options{
		Extractor: cfg.Extractor(),
		Weigh:     cfg.Weigh(),
		Include:   cfg.Inclusion(),
		Compactor: compactor,
		Logger:    logger,
	})
	m.cached = count.NewCachedCounter(store)
	m.counter = count.NewFallbackCounter(m.cached, count.NewNaiveCounter(m.cache), logger)
	return m, nil
}

// Open initializes the backend named by cfg and creates a module over it.
// Close releases both.
func Open(ctx context.Context, cfg config.Config, readOnly bool, logger logrus.FieldLogger, reg prometheus.Registerer) (*Module, error) {
	var backend storage.Backend
	path := cfg.StoragePath
	switch cfg.Backend {
	case config.BackendMemory:
		backend = storage.NewMemoryBackend()
	default:
		backend = storage.NewBadgerBackend()
	}
	if err := backend.Initialize(path, readOnly); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	m, err := New(ctx, cfg, backend, logger, reg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return m, nil
}

// Backend returns the underlying backend.
func (m *Module) Backend() storage.Backend {
	return m.backend
}

// Codec returns the codec of cached count keys.
func (m *Module) Codec() descriptor.Codec {
	return m.store.Codec()
}

// Shutdown drains pending async compaction.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.async == nil {
		return nil
	}
	return m.async.Shutdown(ctx)
}

// Close shuts down and closes the backend.
func (m *Module) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := m.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.backend.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// AddNodes stores nodes. Replacing an existing node drops its cached counts.
func (m *Module) AddNodes(ctx context.Context, nodes ...*graph.GraphNode) error {
	return m.backend.Update(ctx, func(tx storage.Tx) error {
		for _, node := range nodes {
			if err := tx.AddNode(node); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateRelationships stores rels and counts them on both endpoints.
func (m *Module) CreateRelationships(ctx context.Context, rels ...*graph.GraphRelationship) error {
	return m.update(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, rel := range rels {
			if err := tx.CreateRelationship(rel); err != nil {
				return err
			}
			if err := m.created(ctx, tx, rel); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRelationships removes relationships and uncounts them. It returns
// false when some cached count was out of sync.
func (m *Module) DeleteRelationships(ctx context.Context, relIDs ...string) (bool, error) {
	inSync := true
	err := m.backend.Update(ctx, func(tx storage.Tx) error {
		for _, id := range relIDs {
			rel, err := tx.DeleteRelationship(id)
			if err != nil {
				return err
			}
			ok, err := m.deleted(tx, rel)
			if err != nil {
				return err
			}
			inSync = inSync && ok
		}
		return nil
	})
	return inSync && err == nil, err
}

// UpdateRelationship replaces the stored relationship with the same ID and
// moves its counts accordingly.
func (m *Module) UpdateRelationship(ctx context.Context, rel *graph.GraphRelationship) (bool, error) {
	inSync := true
	err := m.update(ctx, func(ctx context.Context, tx storage.Tx) error {
		previous, err := tx.DeleteRelationship(rel.ID)
		if err != nil {
			return err
		}
		if inSync, err = m.deleted(tx, previous); err != nil {
			return err
		}
		if err := tx.CreateRelationship(rel); err != nil {
			return err
		}
		return m.created(ctx, tx, rel)
	})
	return inSync && err == nil, err
}

func (m *Module) created(ctx context.Context, tx storage.Tx, rel *graph.GraphRelationship) error {
	if err := m.cache.HandleCreated(ctx, tx, rel, rel.Source, graph.Incoming); err != nil {
		return err
	}
	return m.cache.HandleCreated(ctx, tx, rel, rel.Target, graph.Outgoing)
}

func (m *Module) deleted(tx storage.Tx, rel *graph.GraphRelationship) (bool, error) {
	fromSource, err := m.cache.HandleDeleted(tx, rel, rel.Source, graph.Incoming)
	if err != nil {
		return false, err
	}
	fromTarget, err := m.cache.HandleDeleted(tx, rel, rel.Target, graph.Outgoing)
	if err != nil {
		return false, err
	}
	return fromSource && fromTarget, nil
}

// Count returns the number of relationships of the node described by
// query, re-counting by traversal when the cache is too coarse.
func (m *Module) Count(ctx context.Context, nodeID string, query descriptor.Descriptor) (int, error) {
	return m.countWith(ctx, m.counter, nodeID, query)
}

// CountCached answers from cached counts only and may fail with
// count.ErrUnableToCount.
func (m *Module) CountCached(ctx context.Context, nodeID string, query descriptor.Descriptor) (int, error) {
	return m.countWith(ctx, m.cached, nodeID, query)
}

func (m *Module) countWith(ctx context.Context, counter count.Counter, nodeID string, query descriptor.Descriptor) (int, error) {
	var n int
	err := m.backend.View(ctx, func(tx storage.Tx) error {
		var err error
		n, err = counter.Count(tx, nodeID, query)
		return err
	})
	return n, err
}

// CachedCounts returns every cached count of the node, most specific first.
func (m *Module) CachedCounts(ctx context.Context, nodeID string) (cache.Degrees, error) {
	var degrees cache.Degrees
	err := m.backend.View(ctx, func(tx storage.Tx) error {
		var err error
		degrees, err = m.cache.CachedCounts(tx, nodeID)
		return err
	})
	return degrees, err
}

// IncrementCount adds delta to the cached count covering desc.
func (m *Module) IncrementCount(ctx context.Context, nodeID string, desc descriptor.Descriptor, delta int) error {
	return m.update(ctx, func(ctx context.Context, tx storage.Tx) error {
		return m.cache.IncrementCount(ctx, tx, nodeID, desc, delta)
	})
}

// DecrementCount subtracts delta from the cached count covering desc and
// reports whether the cache was in sync.
func (m *Module) DecrementCount(ctx context.Context, nodeID string, desc descriptor.Descriptor, delta int) (bool, error) {
	var inSync bool
	err := m.backend.Update(ctx, func(tx storage.Tx) error {
		var err error
		inSync, err = m.cache.DecrementCount(tx, nodeID, desc, delta)
		return err
	})
	return inSync, err
}

// DeleteCount removes the cached count of exactly desc.
func (m *Module) DeleteCount(ctx context.Context, nodeID string, desc descriptor.Descriptor) (bool, error) {
	var deleted bool
	err := m.backend.Update(ctx, func(tx storage.Tx) error {
		var err error
		deleted, err = m.cache.DeleteCount(tx, nodeID, desc)
		return err
	})
	return deleted, err
}

// Compact compacts the node synchronously, even in async mode.
func (m *Module) Compact(ctx context.Context, nodeID string) error {
	return m.backend.Update(ctx, func(tx storage.Tx) error {
		return m.compactor.Compact(ctx, tx, nodeID)
	})
}

// CompactAll compacts every node holding more cached counts than the
// threshold.
func (m *Module) CompactAll(ctx context.Context) error {
	return m.eachBatch(ctx, "compact", func(ctx context.Context, tx storage.Tx, nodeID string) error {
		return m.compactor.Compact(ctx, tx, nodeID)
	})
}

// RebuildAll drops and recounts the cached counts of every node. It walks
// every relationship twice and is expensive. Failed batches are rolled back
// and reported together; the other batches still commit.
func (m *Module) RebuildAll(ctx context.Context) error {
	return m.eachBatch(ctx, "rebuild", func(ctx context.Context, tx storage.Tx, nodeID string) error {
		if err := m.cache.Clear(tx, nodeID); err != nil {
			return err
		}
		rels, err := tx.Relationships(nodeID)
		if err != nil {
			return err
		}
		for _, rel := range rels {
			if err := m.cache.HandleCreated(ctx, tx, rel, nodeID, graph.Outgoing); err != nil {
				return err
			}
			if rel.IsSelfLoop() {
				if err := m.cache.HandleCreated(ctx, tx, rel, nodeID, graph.Incoming); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ClearAll drops the cached counts of every node.
func (m *Module) ClearAll(ctx context.Context) error {
	return m.eachBatch(ctx, "clear", func(_ context.Context, tx storage.Tx, nodeID string) error {
		return m.cache.Clear(tx, nodeID)
	})
}

// Import replaces the backend contents with g and counts every relationship.
func (m *Module) Import(ctx context.Context, g *graph.KnowledgeGraph) error {
	if err := m.backend.BulkLoad(ctx, g); err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}
	return m.RebuildAll(ctx)
}

func (m *Module) eachBatch(ctx context.Context, action string, fn func(ctx context.Context, tx storage.Tx, nodeID string) error) error {
	var nodeIDs []string
	if err := m.backend.View(ctx, func(tx storage.Tx) error {
		var err error
		nodeIDs, err = tx.NodeIDs()
		return err
	}); err != nil {
		return fmt.Errorf("listing nodes: %w", err)
	}

	log := m.logger.WithField("action", action)
	var result *multierror.Error
	for start := 0; start < len(nodeIDs); start += m.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}

		end := min(start+m.cfg.BatchSize, len(nodeIDs))
		batch := nodeIDs[start:end]
		err := m.update(ctx, func(ctx context.Context, tx storage.Tx) error {
			for _, nodeID := range batch {
				if err := fn(ctx, tx, nodeID); err != nil {
					return fmt.Errorf("node %s: %w", nodeID, err)
				}
			}
			return nil
		})
		if err != nil {
			log.WithFields(logrus.Fields{"from": start, "to": end}).WithError(err).Error("batch failed")
			result = multierror.Append(result, err)
			continue
		}
		log.WithFields(logrus.Fields{"from": start, "to": end}).Debug("batch done")
	}

	log.WithField("nodes", len(nodeIDs)).Info("finished")
	return result.ErrorOrNil()
}

// update runs fn in one write transaction. Async compaction requested by fn
// is queued only once the transaction has committed and is dropped when it
// rolls back.
func (m *Module) update(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if m.async == nil {
		return m.backend.Update(ctx, func(tx storage.Tx) error {
			return fn(ctx, tx)
		})
	}
	bctx, batch := compact.WithBatch(ctx)
	if err := m.backend.Update(ctx, func(tx storage.Tx) error {
		return fn(bctx, tx)
	}); err != nil {
		return err
	}
	m.async.Flush(batch)
	return nil
}

// IsUnableToCount reports whether err means the cache was too coarse.
func IsUnableToCount(err error) bool {
	return errors.Is(err, count.ErrUnableToCount)
}
