package compact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/relcount-go/internal/cache"
	"github.com/Benny93/relcount-go/internal/storage"
)

// ErrShutdown is returned when compaction is requested after Shutdown.
var ErrShutdown = errors.New("async compactor is shut down")

// AsyncCompactor hands compaction to a single background worker. Each run
// opens its own transaction and re-reads the node, so it tolerates writes
// made after the request. A node is queued at most once at a time. Writers
// collect requests with WithBatch and Flush them after commit.
type AsyncCompactor struct {
	backend  storage.Backend
	inner    cache.Compactor
	queue    chan string
	metrics  *Metrics
	logger   logrus.FieldLogger
	maxRetry uint64

	mu      sync.Mutex
	pending map[string]bool
	closed  bool

	group *errgroup.Group
}

// NewAsyncCompactor creates a compactor queueing up to queueSize nodes and
// starts its worker. Call Shutdown to drain the queue and stop it.
func NewAsyncCompactor(ctx context.Context, backend storage.Backend, inner cache.Compactor, queueSize int, metrics *Metrics, logger logrus.FieldLogger) *AsyncCompactor {
	if queueSize <= 0 {
		queueSize = 1
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	a := &AsyncCompactor{
		backend:  backend,
		inner:    inner,
		queue:    make(chan string, queueSize),
		metrics:  metrics,
		logger:   logger,
		maxRetry: 5,
		pending:  make(map[string]bool),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.work(gctx)
	})
	a.group = g
	return a
}

type batchKey struct{}

// Batch collects the nodes whose compaction was requested inside one write
// transaction. They are queued by Flush once the transaction commits, so the
// worker never reads a node before the write that grew it is visible.
type Batch struct {
	mu    sync.Mutex
	nodes []string
	seen  map[string]bool
}

func (b *Batch) add(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen[nodeID] {
		return
	}
	b.seen[nodeID] = true
	b.nodes = append(b.nodes, nodeID)
}

// Nodes returns the collected node IDs in request order.
func (b *Batch) Nodes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.nodes...)
}

// WithBatch returns a context under which Compact collects requests in the
// returned batch instead of queueing them.
func WithBatch(ctx context.Context) (context.Context, *Batch) {
	b := &Batch{seen: make(map[string]bool)}
	return context.WithValue(ctx, batchKey{}, b), b
}

// Compact implements cache.Compactor. Under a WithBatch context the node is
// only collected; otherwise it is queued at once. props is not used: the
// worker runs in its own transaction.
func (a *AsyncCompactor) Compact(ctx context.Context, _ storage.PropertyStore, nodeID string) error {
	if b, ok := ctx.Value(batchKey{}).(*Batch); ok {
		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if closed {
			return ErrShutdown
		}
		b.add(nodeID)
		return nil
	}
	return a.enqueue(nodeID)
}

// Flush queues the nodes of a committed batch. Requests after Shutdown are
// dropped with a warning; the counts they would have compacted stay exact.
func (a *AsyncCompactor) Flush(b *Batch) {
	for _, nodeID := range b.Nodes() {
		if err := a.enqueue(nodeID); err != nil {
			a.logger.WithFields(logrus.Fields{
				"action": "compact",
				"node":   nodeID,
			}).WithError(err).Warn("async compaction request dropped")
		}
	}
}

// enqueue queues the node unless it is already pending. A full queue drops
// the request; the node is compacted on its next new cached count.
func (a *AsyncCompactor) enqueue(nodeID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrShutdown
	}
	if a.pending[nodeID] {
		return nil
	}

	select {
	case a.queue <- nodeID:
		a.pending[nodeID] = true
		a.metrics.QueueDepth.Inc()
	default:
		a.metrics.Dropped.Inc()
		a.logger.WithFields(logrus.Fields{
			"action": "compact",
			"node":   nodeID,
		}).Warn("async compaction queue full, request dropped")
	}
	return nil
}

// Shutdown stops accepting requests and waits until queued nodes are
// compacted or ctx is done.
func (a *AsyncCompactor) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- a.group.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for async compaction: %w", ctx.Err())
	}
}

func (a *AsyncCompactor) work(ctx context.Context) error {
	for nodeID := range a.queue {
		a.mu.Lock()
		delete(a.pending, nodeID)
		a.mu.Unlock()
		a.metrics.QueueDepth.Dec()

		if err := a.run(ctx, nodeID); err != nil {
			a.metrics.Failed.Inc()
			a.logger.WithFields(logrus.Fields{
				"action": "compact",
				"node":   nodeID,
			}).WithError(err).Error("async compaction failed")
		}
	}
	return nil
}

func (a *AsyncCompactor) run(ctx context.Context, nodeID string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := a.backend.Update(ctx, func(tx storage.Tx) error {
			return a.inner.Compact(ctx, tx, nodeID)
		})
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, a.maxRetry), ctx))
}
