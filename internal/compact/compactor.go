// Package compact keeps the number of cached counts per node bounded by
// merging specific counts into more general ones.
package compact

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Benny93/relcount-go/internal/cache"
	"github.com/Benny93/relcount-go/internal/storage"
)

// ThresholdCompactor merges cached counts while a node holds more than
// threshold of them. The threshold is advisory: when no generalization
// covers two entries the node stays above it.
type ThresholdCompactor struct {
	store     cache.Store
	strategy  Strategy
	threshold int
	metrics   *Metrics
	logger    logrus.FieldLogger
}

// NewThresholdCompactor creates a compactor. A nil strategy means
// LeastGeneral and nil metrics are created unregistered.
func NewThresholdCompactor(store cache.Store, strategy Strategy, threshold int, metrics *Metrics, logger logrus.FieldLogger) *ThresholdCompactor {
	if strategy == nil {
		strategy = LeastGeneral{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &ThresholdCompactor{
		store:     store,
		strategy:  strategy,
		threshold: threshold,
		metrics:   metrics,
		logger:    logger,
	}
}

// Threshold returns the configured threshold.
func (c *ThresholdCompactor) Threshold() int {
	return c.threshold
}

// Compact implements cache.Compactor. It must run inside a transaction with
// exclusive access to the node's cached counts.
func (c *ThresholdCompactor) Compact(ctx context.Context, props storage.PropertyStore, nodeID string) error {
	node, err := cache.Load(c.store, props, nodeID)
	if err != nil {
		return err
	}
	before := node.Degrees().Len()
	if before <= c.threshold {
		return nil
	}
	c.metrics.Runs.Inc()

	log := c.logger.WithFields(logrus.Fields{
		"action":    "compact",
		"node":      nodeID,
		"threshold": c.threshold,
	})

	merges := 0
	for node.Degrees().Len() > c.threshold {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("compacting %s: %w", nodeID, err)
		}

		g, ok := c.strategy.Generalize(node.Degrees())
		if !ok {
			c.metrics.NotConverged.Inc()
			log.WithField("cached", node.Degrees().Len()).
				Info("cannot compact below threshold, no generalization covers two cached counts")
			break
		}

		sum := 0
		for _, deg := range node.Degrees() {
			if g.IsMoreGeneralThan(deg.Descriptor) {
				sum += deg.Count
				node.Delete(deg.Descriptor)
			}
		}
		node.Set(g, sum)
		merges++
		c.metrics.Merges.Inc()

		log.WithFields(logrus.Fields{
			"generalization": g.String(),
			"count":          sum,
		}).Debug("merged cached counts")
	}

	if err := c.store.Write(props, node); err != nil {
		return fmt.Errorf("compacting %s: %w", nodeID, err)
	}

	log.WithFields(logrus.Fields{
		"before": before,
		"after":  node.Degrees().Len(),
		"merges": merges,
	}).Debug("compaction finished")
	return nil
}
