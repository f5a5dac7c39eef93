package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxinsight/internal/infrastructure/cache"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxinsight/internal/observability/metrics"
)

// Invalidator drops cached results made stale by a source change
type Invalidator struct {
	cache   cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewInvalidator creates an invalidator. m may be nil.
func NewInvalidator(c cache.Cache, m *metrics.Metrics, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{cache: c, metrics: m, logger: logger}
}

// Handle deletes every cache namespace affected by e and returns the number of keys removed
func (inv *Invalidator) Handle(ctx context.Context, e redpanda.SourceChangedEvent) (int, error) {
	prefixes, err := e.Prefixes()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, p := range prefixes {
		n, err := inv.cache.DeletePrefix(ctx, p)
		total += n
		if err != nil {
			return total, fmt.Errorf("invalidate %s: %w", p, err)
		}
	}
	if inv.metrics != nil {
		inv.metrics.CacheKeysDeleted.Add(float64(total))
	}

	inv.logger.Info("cache invalidated",
		zap.String("event_id", e.ID),
		zap.String("source", e.Source),
		zap.String("reason", e.Reason),
		zap.Strings("prefixes", prefixes),
		zap.Int("deleted", total))
	return total, nil
}
