// Package catalog builds the normalized view of stored packs: every
// raw record is mapped through the metadata codec and size estimator
// into a models.Pack. Lists are snapshots; the catalog holds no cache
// and never patches a list it already returned.
package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tilevault/internal/metadata"
	"tilevault/internal/metrics"
	"tilevault/internal/models"
)

// PackLister is the slice of the storage layer the catalog needs.
type PackLister interface {
	ListPacks(ctx context.Context) ([]models.RawPackRecord, error)
	DeletePack(ctx context.Context, id string) error
}

// Catalog normalizes the stored pack list for callers.
type Catalog struct {
	logger  *zap.Logger
	store   PackLister
	metrics *metrics.Metrics
}

// New creates a new pack catalog
func New(logger *zap.Logger, store PackLister, m *metrics.Metrics) *Catalog {
	return &Catalog{
		logger:  logger,
		store:   store,
		metrics: m,
	}
}

// List fetches the raw pack records and maps each into a normalized
// Pack. On storage failure the returned list is empty, not stale, and
// the error wraps models.ErrFetchFailed; the caller decides whether to
// retry. Record order is whatever the store returned.
func (c *Catalog) List(ctx context.Context) ([]models.Pack, error) {
	if c.store == nil {
		return []models.Pack{}, models.ErrTransportUnavailable
	}

	start := time.Now()
	defer func() {
		c.metrics.CatalogFetchDuration.Observe(time.Since(start).Seconds())
	}()

	records, err := c.store.ListPacks(ctx)
	if err != nil {
		c.metrics.CatalogListTotal.WithLabelValues("error").Inc()
		c.logger.Error("pack list fetch failed", zap.Error(err))
		return []models.Pack{}, fmt.Errorf("%w: %v", models.ErrFetchFailed, err)
	}

	packs := make([]models.Pack, 0, len(records))
	for _, rec := range records {
		meta, source := metadata.Decode(rec.ID, rec.Metadata)
		c.metrics.MetadataDecodeTotal.WithLabelValues(string(source)).Inc()

		packs = append(packs, models.Pack{
			ID:                 rec.ID,
			Bounds:             rec.Bounds,
			Metadata:           meta,
			EstimatedSizeBytes: metadata.EstimateSize(rec),
		})
	}

	c.metrics.CatalogListTotal.WithLabelValues("success").Inc()
	return packs, nil
}

// Delete removes a pack from the store. On failure nothing is patched
// locally and the error wraps models.ErrDeleteFailed; since partial
// deletion by the store cannot be ruled out, callers should re-List
// for authoritative state either way.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if c.store == nil {
		return models.ErrTransportUnavailable
	}

	if err := c.store.DeletePack(ctx, id); err != nil {
		c.metrics.PacksDeletedTotal.WithLabelValues("error").Inc()
		c.logger.Error("pack delete failed", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("%w: %v", models.ErrDeleteFailed, err)
	}

	c.metrics.PacksDeletedTotal.WithLabelValues("success").Inc()
	c.logger.Info("pack deleted", zap.String("id", id))
	return nil
}
