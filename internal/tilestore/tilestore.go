package tilestore

import (
	"context"
	"fmt"

	"tilevault/internal/circuitbreaker"
	"tilevault/internal/config"
	"tilevault/internal/metrics"
)

// Sink defines the interface for tile storage backends. Tiles are
// written under a per-pack prefix and removed prefix-wide when the
// pack is deleted.
type Sink interface {
	// PutObject stores one tile payload.
	// packID: the owning pack, used as the key prefix
	// key: the tile path within the pack (z/x/y)
	PutObject(ctx context.Context, packID, key string, body []byte) error

	// DeletePrefix removes every tile belonging to a pack
	DeletePrefix(ctx context.Context, packID string) error

	// HealthCheck performs a lightweight connectivity check
	HealthCheck(ctx context.Context) error

	// Type names the backend for metrics labels
	Type() string
}

// New creates a new tile sink based on configuration
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) (Sink, error) {
	switch cfg.StorageType {
	case "s3":
		return NewS3Sink(ctx, cfg, m, cb)
	case "local":
		if cfg.StoragePath == "" {
			return nil, fmt.Errorf("STORAGE_PATH required for local storage")
		}
		return NewLocalSink(cfg.StoragePath, m, cb, cfg.TileMaxRetries, cfg.TileRetryDelay)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}
