package database

import (
	"context"
	"fmt"
	"time"

	"tilevault/internal/config"
	"tilevault/internal/geo"
	"tilevault/internal/metrics"
	"tilevault/internal/models"
)

// Record is the write-side shape of a pack entry. The metadata blob is
// stored verbatim; what shape it comes back in on reads is up to the
// engine.
type Record struct {
	ID        string
	StyleURL  string
	Bounds    geo.Bounds
	MinZoom   int
	MaxZoom   int
	Metadata  string // opaque blob from the metadata codec
	CreatedAt time.Time
}

// Store defines the interface for pack record persistence
type Store interface {
	ListRecords(ctx context.Context) ([]models.RawPackRecord, error)
	PutRecord(ctx context.Context, rec Record) error
	UpdateSize(ctx context.Context, id string, sizeBytes int64) error
	DeleteRecord(ctx context.Context, id string) error
	Close() error
}

// These indirection variables allow tests to override the concrete
// store constructors so we can exercise New(...) without real DBs.
var (
	newPostgresStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewPostgresStore(ctx, cfg, m)
	}
	newMySQLStoreFunc = func(cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewMySQLStore(cfg, m)
	}
	newRedisStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewRedisStore(ctx, cfg, m)
	}
)

// New creates a new record store based on the configured engine
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
	switch cfg.DBEngine {
	case "postgres", "postgresql":
		return newPostgresStoreFunc(ctx, cfg, m)
	case "mysql":
		return newMySQLStoreFunc(cfg, m)
	case "redis":
		return newRedisStoreFunc(ctx, cfg, m)
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", cfg.DBEngine)
	}
}
