package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tilevault/internal/config"
	"tilevault/internal/geo"
	"tilevault/internal/metrics"
	"tilevault/internal/models"
)

// RedisStore implements Store for Redis. Records are JSON values under
// KeyPrefix+id with a set index of known ids.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
	metrics   *metrics.Metrics
}

const indexSuffix = "packs:index"

// NewRedisStore creates a new Redis store
func NewRedisStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("redis parse url error: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = cfg.DBMaxConnections
	opts.MinIdleConns = min(2, cfg.DBMaxConnections) // Keep a few connections warm (or max if max < 2)
	opts.ConnMaxLifetime = 1 * time.Hour             // Recycle connections after 1 hour
	opts.ConnMaxIdleTime = 30 * time.Minute          // Close idle connections after 30 min

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		timeout:   cfg.DatabaseQueryTimeout,
		metrics:   m,
	}, nil
}

// ListRecords returns every stored pack record. Each value is decoded
// generically so the metadata field keeps whatever shape the JSON
// round-trip gave it; unrecognized keys are passed through as extras.
func (s *RedisStore) ListRecords(ctx context.Context) ([]models.RawPackRecord, error) {
	start := time.Now()
	defer func() {
		s.metrics.DatabaseQueryDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	}()

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids, err := s.client.SMembers(queryCtx, s.keyPrefix+indexSuffix).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.RawPackRecord, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(queryCtx, s.keyPrefix+id).Bytes()
		if err == redis.Nil {
			// Index entry without a value; skip rather than fail the
			// whole listing.
			continue
		}
		if err != nil {
			return nil, err
		}

		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		records = append(records, rawFromObject(id, obj))
	}
	return records, nil
}

// PutRecord stores a pack record and indexes its id
func (s *RedisStore) PutRecord(ctx context.Context, rec Record) error {
	start := time.Now()
	defer func() {
		s.metrics.DatabaseQueryDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	}()

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(map[string]any{
		"id":         rec.ID,
		"style_url":  rec.StyleURL,
		"bounds":     rec.Bounds,
		"min_zoom":   rec.MinZoom,
		"max_zoom":   rec.MaxZoom,
		"metadata":   rec.Metadata,
		"created_at": rec.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}

	if err := s.client.Set(queryCtx, s.keyPrefix+rec.ID, data, 0).Err(); err != nil {
		return err
	}
	return s.client.SAdd(queryCtx, s.keyPrefix+indexSuffix, rec.ID).Err()
}

// UpdateSize records the final byte size on an existing record
func (s *RedisStore) UpdateSize(ctx context.Context, id string, sizeBytes int64) error {
	start := time.Now()
	defer func() {
		s.metrics.DatabaseQueryDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	}()

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(queryCtx, s.keyPrefix+id).Bytes()
	if err != nil {
		return err
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	obj["size_bytes"] = sizeBytes

	updated, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return s.client.Set(queryCtx, s.keyPrefix+id, updated, 0).Err()
}

// DeleteRecord removes a pack record and its index entry
func (s *RedisStore) DeleteRecord(ctx context.Context, id string) error {
	start := time.Now()
	defer func() {
		s.metrics.DatabaseQueryDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	}()

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(queryCtx, s.keyPrefix+id).Err(); err != nil {
		return err
	}
	return s.client.SRem(queryCtx, s.keyPrefix+indexSuffix, id).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// rawFromObject maps a generically decoded value to a RawPackRecord.
// Known structural fields are lifted out; everything else rides along
// in Fields for the size estimator to inspect.
func rawFromObject(id string, obj map[string]any) models.RawPackRecord {
	rec := models.RawPackRecord{ID: id}

	if s, ok := obj["style_url"].(string); ok {
		rec.StyleURL = s
	}
	if b, ok := obj["bounds"]; ok {
		if data, err := json.Marshal(b); err == nil {
			var bounds geo.Bounds
			if json.Unmarshal(data, &bounds) == nil {
				rec.Bounds = bounds
			}
		}
	}
	if z, ok := obj["min_zoom"].(float64); ok {
		rec.MinZoom = int(z)
	}
	if z, ok := obj["max_zoom"].(float64); ok {
		rec.MaxZoom = int(z)
	}
	rec.Metadata = obj["metadata"]

	extras := make(map[string]any)
	for k, v := range obj {
		switch k {
		case "id", "style_url", "bounds", "min_zoom", "max_zoom", "metadata":
		default:
			extras[k] = v
		}
	}
	if len(extras) > 0 {
		rec.Fields = extras
	}
	return rec
}
