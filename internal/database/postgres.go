package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tilevault/internal/config"
	"tilevault/internal/metrics"
	"tilevault/internal/models"
)

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
	idField   string
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect error: %w", err)
	}

	return &PostgresStore{
		pool:      pool,
		tableName: cfg.TableName,
		idField:   cfg.IDField,
		timeout:   cfg.DatabaseQueryTimeout,
		metrics:   m,
	}, nil
}

// ListRecords returns every stored pack record. The metadata column is
// TEXT, so the opaque blob comes back as a string.
func (s *PostgresStore) ListRecords(ctx context.Context) ([]models.RawPackRecord, error) {
	start := time.Now()
	defer func() {
		s.metrics.DatabaseQueryDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	}()

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT %s, style_url, bounds, min_zoom, max_zoom, metadata, size_bytes FROM %s ORDER BY created_at",
		s.idField,
		s.tableName,
	)

	rows, err := s.pool.Query(queryCtx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.RawPackRecord
	for rows.Next() {
		var rec models.RawPackRecord
		var boundsJSON []byte
		var metadataVal sql.NullString
		var sizeVal sql.NullInt64

		if err := rows.Scan(
			&rec.ID,
			&rec.StyleURL,
			&boundsJSON,
			&rec.MinZoom,
			&rec.MaxZoom,
			&metadataVal,
			&sizeVal,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(boundsJSON, &rec.Bounds); err != nil {
			return nil, err
		}
		if metadataVal.Valid {
			rec.Metadata = metadataVal.String
		}
		if sizeVal.Valid {
			rec.Fields = map[string]any{"size_bytes": sizeVal.Int64}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PutRecord stores a pack record, replacing any previous entry with
// the same id
func (s *PostgresStore) PutRecord(ctx context.Context, rec Record) error {
	start := time.Now()
	defer func() {
		s.metrics.DatabaseQueryDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	}()

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	boundsJSON, err := json.Marshal(rec.Bounds)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s, style_url, bounds, min_zoom, max_zoom, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (%s) DO UPDATE SET
		   style_url = EXCLUDED.style_url, bounds = EXCLUDED.bounds,
		   min_zoom = EXCLUDED.min_zoom, max_zoom = EXCLUDED.max_zoom,
		   metadata = EXCLUDED.metadata`,
		s.tableName, s.idField, s.idField,
	)

	_, err = s.pool.Exec(queryCtx, query,
		rec.ID, rec.StyleURL, boundsJSON, rec.MinZoom, rec.MaxZoom, rec.Metadata, rec.CreatedAt)
	return err
}

// UpdateSize records the final byte size on an existing record
func (s *PostgresStore) UpdateSize(ctx context.Context, id string, sizeBytes int64) error {
	start := time.Now()
	defer func() {
		s.metrics.DatabaseQueryDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	}()

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("UPDATE %s SET size_bytes = $2 WHERE %s = $1", s.tableName, s.idField)
	_, err := s.pool.Exec(queryCtx, query, id, sizeBytes)
	return err
}

// DeleteRecord removes a pack record
func (s *PostgresStore) DeleteRecord(ctx context.Context, id string) error {
	start := time.Now()
	defer func() {
		s.metrics.DatabaseQueryDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	}()

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.tableName, s.idField)
	_, err := s.pool.Exec(queryCtx, query, id)
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
