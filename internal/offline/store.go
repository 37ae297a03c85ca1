// Package offline implements the storage layer behind the pack
// manager: it persists pack records, downloads the tile set for a
// region from an XYZ tile source, and reports download lifecycle
// through progress and error callbacks.
package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tilevault/internal/circuitbreaker"
	"tilevault/internal/config"
	"tilevault/internal/database"
	"tilevault/internal/geo"
	"tilevault/internal/metrics"
	"tilevault/internal/models"
	"tilevault/internal/tilestore"
)

// ProgressFunc is invoked zero or more times with a monotonically
// non-decreasing percentage (0-100) until a terminal status.
type ProgressFunc func(packID string, status models.DownloadStatus, percent int)

// ErrorFunc is invoked at most once when a download fails.
type ErrorFunc func(packID string, err error)

// Store is the concrete pack storage layer. Record persistence goes
// through a database.Store, tile payloads through a tilestore.Sink.
type Store struct {
	logger         *zap.Logger
	db             database.Store
	sink           tilestore.Sink
	client         *http.Client
	urlTemplate    string
	maxConcurrent  int64
	maxRetries     int
	retryDelay     time.Duration
	fetchTimeout   time.Duration
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
}

// New creates a new offline pack store
func New(
	logger *zap.Logger,
	db database.Store,
	sink tilestore.Sink,
	cfg *config.Config,
	m *metrics.Metrics,
	cb *circuitbreaker.Breaker,
) *Store {
	return &Store{
		logger:         logger,
		db:             db,
		sink:           sink,
		client:         &http.Client{},
		urlTemplate:    cfg.TileURLTemplate,
		maxConcurrent:  cfg.MaxConcurrentFetches,
		maxRetries:     cfg.TileMaxRetries,
		retryDelay:     cfg.TileRetryDelay,
		fetchTimeout:   cfg.TileFetchTimeout,
		circuitBreaker: cb,
		metrics:        m,
	}
}

// ListPacks returns the raw records for every stored pack
func (s *Store) ListPacks(ctx context.Context) ([]models.RawPackRecord, error) {
	return s.db.ListRecords(ctx)
}

// CreatePack persists the pack record and starts downloading its tile
// set asynchronously. Progress and error callbacks are invoked from
// the download goroutine; once issued, the download is not cancelable
// through the caller's context.
func (s *Store) CreatePack(ctx context.Context, req models.CreateRequest, onProgress ProgressFunc, onError ErrorFunc) {
	go s.createPack(context.WithoutCancel(ctx), req, onProgress, onError)
}

// DeletePack removes a pack's tiles and then its record. Tile removal
// comes first so a failure never leaves an unlisted pack holding
// storage.
func (s *Store) DeletePack(ctx context.Context, id string) error {
	if err := s.sink.DeletePrefix(ctx, id); err != nil {
		return fmt.Errorf("delete tiles for pack %s: %w", id, err)
	}
	if err := s.db.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("delete record for pack %s: %w", id, err)
	}
	return nil
}

func (s *Store) createPack(ctx context.Context, req models.CreateRequest, onProgress ProgressFunc, onError ErrorFunc) {
	start := time.Now()

	rec := database.Record{
		ID:        req.ID,
		StyleURL:  req.StyleURL,
		Bounds:    req.Bounds,
		MinZoom:   req.MinZoom,
		MaxZoom:   req.MaxZoom,
		Metadata:  string(req.Metadata),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.PutRecord(ctx, rec); err != nil {
		s.logger.Error("failed to persist pack record", zap.String("id", req.ID), zap.Error(err))
		onError(req.ID, err)
		return
	}

	onProgress(req.ID, models.StatusActive, 0)

	tiles := enumerateTiles(req.Bounds, req.MinZoom, req.MaxZoom)
	total := int64(len(tiles))
	if total == 0 {
		onProgress(req.ID, models.StatusComplete, 100)
		return
	}

	totalBytes, err := s.fetchTiles(ctx, req.ID, tiles, onProgress)
	if err != nil {
		s.logger.Error("pack download failed",
			zap.String("id", req.ID),
			zap.Int64("tiles", total),
			zap.Error(err))
		onError(req.ID, err)
		return
	}

	// Best-effort: a pack without a recorded size still lists, the
	// estimator covers it.
	if err := s.db.UpdateSize(ctx, req.ID, totalBytes); err != nil {
		s.logger.Warn("failed to record pack size", zap.String("id", req.ID), zap.Error(err))
	}

	s.logger.Info("pack download complete",
		zap.String("id", req.ID),
		zap.Int64("tiles", total),
		zap.Int64("bytes", totalBytes),
		zap.Duration("duration", time.Since(start)))
	onProgress(req.ID, models.StatusComplete, 100)
}

// fetchTiles fans tile fetches out under a weighted semaphore, writes
// each tile through the sink, and reports deduplicated percentage
// progress. The first error aborts the remaining fetches.
func (s *Store) fetchTiles(ctx context.Context, packID string, tiles []geo.Tile, onProgress ProgressFunc) (int64, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(s.maxConcurrent)

	total := int64(len(tiles))
	var done int64
	var totalBytes int64

	var progressMu sync.Mutex
	lastPercent := 0

	type result struct {
		err error
	}
	resultChan := make(chan result, len(tiles))

	for _, tile := range tiles {
		t := tile

		go func() {
			if err := sem.Acquire(fetchCtx, 1); err != nil {
				resultChan <- result{err: err}
				return
			}
			defer sem.Release(1)

			body, err := s.fetchTile(fetchCtx, t)
			if err != nil {
				s.metrics.TilesFetchTotal.WithLabelValues("error").Inc()
				resultChan <- result{err: err}
				return
			}

			key := fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
			if err := s.sink.PutObject(fetchCtx, packID, key, body); err != nil {
				s.metrics.TilesFetchTotal.WithLabelValues("error").Inc()
				resultChan <- result{err: err}
				return
			}

			s.metrics.TilesFetchTotal.WithLabelValues("success").Inc()
			atomic.AddInt64(&totalBytes, int64(len(body)))
			n := atomic.AddInt64(&done, 1)

			// Report each percentage step once, in order.
			percent := int(n * 100 / total)
			progressMu.Lock()
			if percent > lastPercent && percent < 100 {
				lastPercent = percent
				onProgress(packID, models.StatusActive, percent)
			}
			progressMu.Unlock()

			resultChan <- result{}
		}()
	}

	var fetchErr error
	for range tiles {
		res := <-resultChan
		if res.err != nil && fetchErr == nil {
			// Store first error and stop the rest
			fetchErr = res.err
			cancel()
		}
	}

	if fetchErr != nil {
		return 0, fetchErr
	}
	return totalBytes, nil
}

// fetchTile retrieves one tile from the source with retries behind the
// circuit breaker.
func (s *Store) fetchTile(ctx context.Context, t geo.Tile) ([]byte, error) {
	start := time.Now()
	resultLabel := "error"
	defer func() {
		s.metrics.TileFetchDuration.WithLabelValues(resultLabel).Observe(time.Since(start).Seconds())
	}()

	s.metrics.ActiveTileFetches.Inc()
	defer s.metrics.ActiveTileFetches.Dec()

	url := tileURL(s.urlTemplate, t)

	result, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt <= s.maxRetries; attempt++ {
			if attempt > 0 {
				delay := s.retryDelay * time.Duration(1<<(attempt-1))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			body, retryable, err := s.fetchOnce(ctx, url)
			if err == nil {
				return body, nil
			}
			lastErr = err
			if !retryable || attempt == s.maxRetries {
				break
			}
		}
		return nil, fmt.Errorf("fetch %s: %w", url, lastErr)
	})
	if err != nil {
		return nil, err
	}

	resultLabel = "success"
	return result.([]byte), nil
}

func (s *Store) fetchOnce(ctx context.Context, url string) (body []byte, retryable bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Network errors are retryable unless the context is done.
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Server-side errors and throttling retry; missing tiles and
		// other client errors fail fast.
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("tile server returned %d", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	return body, false, nil
}

// tileURL substitutes {z}/{x}/{y} placeholders in the template
func tileURL(template string, t geo.Tile) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	)
	return r.Replace(template)
}

// enumerateTiles lists every tile covering the bounds across the
// inclusive zoom window
func enumerateTiles(b geo.Bounds, minZoom, maxZoom int) []geo.Tile {
	tiles := make([]geo.Tile, 0, geo.TileCount(b, minZoom, maxZoom))
	for z := minZoom; z <= maxZoom; z++ {
		r := geo.RangeAt(b, z)
		for x := r.MinX; x <= r.MaxX; x++ {
			for y := r.MinY; y <= r.MaxY; y++ {
				tiles = append(tiles, geo.Tile{X: x, Y: y, Z: z})
			}
		}
	}
	return tiles
}
