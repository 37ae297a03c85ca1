package tilestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tilevault/internal/circuitbreaker"
	"tilevault/internal/metrics"
)

// LocalSink implements Sink for local filesystem storage
type LocalSink struct {
	basePath       string
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	maxRetries     int
	retryDelay     time.Duration
}

// NewLocalSink creates a new local filesystem tile sink
func NewLocalSink(basePath string, m *metrics.Metrics, cb *circuitbreaker.Breaker, maxRetries int, retryDelay time.Duration) (*LocalSink, error) {
	// Ensure base path exists and is a directory
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("base path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path is not a directory: %s", basePath)
	}

	// Get absolute path for security checks
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	return &LocalSink{
		basePath:       absPath,
		circuitBreaker: cb,
		metrics:        m,
		maxRetries:     maxRetries,
		retryDelay:     retryDelay,
	}, nil
}

// PutObject writes a tile to <basePath>/<packID>/<key>
func (l *LocalSink) PutObject(ctx context.Context, packID, key string, body []byte) error {
	start := time.Now()
	resultLabel := "error"
	defer func() {
		l.metrics.TileWriteDuration.WithLabelValues("local", resultLabel).Observe(time.Since(start).Seconds())
	}()

	fullPath, err := l.resolve(packID, key)
	if err != nil {
		return err
	}

	_, err = l.circuitBreaker.Execute(func() (interface{}, error) {
		// Retry loop with exponential backoff
		var lastErr error
		for attempt := 0; attempt <= l.maxRetries; attempt++ {
			if attempt > 0 {
				delay := l.retryDelay * time.Duration(1<<(attempt-1))
				time.Sleep(delay)
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
				lastErr = err
			} else if err := os.WriteFile(fullPath, body, 0o644); err != nil {
				lastErr = err
			} else {
				return nil, nil
			}

			if !isLocalRetryableError(lastErr) || attempt == l.maxRetries {
				break
			}
		}
		return nil, fmt.Errorf("failed to write tile: %w", lastErr)
	})
	if err != nil {
		return err
	}

	resultLabel = "success"
	return nil
}

// DeletePrefix removes the pack's whole tile directory
func (l *LocalSink) DeletePrefix(ctx context.Context, packID string) error {
	dir, err := l.resolve(packID, "")
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// resolve builds the full path for a tile and guards against path
// traversal out of the base directory.
func (l *LocalSink) resolve(packID, key string) (string, error) {
	components := []string{l.basePath, packID}
	if key != "" {
		components = append(components, key)
	}
	fullPath := filepath.Clean(filepath.Join(components...))

	if !strings.HasPrefix(fullPath, l.basePath) {
		return "", fmt.Errorf("path traversal attempt detected: pack=%s, key=%s", packID, key)
	}
	return fullPath, nil
}

// isLocalRetryableError determines if a local filesystem error should trigger a retry
func isLocalRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Permission errors are not retryable
	if os.IsPermission(err) {
		return false
	}

	// Most other errors (full or flaky network filesystems) might be transient
	return true
}

// HealthCheck verifies the base path is still accessible
func (l *LocalSink) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(l.basePath)
	if err != nil {
		return fmt.Errorf("base path unavailable: %w", err)
	}
	return nil
}

// Type names the backend
func (l *LocalSink) Type() string {
	return "local"
}
