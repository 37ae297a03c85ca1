package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP requests
	RequestsTotal *prometheus.CounterVec

	// Download outcomes
	DownloadsTotal *prometheus.CounterVec // by status: completed, failed, rejected

	// Download lifecycle
	ActiveDownloads  prometheus.Gauge
	DownloadProgress prometheus.Gauge // fraction 0.0-1.0 of the active session

	// Tile-level metrics
	TilesFetchTotal   *prometheus.CounterVec   // by result: success, error
	TileFetchDuration *prometheus.HistogramVec // tile fetch latency by result
	TileWriteDuration *prometheus.HistogramVec // sink write latency by sink_type, result
	ActiveTileFetches prometheus.Gauge

	// Catalog metrics
	CatalogListTotal     *prometheus.CounterVec // by result: success, error
	CatalogFetchDuration prometheus.Histogram
	PacksDeletedTotal    *prometheus.CounterVec // by result: success, error
	MetadataDecodeTotal  *prometheus.CounterVec // by source: object, blob, indexed, synthesized

	// Backend performance
	DatabaseQueryDuration *prometheus.HistogramVec // DB query latency by db_type

	// Authentication/Security
	SignatureFailuresTotal prometheus.Counter
	ExpiredRequestsTotal   prometheus.Counter

	// Circuit breaker
	CircuitBreakerState *prometheus.GaugeVec // by backend: tiles, database

	// Health checks
	HealthStatus       *prometheus.GaugeVec   // by component: database, storage (1=healthy, 0=unhealthy)
	HealthChecksFailed *prometheus.CounterVec // by component: database, storage

	// System metrics
	MemoryGauge     prometheus.Gauge
	GoroutinesGauge prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			// HTTP requests
			RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tilevault_requests_total",
				Help: "Total number of HTTP requests by status code",
			}, []string{"status"}),

			// Download outcomes
			DownloadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tilevault_downloads_total",
				Help: "Total number of pack download requests by outcome (completed, failed, rejected)",
			}, []string{"status"}),

			// Download lifecycle
			ActiveDownloads: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tilevault_active_downloads",
				Help: "Number of currently active pack downloads (0 or 1)",
			}),
			DownloadProgress: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tilevault_download_progress_fraction",
				Help: "Progress fraction of the active pack download",
			}),

			// Tile-level metrics
			TilesFetchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tilevault_tiles_fetch_total",
				Help: "Total tile fetch attempts by result (success, error)",
			}, []string{"result"}),
			TileFetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tilevault_tile_fetch_duration_seconds",
				Help:    "Tile fetch duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			}, []string{"result"}),
			TileWriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tilevault_tile_write_duration_seconds",
				Help:    "Tile sink write duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			}, []string{"sink_type", "result"}),
			ActiveTileFetches: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tilevault_active_tile_fetches",
				Help: "Number of currently active tile fetches",
			}),

			// Catalog metrics
			CatalogListTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tilevault_catalog_list_total",
				Help: "Total catalog list operations by result (success, error)",
			}, []string{"result"}),
			CatalogFetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "tilevault_catalog_fetch_duration_seconds",
				Help:    "Catalog list duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			}),
			PacksDeletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tilevault_packs_deleted_total",
				Help: "Total pack delete operations by result (success, error)",
			}, []string{"result"}),
			MetadataDecodeTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tilevault_metadata_decode_total",
				Help: "Metadata decodes by source tier (object, blob, indexed, synthesized)",
			}, []string{"source"}),

			// Backend performance
			DatabaseQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tilevault_database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			}, []string{"db_type"}),

			// Authentication/Security
			SignatureFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tilevault_signature_failures_total",
				Help: "Total number of failed signature verifications",
			}),
			ExpiredRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tilevault_expired_requests_total",
				Help: "Total number of requests with expired timestamps",
			}),

			// Circuit breaker
			CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "tilevault_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			}, []string{"backend"}),

			// Health checks
			HealthStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "tilevault_health_status",
				Help: "Health status by component (1=healthy, 0=unhealthy)",
			}, []string{"component"}),
			HealthChecksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tilevault_health_checks_failed_total",
				Help: "Total number of failed health checks by component",
			}, []string{"component"}),

			// System metrics
			MemoryGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tilevault_memory_heap_alloc_bytes",
				Help: "Current heap allocation in bytes",
			}),
			GoroutinesGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tilevault_goroutines",
				Help: "Number of goroutines",
			}),
		}
	})

	return defaultMetrics
}

// StartRuntimeMetricsCollector starts a goroutine that updates runtime metrics
func (m *Metrics) StartRuntimeMetricsCollector() {
	go func() {
		for {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			m.MemoryGauge.Set(float64(mem.HeapAlloc))
			m.GoroutinesGauge.Set(float64(runtime.NumGoroutine()))
			time.Sleep(10 * time.Second)
		}
	}()
}
