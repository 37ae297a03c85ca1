package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Pack record database
	DBURL            string
	DBEngine         string
	DBMaxConnections int // connection pool size (default: 20)
	TableName        string
	IDField          string
	KeyPrefix        string // For Redis

	// Tile source
	TileURLTemplate string // XYZ template with {z}/{x}/{y} placeholders
	StyleURL        string // map style reference attached to new packs

	// Tile storage
	StorageType string // "s3" or "local"
	StoragePath string // For local filesystem storage

	// S3
	S3Bucket          string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// Security
	EnforceSigning bool
	SigningSecret  []byte

	// Timeouts
	DatabaseQueryTimeout time.Duration
	TileFetchTimeout     time.Duration
	RequestTimeout       time.Duration

	// Retries
	TileMaxRetries int
	TileRetryDelay time.Duration

	// Circuit Breaker
	CircuitBreakerThreshold   int           // failures before opening
	CircuitBreakerTimeout     time.Duration // time to wait before half-open
	CircuitBreakerMaxRequests int           // max requests in half-open state

	// Concurrency
	MaxConcurrentFetches int64 // tile fetches in flight per pack download

	// Server
	Port        string
	EnableHTTPS bool

	// Let's Encrypt
	LetsEncryptDomains  []string
	LetsEncryptCacheDir string
	LetsEncryptEmail    string

	// Metrics
	MetricsUsername string
	MetricsPassword string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DB_URL required")
	}

	u, err := url.Parse(dbURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_URL: %w", err)
	}

	tileURLTemplate := os.Getenv("TILE_URL_TEMPLATE")
	if tileURLTemplate == "" {
		return nil, fmt.Errorf("TILE_URL_TEMPLATE required")
	}
	if !strings.Contains(tileURLTemplate, "{z}") ||
		!strings.Contains(tileURLTemplate, "{x}") ||
		!strings.Contains(tileURLTemplate, "{y}") {
		return nil, fmt.Errorf("TILE_URL_TEMPLATE must contain {z}, {x} and {y} placeholders")
	}

	maxConcurrentStr := os.Getenv("MAX_CONCURRENT_FETCHES")
	maxConcurrent := int64(10) // default
	if maxConcurrentStr != "" {
		maxConcurrent, err = strconv.ParseInt(maxConcurrentStr, 10, 64)
		if err != nil || maxConcurrent < 1 {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_FETCHES: %w", err)
		}
	}

	enforceSigning, _ := strconv.ParseBool(os.Getenv("ENFORCE_SIGNING"))
	enableHTTPS, _ := strconv.ParseBool(os.Getenv("ENABLE_HTTPS"))

	idField := os.Getenv("ID_FIELD")
	if idField == "" {
		idField = "id"
	}

	tableName := os.Getenv("TABLE_NAME")
	if tableName == "" {
		tableName = "packs"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	s3Region := os.Getenv("S3_REGION")
	if s3Region == "" {
		s3Region = "auto"
	}

	s3UsePathStyle := false
	if v := os.Getenv("S3_USE_PATH_STYLE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			s3UsePathStyle = parsed
		}
	}

	var letsEncryptDomains []string
	if enableHTTPS {
		domains := strings.Split(os.Getenv("LETSENCRYPT_DOMAINS"), ",")
		if len(domains) == 0 || domains[0] == "" {
			return nil, fmt.Errorf("LETSENCRYPT_DOMAINS required when ENABLE_HTTPS=true")
		}
		letsEncryptDomains = domains
	}

	letsEncryptCacheDir := os.Getenv("LETSENCRYPT_CACHE_DIR")
	if letsEncryptCacheDir == "" {
		letsEncryptCacheDir = "./certs"
	}

	// Determine tile storage type
	storageType := os.Getenv("STORAGE_TYPE")
	storagePath := os.Getenv("STORAGE_PATH")

	// Auto-detect storage type if not specified
	if storageType == "" {
		if storagePath != "" {
			storageType = "local"
		} else {
			storageType = "s3"
		}
	}

	if storageType == "s3" && os.Getenv("S3_BUCKET") == "" {
		return nil, fmt.Errorf("S3_BUCKET required for s3 storage")
	}

	// Parse database settings
	dbMaxConnections := parseInt(os.Getenv("DB_MAX_CONNECTIONS"), 20)

	// Parse timeouts
	dbTimeout := parseDuration(os.Getenv("DATABASE_QUERY_TIMEOUT"), 5*time.Second)
	tileTimeout := parseDuration(os.Getenv("TILE_FETCH_TIMEOUT"), 30*time.Second)
	requestTimeout := parseDuration(os.Getenv("REQUEST_TIMEOUT"), 300*time.Second)

	// Parse retry settings
	tileMaxRetries := parseInt(os.Getenv("TILE_MAX_RETRIES"), 3)
	tileRetryDelay := parseDuration(os.Getenv("TILE_RETRY_DELAY"), 1*time.Second)

	// Parse circuit breaker settings
	cbThreshold := parseInt(os.Getenv("CIRCUIT_BREAKER_THRESHOLD"), 5)
	cbTimeout := parseDuration(os.Getenv("CIRCUIT_BREAKER_TIMEOUT"), 60*time.Second)
	cbMaxRequests := parseInt(os.Getenv("CIRCUIT_BREAKER_MAX_REQUESTS"), 2)

	return &Config{
		DBURL:                dbURL,
		DBEngine:             u.Scheme,
		DBMaxConnections:     dbMaxConnections,
		TableName:            tableName,
		IDField:              idField,
		KeyPrefix:            os.Getenv("KEY_PREFIX"),
		TileURLTemplate:      tileURLTemplate,
		StyleURL:             os.Getenv("STYLE_URL"),
		StorageType:          storageType,
		StoragePath:          storagePath,
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3Endpoint:           os.Getenv("S3_ENDPOINT"),
		S3Region:             s3Region,
		S3AccessKeyID:        os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:    os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3UsePathStyle:       s3UsePathStyle,
		EnforceSigning:       enforceSigning,
		SigningSecret:        []byte(os.Getenv("SIGNING_SECRET")),
		DatabaseQueryTimeout: dbTimeout,
		TileFetchTimeout:     tileTimeout,
		RequestTimeout:       requestTimeout,
		TileMaxRetries:       tileMaxRetries,
		TileRetryDelay:       tileRetryDelay,
		CircuitBreakerThreshold:   cbThreshold,
		CircuitBreakerTimeout:     cbTimeout,
		CircuitBreakerMaxRequests: cbMaxRequests,
		MaxConcurrentFetches:      maxConcurrent,
		Port:                      port,
		EnableHTTPS:               enableHTTPS,
		LetsEncryptDomains:        letsEncryptDomains,
		LetsEncryptCacheDir:       letsEncryptCacheDir,
		LetsEncryptEmail:          os.Getenv("LETSENCRYPT_EMAIL"),
		MetricsUsername:           os.Getenv("METRICS_USERNAME"),
		MetricsPassword:           os.Getenv("METRICS_PASSWORD"),
	}, nil
}

// Helper functions for parsing configuration values

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}
