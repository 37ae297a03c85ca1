package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tilevault/internal/auth"
	"tilevault/internal/catalog"
	"tilevault/internal/circuitbreaker"
	"tilevault/internal/config"
	"tilevault/internal/coordinator"
	"tilevault/internal/database"
	"tilevault/internal/handlers"
	"tilevault/internal/metrics"
	"tilevault/internal/offline"
	"tilevault/internal/server"
	"tilevault/internal/tilestore"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to config file (overrides CONFIG_FILE env var)")
	flag.Parse()

	// Load environment variables from file
	loadEnvFile(*configFile)

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to init logger:", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	// Initialize metrics
	m := metrics.New()
	m.StartRuntimeMetricsCollector()

	// Initialize circuit breakers
	tileBreaker := circuitbreaker.New("tiles", cfg, m)
	sinkBreaker := circuitbreaker.New("storage", cfg, m)
	logger.Info("initialized circuit breakers")

	// Initialize record database
	db, err := database.New(ctx, cfg, m)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("initialized database", zap.String("engine", cfg.DBEngine))

	// Initialize tile sink
	sink, err := tilestore.New(ctx, cfg, m, sinkBreaker)
	if err != nil {
		logger.Fatal("failed to initialize tile storage", zap.Error(err))
	}
	logger.Info("initialized tile storage", zap.String("type", cfg.StorageType))

	// Initialize the offline pack store
	store := offline.New(logger, db, sink, cfg, m, tileBreaker)

	// Initialize auth verifier
	verifier := auth.NewVerifier(cfg.SigningSecret, cfg.EnforceSigning, m)

	// Initialize catalog and download coordinator
	cat := catalog.New(logger, store, m)
	coord := coordinator.New(logger, store, m)

	// Initialize handlers
	packHandler := handlers.NewHandler(logger, cat, coord, verifier, m, cfg.StyleURL)
	healthHandler := handlers.NewHealthHandler(logger, db, sink, m)

	// Initialize and start server
	srv := server.New(logger, cfg, m, packHandler, healthHandler)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	// Wait for shutdown signal
	if err := srv.WaitForShutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// loadEnvFile loads environment variables from a file
// Priority: --config flag > CONFIG_FILE env var > .env file
// Silently continues if file doesn't exist (falls back to OS env vars)
func loadEnvFile(flagConfigFile string) {
	var configFile string

	// 1. Check --config flag
	if flagConfigFile != "" {
		configFile = flagConfigFile
	} else {
		// 2. Check CONFIG_FILE env var
		configFile = os.Getenv("CONFIG_FILE")
	}

	// 3. Try specified file or default to .env
	if configFile != "" {
		// User specified a file - fail if it doesn't exist
		if err := godotenv.Load(configFile); err != nil {
			log.Fatalf("failed to load config file %s: %v", configFile, err)
		}
		log.Printf("loaded config from: %s", configFile)
	} else {
		// Try .env but don't error if it doesn't exist - will use OS env vars
		if err := godotenv.Load(); err == nil {
			log.Println("loaded config from: .env")
		}
	}
}
