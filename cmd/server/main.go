package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/pentacle/service/candy"
	"github.com/brojonat/pentacle/service/config"
	"github.com/brojonat/pentacle/service/db"
	"github.com/brojonat/pentacle/service/metrics"
	"github.com/brojonat/pentacle/service/nft"
	"github.com/brojonat/pentacle/service/server"
	"github.com/brojonat/pentacle/service/solana"
	"github.com/brojonat/pentacle/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	deps := server.Dependencies{}

	// Batch reports are optional: without a database the batch routes answer 503.
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		store := db.NewStore(dbPool, metricsCollector)
		if err := store.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		deps.Store = store
		logger.Info("connected to database")

		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		deps.Batches = temporalClient
		logger.Info("connected to temporal",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
			"task_queue", cfg.TemporalTaskQueue,
		)
	} else {
		logger.Warn("DATABASE_URL not set, batch routes disabled")
	}

	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana endpoint", "error", err)
		os.Exit(1)
	}
	label := solana.EndpointLabel(endpoint)
	chain := solana.NewClient(solana.NewRPCClient(endpoint), label, metricsCollector, logger)
	logger.Info("initialized solana RPC client", "endpoint", label, "total_endpoints", len(cfg.SolanaRPCURLs))

	fetcher := nft.NewMetadataFetcher(chain, nil, cfg.MetadataCacheTTL, cfg.MetadataConcurrency, logger, metricsCollector)
	deps.NFTs = nft.NewService(chain, fetcher, logger)
	deps.StuckSOL = candy.NewFinder(chain, logger)
	deps.Balances = chain

	httpServer := server.New(cfg.ServerAddr, deps, metricsCollector, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
