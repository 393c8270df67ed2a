package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/pentacle/service/config"
	"github.com/brojonat/pentacle/service/db"
	"github.com/brojonat/pentacle/service/metrics"
	natspkg "github.com/brojonat/pentacle/service/nats"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/brojonat/pentacle/service/solana"
	"github.com/brojonat/pentacle/service/temporal"
	"github.com/brojonat/pentacle/service/wallet"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.KeypairPath == "" {
		logger.Error("SOLANA_KEYPAIR_PATH is required for the worker")
		os.Exit(1)
	}
	signer, err := wallet.LoadKeypair(cfg.KeypairPath)
	if err != nil {
		logger.Error("failed to load keypair", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded payer keypair", "payer", signer.PublicKey().String())

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana endpoint", "error", err)
		os.Exit(1)
	}
	label := solana.EndpointLabel(endpoint)
	chain := solana.NewClient(solana.NewRPCClient(endpoint), label, metricsCollector, logger).
		WithConfirmPolicy(solana.ConfirmPolicy{
			Commitment:   rpc.CommitmentProcessed,
			Timeout:      cfg.Submission.ConfirmTimeout,
			PollInterval: cfg.Submission.ConfirmPollInterval,
		})
	logger.Info("initialized solana RPC client", "endpoint", label, "total_endpoints", len(cfg.SolanaRPCURLs))

	submitter := sned.NewSubmitter(chain, signer, logger,
		sned.WithRetryBudget(sned.RetryBudget{
			MaxAttempts: cfg.Submission.MaxAttempts,
			Backoff:     cfg.Submission.RetryBackoff,
		}),
		sned.WithBlockhashPolicy(sned.BlockhashPolicy{
			Delay:       cfg.Submission.BlockhashRetryDelay,
			MaxAttempts: cfg.Submission.BlockhashMaxAttempts,
		}),
		sned.WithMetrics(metricsCollector),
	)

	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	var sinks []sned.OutcomeSink
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
		sinks = append(sinks, store)
		workerConfig.Store = store
		logger.Info("connected to database")
	}

	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, metricsCollector)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		sinks = append(sinks, natspkg.NewReportSink(natsPublisher))
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	workerConfig.Runner = sned.NewOrchestrator(submitter, logger, sinks...)

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"payer", signer.PublicKey().String(),
		"sinks", len(sinks),
		"max_attempts", cfg.Submission.MaxAttempts,
	)

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("shutdown complete")
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

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
