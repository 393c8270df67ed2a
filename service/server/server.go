package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/pentacle/service/candy"
	"github.com/brojonat/pentacle/service/db"
	"github.com/brojonat/pentacle/service/metrics"
	"github.com/brojonat/pentacle/service/nft"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BatchStarter starts a batch send in the background. *temporal.Client implements it.
type BatchStarter interface {
	StartSendBatch(ctx context.Context, batchID uuid.UUID, requests []sned.TransferRequest) (string, error)
}

// BatchReader reads stored batches. *db.Store implements it.
type BatchReader interface {
	GetBatch(ctx context.Context, id uuid.UUID) (*db.Batch, error)
}

// NFTReader is the read side of *nft.Service.
type NFTReader interface {
	OwnedMints(ctx context.Context, owner solana.PublicKey) ([]solana.PublicKey, error)
	OwnedNFTs(ctx context.Context, owner solana.PublicKey) ([]nft.Metadata, error)
	Metadata(ctx context.Context, mints []solana.PublicKey) []nft.Metadata
}

// StuckSOLFinder is implemented by *candy.Finder.
type StuckSOLFinder interface {
	Find(ctx context.Context, authority solana.PublicKey) (*candy.StuckSOL, error)
}

// BalanceReader is implemented by *solana.Client.
type BalanceReader interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Dependencies are the services behind the API. Nil members disable
// their routes with 503.
type Dependencies struct {
	Batches  BatchStarter
	Store    BatchReader
	NFTs     NFTReader
	StuckSOL StuckSOLFinder
	Balances BalanceReader
}

// Server represents the HTTP server for the pentacle API.
type Server struct {
	addr    string
	deps    Dependencies
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, deps Dependencies, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		deps:    deps,
		metrics: m,
		logger:  logger.With("component", "server"),
	}
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
	}

	// Batch routes
	route("POST /api/v1/batches", handleCreateBatch(s.deps.Batches, s.logger))
	route("GET /api/v1/batches/{id}", handleGetBatch(s.deps.Store, s.logger))

	// Wallet routes
	route("GET /api/v1/wallets/{address}/nfts", handleListNFTs(s.deps.NFTs, s.logger))
	route("GET /api/v1/wallets/{address}/mints", handleListMints(s.deps.NFTs, s.logger))
	route("GET /api/v1/wallets/{address}/stuck-sol", handleStuckSOL(s.deps.StuckSOL, s.logger))
	route("GET /api/v1/wallets/{address}/balance", handleBalance(s.deps.Balances, s.logger))

	route("GET /api/v1/metadata", handleMetadata(s.deps.NFTs, s.logger))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"batches", s.deps.Batches != nil,
		"store", s.deps.Store != nil,
		"metrics", s.metrics != nil,
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
