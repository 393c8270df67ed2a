package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/pentacle/service/db"
	"github.com/brojonat/pentacle/service/nft"
	solanasvc "github.com/brojonat/pentacle/service/solana"
	"github.com/brojonat/pentacle/service/sned"
	"github.com/brojonat/pentacle/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

// keypairFlag is added to every command that signs.
func keypairFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "keypair",
		Aliases: []string{"k"},
		Usage:   "Path to a solana-keygen JSON keypair file",
		EnvVars: []string{"SOLANA_KEYPAIR_PATH"},
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	switch c.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getChain builds a chain client on one of the configured RPC endpoints.
func getChain(c *cli.Context, logger *slog.Logger) (*solanasvc.Client, error) {
	endpoint, err := solanasvc.SelectRandomEndpoint(c.StringSlice("rpc-url"))
	if err != nil {
		return nil, err
	}
	logger.Debug("using solana rpc endpoint", "endpoint", solanasvc.EndpointLabel(endpoint))
	return solanasvc.NewClient(solanasvc.NewRPCClient(endpoint), solanasvc.EndpointLabel(endpoint), nil, logger), nil
}

// getKeypair loads --keypair, falling back to a base58 secret in SOLANA_SECRET_KEY.
func getKeypair(c *cli.Context) (*wallet.Keypair, error) {
	if path := c.String("keypair"); path != "" {
		return wallet.LoadKeypair(path)
	}
	if secret := os.Getenv("SOLANA_SECRET_KEY"); secret != "" {
		return wallet.ParseKeypair(secret)
	}
	return nil, fmt.Errorf("keypair is required (set SOLANA_KEYPAIR_PATH env var or use --keypair)")
}

// getSubmitter wires a submitter signing with --keypair.
func getSubmitter(c *cli.Context, logger *slog.Logger) (*sned.Submitter, error) {
	chain, err := getChain(c, logger)
	if err != nil {
		return nil, err
	}
	kp, err := getKeypair(c)
	if err != nil {
		return nil, err
	}
	budget := sned.DefaultRetryBudget()
	if c.IsSet("max-attempts") {
		budget.MaxAttempts = c.Int("max-attempts")
	}
	return sned.NewSubmitter(chain, kp, logger, sned.WithRetryBudget(budget)), nil
}

func getNFTService(c *cli.Context, logger *slog.Logger) (*nft.Service, *solanasvc.Client, error) {
	chain, err := getChain(c, logger)
	if err != nil {
		return nil, nil, err
	}
	fetcher := nft.NewMetadataFetcher(chain, nil, 10*time.Minute, 8, logger, nil)
	return nft.NewService(chain, fetcher, logger), chain, nil
}

// getStore connects to the database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

func parseKey(s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(s))
	if err != nil {
		return solana.PublicKey{}, &sned.ValidationError{Field: "address", Message: fmt.Sprintf("%q is not a valid public key", s)}
	}
	return pk, nil
}

func parseKeys(args []string) ([]solana.PublicKey, error) {
	keys := make([]solana.PublicKey, 0, len(args))
	for _, a := range args {
		pk, err := parseKey(a)
		if err != nil {
			return nil, err
		}
		keys = append(keys, pk)
	}
	return keys, nil
}

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
