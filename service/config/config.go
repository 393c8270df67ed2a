package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration. Empty disables report persistence.
	DatabaseURL string

	// NATS configuration. Empty disables outcome events.
	NATSURL string

	// Solana configuration
	SolanaRPCURLs []string
	Network       string // "mainnet", "devnet", "testnet" or "localnet"
	KeypairPath   string // solana-keygen JSON file used by the worker to sign
	ReportDir     string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Submission retry configuration
	Submission SubmissionConfig

	// Metadata fetching
	MetadataCacheTTL    time.Duration
	MetadataConcurrency int
}

// SubmissionConfig controls the blockhash and broadcast retry loops.
type SubmissionConfig struct {
	MaxAttempts          int
	RetryBackoff         time.Duration
	BlockhashRetryDelay  time.Duration
	BlockhashMaxAttempts int
	ConfirmTimeout       time.Duration
	ConfirmPollInterval  time.Duration
}

var validNetworks = map[string]bool{
	"mainnet":  true,
	"devnet":   true,
	"testnet":  true,
	"localnet": true,
}

// Load reads configuration from environment variables and validates all required fields.
// A .env file in the working directory is applied first when present; variables already
// set in the environment win.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URLS"))
	if len(cfg.SolanaRPCURLs) == 0 {
		cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URL"))
	}
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL or SOLANA_RPC_URLS is required"))
	}

	cfg.Network = getEnvOrDefault("SOLANA_NETWORK", "mainnet")
	if !validNetworks[cfg.Network] {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be one of mainnet, devnet, testnet, localnet (got %q)", cfg.Network))
	}
	cfg.KeypairPath = os.Getenv("SOLANA_KEYPAIR_PATH")
	cfg.ReportDir = getEnvOrDefault("REPORT_DIR", ".")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "pentacle-sned")

	// Submission configuration
	var err error
	if cfg.Submission.MaxAttempts, err = parseInt("SNED_MAX_ATTEMPTS", 6); err != nil {
		errs = append(errs, err)
	}
	if cfg.Submission.RetryBackoff, err = parseDuration("SNED_RETRY_BACKOFF", "500ms"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Submission.BlockhashRetryDelay, err = parseDuration("BLOCKHASH_RETRY_DELAY", "1s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Submission.BlockhashMaxAttempts, err = parseInt("BLOCKHASH_MAX_ATTEMPTS", 60); err != nil {
		errs = append(errs, err)
	}
	if cfg.Submission.ConfirmTimeout, err = parseDuration("CONFIRM_TIMEOUT", "30s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Submission.ConfirmPollInterval, err = parseDuration("CONFIRM_POLL_INTERVAL", "500ms"); err != nil {
		errs = append(errs, err)
	}

	// Metadata configuration
	if cfg.MetadataCacheTTL, err = parseDuration("METADATA_CACHE_TTL", "10m"); err != nil {
		errs = append(errs, err)
	}
	if cfg.MetadataConcurrency, err = parseInt("METADATA_CONCURRENCY", 8); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if !validNetworks[c.Network] {
		errs = append(errs, fmt.Errorf("Network %q is not supported", c.Network))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.Submission.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("Submission.MaxAttempts must be at least 1"))
	}

	if c.Submission.BlockhashMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("Submission.BlockhashMaxAttempts cannot be negative"))
	}

	if c.Submission.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("Submission.ConfirmPollInterval must be positive"))
	}

	if c.Submission.ConfirmTimeout < c.Submission.ConfirmPollInterval {
		errs = append(errs, fmt.Errorf("Submission.ConfirmTimeout cannot be shorter than ConfirmPollInterval"))
	}

	if c.MetadataConcurrency < 1 {
		errs = append(errs, fmt.Errorf("MetadataConcurrency must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
