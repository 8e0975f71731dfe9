// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, in-memory stores if not set)

	// Chain settings
	RPCURL           string
	ChainID          int64
	OperatorKey      string // Hex-encoded operator private key, with or without 0x prefix
	ContractArtifact string // Path to the compiled escrow contract artifact (ABI + bytecode)

	// Chain timeouts
	SubmitTimeout  time.Duration // Bound on build+sign+submit of one transaction
	ConfirmTimeout time.Duration // Bound on waiting for a transaction to be mined

	// Auth
	JWTSecret string // Shared secret for validating bearer tokens issued by the user service

	// Observability
	OTLPEndpoint string // OTLP/gRPC endpoint, tracing disabled when empty

	// Reconciliation
	ReconcileInterval time.Duration
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultRPCURL            = "http://localhost:8545"
	DefaultChainID           = 1337
	DefaultContractArtifact  = "contracts/OrderEscrow.json"
	DefaultSubmitTimeout     = 15 * time.Second
	DefaultConfirmTimeout    = 60 * time.Second
	DefaultReconcileInterval = 30 * time.Second
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RPCURL:            getEnv("RPC_URL", DefaultRPCURL),
		ChainID:           getEnvInt64("CHAIN_ID", DefaultChainID),
		OperatorKey:       os.Getenv("OPERATOR_KEY"), // Required, never defaulted
		ContractArtifact:  getEnv("CONTRACT_ARTIFACT", DefaultContractArtifact),
		SubmitTimeout:     getEnvDuration("SUBMIT_TIMEOUT", DefaultSubmitTimeout),
		ConfirmTimeout:    getEnvDuration("CONFIRM_TIMEOUT", DefaultConfirmTimeout),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.OperatorKey == "" {
		return fmt.Errorf("OPERATOR_KEY is required")
	}
	key := strings.TrimPrefix(c.OperatorKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("OPERATOR_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.SubmitTimeout <= 0 || c.ConfirmTimeout <= 0 {
		return fmt.Errorf("chain timeouts must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
