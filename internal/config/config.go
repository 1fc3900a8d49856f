package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Solana   SolanaConfig
	Retry    RetryConfig
	App      AppConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port string
}

// SolanaConfig holds ledger access settings
type SolanaConfig struct {
	Network                string
	ServerWalletPrivateKey string
	ReadsPerSecond         int
	MaxParallelReads       int
}

// RetryConfig holds the backoff policy for ledger writes
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// AppConfig holds application-specific settings
type AppConfig struct {
	JWTSecret          string
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "prediction_ledger"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Solana: SolanaConfig{
			Network:                getEnv("SOLANA_NETWORK", "devnet"),
			ServerWalletPrivateKey: getEnv("SOLANA_SERVER_WALLET_PRIVATE_KEY", ""),
			ReadsPerSecond:         getEnvInt("SOLANA_READS_PER_SECOND", 10),
			MaxParallelReads:       getEnvInt("SOLANA_MAX_PARALLEL_READS", 10),
		},
		Retry: RetryConfig{
			MaxAttempts:  getEnvInt("LEDGER_RETRY_MAX_ATTEMPTS", 3),
			InitialDelay: getEnvDuration("LEDGER_RETRY_INITIAL_DELAY", time.Second),
			MaxDelay:     getEnvDuration("LEDGER_RETRY_MAX_DELAY", 10*time.Second),
			Multiplier:   getEnvFloat("LEDGER_RETRY_MULTIPLIER", 2.0),
		},
		App: AppConfig{
			JWTSecret:          getEnv("JWT_SECRET", ""),
			ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", 10*time.Minute),
			ReconcileBatchSize: getEnvInt("RECONCILE_BATCH_SIZE", 100),
		},
	}

	// Validate required fields
	if config.App.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if config.Solana.ServerWalletPrivateKey == "" {
		return nil, fmt.Errorf("SOLANA_SERVER_WALLET_PRIVATE_KEY is required")
	}

	switch config.Solana.Network {
	case "mainnet-beta", "devnet", "testnet":
	default:
		return nil, fmt.Errorf("unknown SOLANA_NETWORK %q", config.Solana.Network)
	}

	if config.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("LEDGER_RETRY_MAX_ATTEMPTS must be at least 1")
	}

	return config, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
