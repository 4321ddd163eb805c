// Package config handles application configuration from environment variables
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
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Matching defaults. Tenants can override these per connection; the
	// values here seed new tenants and back the demo mode.
	AmountTolerancePct   float64 // relative amount tolerance, e.g. 0.001 = 0.1%
	DateWindowDays       int     // fuzzy-match date window in days
	HighValueThreshold   int64   // minor units; at/above this unmatched becomes a P1 exception
	ApprovalThreshold    int64   // minor units; at/above this adjustments need a second approver
	StaleAfter           time.Duration
	ReprocessBatchSize   int
	ReprocessConcurrency int

	// Kafka (optional; when unset the HTTP ingest endpoints are the only feed)
	KafkaBrokers       string
	KafkaTopic         string
	KafkaConsumerGroup string

	// Observability
	OTLPEndpoint string // OTLP gRPC collector, empty disables tracing export

	// Security
	APIKeyHash   string // For authenticating API clients
	AdminSecret  string // Admin API secret
	RateLimitRPS int
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultAmountTolerance    = 0.001 // 0.1%
	DefaultDateWindowDays     = 1
	DefaultHighValueThreshold = 1_000_000 // $10,000.00 in cents
	DefaultApprovalThreshold  = 1_000_000
	DefaultStaleAfter         = 72 * time.Hour
	DefaultReprocessBatch     = 500
	DefaultRateLimit          = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		AmountTolerancePct:   getEnvFloat("AMOUNT_TOLERANCE_PCT", DefaultAmountTolerance),
		DateWindowDays:       int(getEnvInt64("DATE_WINDOW_DAYS", DefaultDateWindowDays)),
		HighValueThreshold:   getEnvInt64("HIGH_VALUE_THRESHOLD", DefaultHighValueThreshold),
		ApprovalThreshold:    getEnvInt64("APPROVAL_THRESHOLD", DefaultApprovalThreshold),
		StaleAfter:           getEnvDuration("STALE_AFTER", DefaultStaleAfter),
		ReprocessBatchSize:   int(getEnvInt64("REPROCESS_BATCH_SIZE", DefaultReprocessBatch)),
		ReprocessConcurrency: int(getEnvInt64("REPROCESS_CONCURRENCY", 4)),
		KafkaBrokers:         os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "psp.events.normalized"),
		KafkaConsumerGroup:   getEnv("KAFKA_CONSUMER_GROUP", "recon-engine"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		APIKeyHash:           os.Getenv("API_KEY_HASH"),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:         int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AmountTolerancePct < 0 || c.AmountTolerancePct >= 1 {
		return fmt.Errorf("AMOUNT_TOLERANCE_PCT must be in [0, 1)")
	}
	if c.DateWindowDays < 0 {
		return fmt.Errorf("DATE_WINDOW_DAYS must be >= 0")
	}
	if c.HighValueThreshold <= 0 {
		return fmt.Errorf("HIGH_VALUE_THRESHOLD must be positive")
	}
	if c.ApprovalThreshold <= 0 {
		return fmt.Errorf("APPROVAL_THRESHOLD must be positive")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
