package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// DefaultAffiliateBaseURL is used when AFFILIATE_BASE_URL is unset so that
// affiliate-linked approvals always carry a link.
const DefaultAffiliateBaseURL = "https://go.brandmarket.io/a"

// Config holds service configuration.
type Config struct {
	DatabaseURL      string
	DatabaseMaxConns int32
	ServerAddr       string
	StorageBackend   string
	MigrationsDir    string

	DefaultMaxRevisions int

	ProofSourceURL    string
	ProofSourceToken  string
	ProofFetchTimeout time.Duration
	ProofPollSchedule string
	ProofPollBatch    int
	ProofFetchLimit   int
	ProofFetchWindow  time.Duration

	PaymentProcessorURL  string
	PaymentProcessorKey  string
	PaymentTimeout       time.Duration
	PaymentWebhookSecret string
	PaymentCurrency      string

	AffiliateBaseURL  string
	PricingExpression string

	RabbitMQURL      string
	RabbitMQExchange string
	RedisAddr        string
}

// Load reads configuration from the environment, after loading a .env file if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "submission_hub")
		pass := getenv("POSTGRES_PASSWORD", "submission_hub_pass")
		db := getenv("POSTGRES_DB", "submission_hub")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	cfg := &Config{
		DatabaseURL:      dsn,
		DatabaseMaxConns: int32(parseInt(getenv("DATABASE_MAX_CONNS", "10"), 10)),
		ServerAddr:       getenv("SERVER_ADDR", "0.0.0.0:8080"),
		StorageBackend:   strings.ToLower(getenv("STORAGE_BACKEND", StoragePostgres)),
		MigrationsDir:    getenv("MIGRATIONS_DIR", "internal/migrations"),

		DefaultMaxRevisions: parseInt(getenv("DEFAULT_MAX_REVISIONS", "3"), 3),

		ProofSourceURL:    os.Getenv("PROOF_SOURCE_URL"),
		ProofSourceToken:  os.Getenv("PROOF_SOURCE_TOKEN"),
		ProofFetchTimeout: parseDuration(getenv("PROOF_FETCH_TIMEOUT", "10s"), 10*time.Second),
		ProofPollSchedule: getenv("PROOF_POLL_SCHEDULE", "@every 1m"),
		ProofPollBatch:    parseInt(getenv("PROOF_POLL_BATCH", "50"), 50),
		ProofFetchLimit:   parseInt(getenv("PROOF_FETCH_LIMIT", "6"), 6),
		ProofFetchWindow:  parseDuration(getenv("PROOF_FETCH_WINDOW", "1m"), time.Minute),

		PaymentProcessorURL:  os.Getenv("PAYMENT_PROCESSOR_URL"),
		PaymentProcessorKey:  os.Getenv("PAYMENT_PROCESSOR_KEY"),
		PaymentTimeout:       parseDuration(getenv("PAYMENT_TIMEOUT", "15s"), 15*time.Second),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		PaymentCurrency:      strings.ToLower(getenv("PAYMENT_CURRENCY", "usd")),

		AffiliateBaseURL:  getenv("AFFILIATE_BASE_URL", DefaultAffiliateBaseURL),
		PricingExpression: os.Getenv("PRICING_EXPRESSION"),

		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RabbitMQExchange: getenv("RABBITMQ_EXCHANGE", "submission.events"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
	}

	if cfg.StorageBackend != StoragePostgres && cfg.StorageBackend != StorageMemory {
		return nil, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.StorageBackend)
	}
	if cfg.DefaultMaxRevisions <= 0 {
		return nil, fmt.Errorf("DEFAULT_MAX_REVISIONS must be positive")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
