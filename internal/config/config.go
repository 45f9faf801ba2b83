package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/account"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/roundup"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/subscription"
	log "github.com/sirupsen/logrus"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	// HTTP
	HTTPAddr string

	// Storage
	StoreBackend string // "memory" or "postgres"
	DatabaseURL  string

	// Kafka; publishing is disabled when no brokers are set
	KafkaBrokers     []string
	KafkaTopic       string
	KafkaCompression string

	// Redis for Idempotency-Key handling; disabled when empty
	RedisAddr string

	// Savings policy
	AccrualInterval        time.Duration
	RoundUpSlotPolicy      roundup.SlotPolicy
	SecondaryFailurePolicy account.FailurePolicy

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		HTTPAddr:         getEnvWithDefault("HTTP_ADDR", ":8080"),
		StoreBackend:     getEnvWithDefault("STORE_BACKEND", StoreMemory),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		KafkaTopic:       getEnvWithDefault("KAFKA_TOPIC", "autosave_events"),
		KafkaCompression: getEnvWithDefault("KAFKA_COMPRESSION", "none"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		LogLevel:         getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:        getEnvWithDefault("LOG_FORMAT", "text"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	interval, err := time.ParseDuration(getEnvWithDefault("ACCRUAL_INTERVAL", subscription.DefaultAccrualInterval.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid ACCRUAL_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("ACCRUAL_INTERVAL must be positive, got %s", interval)
	}
	cfg.AccrualInterval = interval

	if cfg.RoundUpSlotPolicy, err = roundup.ParseSlotPolicy(getEnvWithDefault("ROUNDUP_SLOT_POLICY", string(roundup.SlotPolicyPrimary))); err != nil {
		return nil, err
	}
	if cfg.SecondaryFailurePolicy, err = account.ParseFailurePolicy(getEnvWithDefault("SECONDARY_FAILURE_POLICY", string(account.FailureIsolated))); err != nil {
		return nil, err
	}
	if _, err := kafka.ParseCompression(cfg.KafkaCompression); err != nil {
		return nil, err
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	switch cfg.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// ConfigureLogging applies the level and format to the global logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
