// Package config provides configuration management for the gomint client.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Defaults of the public deployment.
const (
	DefaultLedgerRPCURL    = "https://mainnet.base.org"
	DefaultContractAddress = "0x8c941d5f5845649b91526666d96945896a7a99b5"
)

// Config holds the configuration of the minter
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Ledger connection
	LedgerRPCURL    string
	ContractAddress string
	ChainID         int64 // 0 asks the node

	// Minting account
	MinerAddress    string
	MinerPrivateKey string

	// Search tuning
	SearchWorkers      int // 0 uses every CPU
	SearchBatchSize    uint64
	LivenessInterval   uint64
	StaleCheckInterval time.Duration

	// Timeouts and pacing
	CallTimeout    time.Duration
	FetchTimeout   time.Duration
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration
	FetchRateLimit float64 // snapshots per second, 0 unlimited
	BackoffBase    time.Duration
	BackoffMax     time.Duration

	// Optional sinks; an empty address disables the sink
	RedisURL         string
	RoundClaimTTL    time.Duration
	PostgresURL      string
	InfluxURL        string
	InfluxToken      string
	InfluxOrg        string
	InfluxBucket     string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	ZMQPublishAddr   string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "gomint"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Ledger defaults
		LedgerRPCURL:    getEnv("LEDGER_RPC_URL", DefaultLedgerRPCURL),
		ContractAddress: getEnv("CONTRACT_ADDRESS", DefaultContractAddress),
		ChainID:         getEnvInt64("CHAIN_ID", 0),

		MinerAddress:    getEnv("MINER_ADDRESS", ""),
		MinerPrivateKey: getEnv("MINER_PRIVATE_KEY", ""),

		// Search defaults
		SearchWorkers:      getEnvInt("SEARCH_WORKERS", 0),
		SearchBatchSize:    getEnvUint64("SEARCH_BATCH_SIZE", 4096),
		LivenessInterval:   getEnvUint64("LIVENESS_INTERVAL", 100_000),
		StaleCheckInterval: getEnvDuration("STALE_CHECK_INTERVAL", 5*time.Second),

		// Timeout defaults
		CallTimeout:    getEnvDuration("CALL_TIMEOUT", 10*time.Second),
		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		SubmitTimeout:  getEnvDuration("SUBMIT_TIMEOUT", 60*time.Second),
		ConfirmTimeout: getEnvDuration("CONFIRM_TIMEOUT", 5*time.Minute),
		FetchRateLimit: getEnvFloat("FETCH_RATE_LIMIT", 2.0),
		BackoffBase:    getEnvDuration("BACKOFF_BASE", time.Second),
		BackoffMax:     getEnvDuration("BACKOFF_MAX", time.Minute),

		// Sink defaults
		RedisURL:         getEnv("REDIS_URL", ""),
		RoundClaimTTL:    getEnvDuration("ROUND_CLAIM_TTL", 10*time.Minute),
		PostgresURL:      getEnv("POSTGRES_URL", ""),
		InfluxURL:        getEnv("INFLUX_URL", ""),
		InfluxToken:      getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:        getEnv("INFLUX_ORG", "gomint"),
		InfluxBucket:     getEnv("INFLUX_BUCKET", "minting"),
		KafkaBrokers:     getEnvSlice("KAFKA_BROKERS", nil),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "gomint"),
		ZMQPublishAddr:   getEnv("ZMQ_PUBLISH_ADDR", ""),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if c.LedgerRPCURL == "" {
		return fmt.Errorf("LEDGER_RPC_URL cannot be empty")
	}

	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("CONTRACT_ADDRESS must be a hex address")
	}

	if c.ChainID < 0 {
		return fmt.Errorf("CHAIN_ID cannot be negative")
	}

	if c.MinerPrivateKey == "" {
		return fmt.Errorf("MINER_PRIVATE_KEY is required")
	}

	if c.MinerAddress != "" && !common.IsHexAddress(c.MinerAddress) {
		return fmt.Errorf("MINER_ADDRESS must be a hex address")
	}

	if c.SearchWorkers < 0 {
		return fmt.Errorf("SEARCH_WORKERS cannot be negative")
	}

	if c.SearchBatchSize == 0 {
		return fmt.Errorf("SEARCH_BATCH_SIZE must be positive")
	}

	if c.LivenessInterval == 0 {
		return fmt.Errorf("LIVENESS_INTERVAL must be positive")
	}

	if c.StaleCheckInterval < 0 {
		return fmt.Errorf("STALE_CHECK_INTERVAL cannot be negative")
	}

	for name, d := range map[string]time.Duration{
		"CALL_TIMEOUT":    c.CallTimeout,
		"FETCH_TIMEOUT":   c.FetchTimeout,
		"SUBMIT_TIMEOUT":  c.SubmitTimeout,
		"CONFIRM_TIMEOUT": c.ConfirmTimeout,
		"BACKOFF_BASE":    c.BackoffBase,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("BACKOFF_MAX must not be less than BACKOFF_BASE")
	}

	if c.FetchRateLimit < 0 {
		return fmt.Errorf("FETCH_RATE_LIMIT cannot be negative")
	}

	if c.RedisURL != "" && c.RoundClaimTTL <= 0 {
		return fmt.Errorf("ROUND_CLAIM_TTL must be positive when REDIS_URL is set")
	}

	if c.InfluxURL != "" && (c.InfluxToken == "" || c.InfluxOrg == "" || c.InfluxBucket == "") {
		return fmt.Errorf("INFLUX_TOKEN, INFLUX_ORG and INFLUX_BUCKET are required when INFLUX_URL is set")
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopicPrefix == "" {
		return fmt.Errorf("KAFKA_TOPIC_PREFIX cannot be empty when KAFKA_BROKERS is set")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
