package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the harvester
type Config struct {
	// Chain and query configuration
	Chain ChainConfig

	// Endpoint pool configuration
	Endpoints EndpointConfig

	// Fetch engine configuration
	Fetcher FetcherConfig

	// Output configuration
	Output OutputConfig

	// Checkpoint configuration
	Checkpoint CheckpointConfig

	// Redis configuration (optional capability cache)
	Redis RedisConfig

	// Status API server configuration
	API APIConfig

	// Logging configuration
	Log LogConfig
}

// ChainConfig describes the chain and the logs to harvest
type ChainConfig struct {
	ChainID   uint64   `envconfig:"CHAIN_ID" default:"1"`
	Contracts []string `envconfig:"CHAIN_CONTRACTS"`
	Topics    []string `envconfig:"CHAIN_TOPICS"`
	FromBlock string   `envconfig:"CHAIN_FROM_BLOCK" default:"0"`
	ToBlock   string   `envconfig:"CHAIN_TO_BLOCK" default:"latest"`
}

// EndpointConfig holds the RPC endpoint pool settings
type EndpointConfig struct {
	// Comma-separated RPC URLs
	URLs              []string      `envconfig:"RPC_URLS" default:"http://localhost:8545"`
	RequestTimeout    time.Duration `envconfig:"RPC_REQUEST_TIMEOUT" default:"30s"`
	RateLimitCooldown time.Duration `envconfig:"RPC_RATE_LIMIT_COOLDOWN" default:"30s"`
	ProbeOnStartup    bool          `envconfig:"RPC_PROBE_ON_STARTUP" default:"true"`
	RequireArchive    bool          `envconfig:"RPC_REQUIRE_ARCHIVE" default:"false"`
}

// FetcherConfig tunes the fetch engine
type FetcherConfig struct {
	Concurrency    int           `envconfig:"FETCH_CONCURRENCY" default:"4"`
	MaxRange       uint64        `envconfig:"FETCH_MAX_RANGE" default:"0"`
	ReorderBuffer  int           `envconfig:"FETCH_REORDER_BUFFER" default:"0"`
	MaxAttempts    int           `envconfig:"FETCH_MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay time.Duration `envconfig:"FETCH_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay  time.Duration `envconfig:"FETCH_RETRY_MAX_DELAY" default:"30s"`
	DecodeEvents   bool          `envconfig:"FETCH_DECODE_EVENTS" default:"false"`
}

// OutputConfig selects the output format and destination
type OutputConfig struct {
	// ndjson, json, csv or sqlite
	Format string `envconfig:"OUTPUT_FORMAT" default:"ndjson"`
	// empty writes text formats to stdout; sqlite requires a path
	Path string `envconfig:"OUTPUT_PATH" default:""`
}

// CheckpointConfig holds the resume database settings
type CheckpointConfig struct {
	Path    string `envconfig:"CHECKPOINT_PATH" default:"harvester-checkpoints.db"`
	Tag     string `envconfig:"CHECKPOINT_TAG" default:""`
	Enabled bool   `envconfig:"CHECKPOINT_ENABLED" default:"true"`
}

// RedisConfig holds Redis connection settings for the endpoint
// capability cache. Leave Host empty to skip caching.
type RedisConfig struct {
	Host     string        `envconfig:"REDIS_HOST" default:""`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD" default:""`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	TTL      time.Duration `envconfig:"REDIS_CAPABILITY_TTL" default:"24h"`
}

// Enabled reports whether the capability cache is configured
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns the host:port address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIConfig holds the status API server settings
type APIConfig struct {
	Enabled         bool          `envconfig:"API_ENABLED" default:"false"`
	Host            string        `envconfig:"API_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"API_PORT" default:"8081"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    int           `envconfig:"API_RATE_LIMIT_RPS" default:"100"`
}

// Addr returns the listen address
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if len(c.Endpoints.URLs) == 0 {
		return fmt.Errorf("at least one RPC URL is required")
	}
	for _, u := range c.Endpoints.URLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("empty RPC URL in RPC_URLS")
		}
	}
	if c.Fetcher.Concurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}
	if c.Fetcher.MaxAttempts < 1 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if strings.EqualFold(c.Output.Format, "sqlite") && c.Output.Path == "" {
		return fmt.Errorf("OUTPUT_PATH is required for sqlite output")
	}
	return nil
}
