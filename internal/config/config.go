package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the tracecheck server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Merge    MergeConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	RequestsPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// QueueConfig is the job queue policy: how long a freshly scheduled job is
// held back, how many attempts it gets, how failures back off, and how long
// terminal records stick around for inspection.
type QueueConfig struct {
	DefaultDelay time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	CompletedTTL time.Duration
	FailedTTL    time.Duration
	PromoteEvery time.Duration
}

// MergeConfig tunes the optimistic merge path: the conflict-retry budget and
// the randomized pre-write jitter that spreads out bursty completions.
type MergeConfig struct {
	MaxConflictRetries int
	MaxJitter          time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("TRACECHECK_PORT", 8080),
			Env:               envString("TRACECHECK_ENV", "development"),
			RequestsPerMinute: envInt("TRACECHECK_REQUESTS_PER_MINUTE", 120),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			DefaultDelay: envDuration("QUEUE_DEFAULT_DELAY", 4*time.Second),
			MaxAttempts:  envInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase:  envDuration("QUEUE_BACKOFF_BASE", time.Second),
			CompletedTTL: envDuration("QUEUE_COMPLETED_TTL", time.Hour),
			FailedTTL:    envDuration("QUEUE_FAILED_TTL", 72*time.Hour),
			PromoteEvery: envDuration("QUEUE_PROMOTE_EVERY", time.Second),
		},
		Merge: MergeConfig{
			MaxConflictRetries: envInt("MERGE_MAX_CONFLICT_RETRIES", 10),
			MaxJitter:          envDuration("MERGE_MAX_JITTER", time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.DefaultDelay < 0 {
		return fmt.Errorf("QUEUE_DEFAULT_DELAY must not be negative, got %s", c.Queue.DefaultDelay)
	}

	if c.Merge.MaxConflictRetries < 1 {
		return fmt.Errorf("MERGE_MAX_CONFLICT_RETRIES must be at least 1, got %d", c.Merge.MaxConflictRetries)
	}
	if c.Merge.MaxJitter < 0 {
		return fmt.Errorf("MERGE_MAX_JITTER must not be negative, got %s", c.Merge.MaxJitter)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
