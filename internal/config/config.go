// Package config loads engine configuration from the environment. A local
// .env file is honored in development; real deployments set variables
// directly.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable the engine reads at startup.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	// Traversal bounds. These keep a corrupted or unbounded forest from
	// producing an unbounded-latency query.
	MaxTreeDepth   int `env:"MAX_TREE_DEPTH" envDefault:"10"`
	MaxSponsorHops int `env:"MAX_SPONSOR_HOPS" envDefault:"10"`

	StoreRetryAttempts int           `env:"STORE_RETRY_ATTEMPTS" envDefault:"3"`
	StoreRetryBackoff  time.Duration `env:"STORE_RETRY_BACKOFF" envDefault:"100ms"`

	StatsPushInterval time.Duration `env:"STATS_PUSH_INTERVAL" envDefault:"15s"`
}

// Load parses configuration from the environment, reading .env first if
// one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
