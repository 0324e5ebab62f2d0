package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"dev"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`
	GRPCPort int `env:"GRPC_PORT" envDefault:"8081"`

	// Storage selects the cart backend: memory, sqlite or redis.
	Storage    string `env:"CART_STORAGE" envDefault:"sqlite"`
	SQLitePath string `env:"CART_SQLITE_PATH" envDefault:"cart.db"`
	RedisAddr  string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	StorageKey string `env:"CART_STORAGE_KEY" envDefault:"gotMarketplace:cart"`
	PruneEmpty bool   `env:"CART_PRUNE_EMPTY" envDefault:"false"`

	OTelStdout bool `env:"OTEL_STDOUT" envDefault:"false"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Storage {
	case "memory", "sqlite", "redis":
	default:
		return Config{}, fmt.Errorf("CART_STORAGE: unknown backend %q", cfg.Storage)
	}
	return cfg, nil
}
