/*
Package config loads server configuration from the environment.

PURPOSE:
  One typed struct for everything the server needs at startup. Values
  come from environment variables (optionally a .env file in dev),
  parsed with caarlos0/env so defaults and required fields live next to
  the field definitions.

VARIABLES:
  PORT              HTTP server port (default 8080)
  DATABASE_PATH     SQLite database path, ":memory:" for in-memory
  LOG_LEVEL         zap level: debug, info, warn, error
  EARNING_STATUSES  Comma-separated customer statuses allowed to earn
                    points. Empty means every status earns.

SEE ALSO:
  - cmd/server/main.go: loads this at startup
*/
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the server configuration.
type Config struct {
	Port            int      `env:"PORT" envDefault:"8080"`
	DatabasePath    string   `env:"DATABASE_PATH" envDefault:"loyalty.db"`
	LogLevel        string   `env:"LOG_LEVEL" envDefault:"info"`
	EarningStatuses []string `env:"EARNING_STATUSES" envSeparator:","`
}

// Load reads .env (ignored if absent) and parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
