package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jdziat/job-ledger/api"
	"github.com/jdziat/job-ledger/pkg/storage"
)

// Config is the daemon configuration, read from LEDGER_* environment variables.
type Config struct {
	Addr            string
	DBDriver        string
	DBDSN           string
	MaxOpenConns    int
	Tokens          api.StaticTokens
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
}

// LoadConfig reads the configuration through getenv.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{
		Addr:            envOr(getenv, "LEDGER_ADDR", ":8080"),
		DBDriver:        envOr(getenv, "LEDGER_DB_DRIVER", storage.DriverSQLite),
		DBDSN:           envOr(getenv, "LEDGER_DB_DSN", "ledger.db"),
		MaxOpenConns:    storage.DefaultPoolConfig().MaxOpenConns,
		ShutdownTimeout: 10 * time.Second,
	}

	if cfg.DBDriver != storage.DriverSQLite && cfg.DBDriver != storage.DriverPostgres {
		return cfg, fmt.Errorf("LEDGER_DB_DRIVER: unsupported driver %q", cfg.DBDriver)
	}

	if raw := getenv("LEDGER_DB_MAX_OPEN_CONNS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("LEDGER_DB_MAX_OPEN_CONNS: want a positive integer, got %q", raw)
		}
		cfg.MaxOpenConns = n
	}

	tokens, err := api.ParseTokens(getenv("LEDGER_API_TOKENS"))
	if err != nil {
		return cfg, fmt.Errorf("LEDGER_API_TOKENS: %w", err)
	}
	if len(tokens) == 0 {
		return cfg, fmt.Errorf("LEDGER_API_TOKENS: at least one token=owner entry is required")
	}
	cfg.Tokens = tokens

	for _, origin := range strings.Split(getenv("LEDGER_CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	if raw := getenv("LEDGER_SHUTDOWN_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("LEDGER_SHUTDOWN_TIMEOUT: want a positive duration, got %q", raw)
		}
		cfg.ShutdownTimeout = d
	}

	if raw := getenv("LEDGER_LOG_LEVEL"); raw != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return cfg, fmt.Errorf("LEDGER_LOG_LEVEL: %w", err)
		}
	}

	return cfg, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}
