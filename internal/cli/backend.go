package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/logagg/internal/config"
	"github.com/roach88/logagg/internal/dedupcache"
	"github.com/roach88/logagg/internal/store"
	"github.com/roach88/logagg/internal/store/pgstore"
)

// loadConfig reads configuration for a command. A non-empty dbPath selects
// that SQLite file and ignores DATABASE_URL.
func loadConfig(opts *RootOptions, dbPath string) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
		cfg.Storage.DatabaseURL = ""
	}
	return cfg, nil
}

// newLogger builds the process logger. Verbose forces debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openBackend opens PostgreSQL when DATABASE_URL is set, SQLite otherwise.
// mustExist refuses to create a missing SQLite file.
func openBackend(ctx context.Context, cfg *config.Config, mustExist bool) (store.Backend, error) {
	if url := cfg.Storage.DatabaseURL; url != "" {
		st, err := pgstore.Open(ctx, url)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
		}
		return st, nil
	}

	path := cfg.Storage.DBPath
	if mustExist {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	return st, nil
}

// connectCache connects the hot-key cache. It returns (nil, nil) when
// REDIS_ADDR is not set.
func connectCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dedupcache.Cache, error) {
	if !cfg.RedisEnabled() {
		return nil, nil
	}
	return dedupcache.New(ctx, dedupcache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	}, logger)
}

// openCache connects the hot-key cache when REDIS_ADDR is set. The cache is
// optional: a connection failure is logged and the ledger is used alone.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) *dedupcache.Cache {
	c, err := connectCache(ctx, cfg, logger)
	if err != nil {
		logger.Warn("hot-key cache disabled", "addr", cfg.Redis.Addr, "error", err)
		return nil
	}
	if c != nil {
		logger.Info("hot-key cache connected", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}
	return c
}
