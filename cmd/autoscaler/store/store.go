// Package store builds the status store selected by the autoscaler
// configuration.
//
// Two backends are supported:
//
//   - memory: in-process, the default. Status is lost on restart.
//   - redis: shared across replicas so that any of them can answer /status.
//
// Initialization is fail-fast: an unreachable Redis exits the process before
// the control loop starts.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/HatiCode/workerscaler/cmd/autoscaler/config"
	"github.com/HatiCode/workerscaler/pkg/storage"
)

const pingTimeout = 5 * time.Second

// New returns the configured store, exiting with status 1 if it cannot be
// initialized.
func New(cfg *config.Config, logger *slog.Logger) storage.Store {
	s, err := Open(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "storage", cfg.Storage, "error", err)
		os.Exit(1)
	}
	return s
}

// Open returns the configured store or an error.
func Open(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case "redis":
		logger.Info("initializing redis storage",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"ttl", cfg.RedisTTL,
		)
		redisStore, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := redisStore.Ping(ctx); err != nil {
			_ = redisStore.Close()
			return nil, fmt.Errorf("redis health check: %w", err)
		}
		logger.Info("redis storage initialized")
		return redisStore, nil

	case "memory", "":
		logger.Info("initializing in-memory storage")
		return storage.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("invalid storage type %q", cfg.Storage)
	}
}
