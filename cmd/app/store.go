package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"doge-tipbot/internal/cache"
	"doge-tipbot/internal/config"
	"doge-tipbot/internal/repo"
	"doge-tipbot/migrations"
)

// openStore builds the user record store selected by STORE_DRIVER and applies
// migrations for the SQL backends.
func openStore(ctx context.Context, cfg *config.Config, redisClient *cache.Redis, logger *slog.Logger) (repo.UserStore, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
		if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
			repository.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrated", "driver", cfg.StoreDriver)
		return repository, nil

	case config.StoreSQLite:
		repository, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite repository: %w", err)
		}
		if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
			repository.Close()
			return nil, fmt.Errorf("run sqlite migrations: %w", err)
		}
		logger.Info("database migrated", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)
		return repository, nil

	case config.StoreRedis:
		if redisClient == nil {
			return nil, errors.New("redis store selected but redis is not configured")
		}
		return repo.NewRedisStore(redisClient, logger), nil

	case config.StoreMemory:
		logger.Warn("using in-memory user store, records are lost on restart")
		return repo.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
}
