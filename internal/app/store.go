package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/aurora-telemetry/internal/collector"
	"github.com/xela07ax/aurora-telemetry/internal/consent"
	"github.com/xela07ax/aurora-telemetry/internal/console/service"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"github.com/xela07ax/aurora-telemetry/internal/infra"
	"github.com/xela07ax/aurora-telemetry/internal/repository/memory"
	"github.com/xela07ax/aurora-telemetry/internal/repository/postgres"
	"github.com/xela07ax/aurora-telemetry/internal/rollup"
	"go.uber.org/zap"
)

// Store: всё, что контур ожидает от хранилища. Реализуют memory и postgres.
type Store interface {
	collector.EventWriter
	rollup.Store
	consent.Store
	service.DashboardStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close()
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// OpenStore выбирает драйвер по конфигу и при auto_migrate накатывает схему.
func OpenStore(ctx context.Context, cfg infra.DatabaseConfig, logger *zap.Logger) (Store, error) {
	var store Store
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store, events are lost on restart")
		store = memory.New()
	case "postgres":
		pg, err := postgres.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store = pg
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema migrated")
	}
	return store, nil
}

// OpenRedis поднимает клиента и ждет Redis с ретраями. Пустой адрес — (nil, nil).
func OpenRedis(ctx context.Context, cfg infra.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	err := engine.ConnectWithRetry(ctx, logger, "redis", 5, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return rdb, nil
}
