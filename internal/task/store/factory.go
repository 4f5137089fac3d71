package store

import (
	"context"

	"judgebridge/internal/common/cache"
	"judgebridge/internal/common/db"
	"judgebridge/pkg/errors"
	"judgebridge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Config selects the backend: Redis when configured, else MySQL, else memory.
type Config struct {
	Redis           cache.RedisConfig `yaml:"redis"`
	MySQL           db.MySQLConfig    `yaml:"mysql"`
	MaxMergeRetries int               `yaml:"maxMergeRetries"`
}

// Open probes the durable backend once. When it is configured but
// unreachable the failure is logged as StoreUnavailable and the in-memory
// store is returned, so the service keeps working without durability.
func Open(ctx context.Context, cfg Config) Store {
	switch {
	case cfg.Redis.Configured():
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return degraded(ctx, "redis", err)
		}
		logger.Info(ctx, "task store: using redis")
		return NewRedisStore(client, cfg.MaxMergeRetries)

	case cfg.MySQL.Configured():
		database, err := db.OpenMySQL(ctx, cfg.MySQL)
		if err != nil {
			return degraded(ctx, "mysql", err)
		}
		s := NewSQLStore(database, cfg.MaxMergeRetries)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = database.Close()
			return degraded(ctx, "mysql", err)
		}
		logger.Info(ctx, "task store: using mysql")
		return s

	default:
		logger.Info(ctx, "task store: no durable backend configured, using memory")
		return NewMemoryStore()
	}
}

func degraded(ctx context.Context, backend string, err error) Store {
	appErr := errors.Wrap(err, errors.StoreUnavailable)
	logger.Warn(ctx, "task store: backend unavailable, falling back to memory",
		zap.String("backend", backend),
		zap.Int("code", int(appErr.Code)),
		zap.Error(appErr),
	)
	return NewMemoryStore()
}
