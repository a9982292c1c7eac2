package repositories

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"camstream/internal/core/ports"
	filerepo "camstream/internal/infrastructure/repositories/file"
	"camstream/internal/infrastructure/repositories/memory"
	redisrepo "camstream/internal/infrastructure/repositories/redis"
	"camstream/pkg/config"
)

// StoreFactory creates the state store configured under storage.type, falling
// back to memory when the backend is unavailable.
type StoreFactory struct {
	backend     string
	redisClient *redis.Client
	store       ports.StateStore
	logger      *zap.SugaredLogger
}

func NewStoreFactory(cfg *config.Config, logger *zap.SugaredLogger) *StoreFactory {
	f := &StoreFactory{
		backend: cfg.Storage.Type,
		logger:  logger,
	}

	switch cfg.Storage.Type {
	case "redis":
		client, err := redisrepo.Connect(context.Background(), redisrepo.ClientOptions{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory state store",
				"error", err,
			)
			break
		}
		f.redisClient = client
		f.store = redisrepo.NewRedisStateStore(client, cfg.Redis.KeyPrefix)

	case "file":
		store, err := filerepo.NewFileStateStore(cfg.Storage.Path)
		if err != nil {
			logger.Warnw("failed to open state file, falling back to memory state store",
				"path", cfg.Storage.Path,
				"error", err,
			)
			break
		}
		f.store = store
	}

	if f.store == nil {
		f.backend = "memory"
		f.store = memory.NewMemoryStateStore()
	}
	logger.Infow("using state store", "backend", f.backend)

	return f
}

func (f *StoreFactory) StateStore() ports.StateStore {
	return f.store
}

// Backend names the store actually in use.
func (f *StoreFactory) Backend() string {
	return f.backend
}

// Close closes Redis connection if used
func (f *StoreFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.Disconnect(f.redisClient)
	}
	return nil
}

// HealthCheck checks the Redis connection when Redis is in use.
func (f *StoreFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	return nil
}
