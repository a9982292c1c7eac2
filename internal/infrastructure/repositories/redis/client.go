package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// connectTimeout bounds the initial ping plus key migrations.
const connectTimeout = 5 * time.Second

// ClientOptions mirrors the redis section of the agent config.
type ClientOptions struct {
	Address   string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// Connect opens the state-store client. The server must answer a ping and
// the keys under opts.KeyPrefix are migrated before the client is returned;
// on any failure the client is closed again.
func Connect(ctx context.Context, opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping state store at %s: %w", opts.Address, err)
	}
	if err := Migrate(ctx, client, opts.KeyPrefix, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate state keys under %q: %w", opts.KeyPrefix, err)
	}

	if logger != nil {
		logger.Infow("Redis state store ready",
			"address", opts.Address,
			"db", opts.DB,
			"key_prefix", opts.KeyPrefix,
		)
	}
	return client, nil
}

// Disconnect is nil-safe.
func Disconnect(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
