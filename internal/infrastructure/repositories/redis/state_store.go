package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

const (
	tokenKey        = "token"
	cameraConfigKey = "camera_config"
)

type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client, prefix string) ports.StateStore {
	return &RedisStateStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStateStore) key(name string) string {
	return r.prefix + name
}

func (r *RedisStateStore) Token(ctx context.Context) (string, error) {
	token, err := r.client.Get(ctx, r.key(tokenKey)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && token == "") {
		return "", domain.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token from Redis: %w", err)
	}
	return token, nil
}

func (r *RedisStateStore) SetToken(ctx context.Context, token string) error {
	if err := r.client.Set(ctx, r.key(tokenKey), token, 0).Err(); err != nil {
		return fmt.Errorf("failed to set token in Redis: %w", err)
	}
	return nil
}

func (r *RedisStateStore) ClearToken(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key(tokenKey)).Err(); err != nil {
		return fmt.Errorf("failed to delete token from Redis: %w", err)
	}
	return nil
}

func (r *RedisStateStore) CameraConfig(ctx context.Context) (domain.CameraConfig, error) {
	data, err := r.client.Get(ctx, r.key(cameraConfigKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CameraConfig{}, domain.ErrConfigNotFound
	}
	if err != nil {
		return domain.CameraConfig{}, fmt.Errorf("failed to get camera config from Redis: %w", err)
	}

	var cfg domain.CameraConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.CameraConfig{}, fmt.Errorf("failed to unmarshal camera config: %w", err)
	}
	return cfg, nil
}

func (r *RedisStateStore) SetCameraConfig(ctx context.Context, cfg domain.CameraConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal camera config: %w", err)
	}
	if err := r.client.Set(ctx, r.key(cameraConfigKey), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set camera config in Redis: %w", err)
	}
	return nil
}
