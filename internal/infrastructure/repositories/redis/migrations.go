package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const currentSchemaVersion = 1

// Migration represents one step of the key layout under a prefix.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client, prefix string) error
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client *redis.Client, prefix string, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client, prefix)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}

		if err := migration.Up(ctx, client, prefix); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, prefix, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client, prefix string) (int, error) {
	val, err := client.Get(ctx, prefix+"schema:version").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, prefix string, version int) error {
	return client.Set(ctx, prefix+"schema:version", version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// Early agents kept the camera config under "<prefix>camera".
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client, prefix string) error {
				legacy, target := prefix+"camera", prefix+cameraConfigKey
				n, err := client.Exists(ctx, legacy).Result()
				if err != nil || n == 0 {
					return err
				}
				err = client.Rename(ctx, legacy, target).Err()
				if err != nil {
					return fmt.Errorf("rename legacy camera key: %w", err)
				}
				return nil
			},
		},
	}
}
