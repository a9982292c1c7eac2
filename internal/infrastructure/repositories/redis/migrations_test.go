package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
)

func TestMigrate_RenamesLegacyCameraKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, mr.Set("cs:camera", `{"fps":24}`))

	require.NoError(t, Migrate(ctx, client, "cs:", zap.NewNop().Sugar()))

	assert.False(t, mr.Exists("cs:camera"))
	store := NewRedisStateStore(client, "cs:")
	cfg, err := store.CameraConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24, cfg.FPS)

	version, err := mr.Get("cs:schema:version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)

	// Running again is a no-op.
	require.NoError(t, Migrate(ctx, client, "cs:", nil))
}

func TestMigrate_FreshDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, Migrate(context.Background(), client, "cs:", nil))

	_, err := NewRedisStateStore(client, "cs:").CameraConfig(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}
