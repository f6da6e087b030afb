//go:build integration

package deduplication

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"

	"pusher/internal/config"
	"pusher/internal/constants"
	"pusher/internal/logger"
)

func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := redismodule.Run(ctx, "redis:8.4.0-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opt, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(pingCtx).Err())

	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func TestRedisStore_SharedWindow(t *testing.T) {
	client := setupRedisContainer(t)
	ctx := context.Background()

	cfg := config.DeduplicationConfig{Store: constants.DedupStoreRedis, Window: 2 * time.Second}
	first, err := NewStore(cfg, client)
	require.NoError(t, err)
	second, err := NewStore(cfg, client)
	require.NoError(t, err)

	ok, err := first.Claim(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Claim(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, ok, "second relay instance must see the first claim")

	size, err := second.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	time.Sleep(3 * time.Second)

	ok, err = second.Claim(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, ok, "claim must be released once the window expires")
}

func TestRedisStore_ServiceSuppressesRepeats(t *testing.T) {
	client := setupRedisContainer(t)
	ctx := context.Background()

	cfg := config.DeduplicationConfig{Store: constants.DedupStoreRedis, Window: time.Minute}
	store, err := NewStore(cfg, client)
	require.NoError(t, err)
	svc := NewService(store, cfg, logger.NopLogger())

	for i, want := range []bool{true, false, false} {
		got, err := svc.ShouldProcess(ctx, "msg-2")
		require.NoError(t, err)
		assert.Equal(t, want, got, "call %d", i)
	}

	got, err := svc.ShouldProcess(ctx, "msg-3")
	require.NoError(t, err)
	assert.True(t, got)
}
