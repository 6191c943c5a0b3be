package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"video_platform_service/pkg/cache"
	"video_platform_service/pkg/database"
	"video_platform_service/pkg/logger"
	"video_platform_service/pkg/ratelimit"
	testtool "video_platform_service/pkg/test_tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisCache 啟動 Redis 容器並建立連線
func setupRedisCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	if testing.Short() {
		t.Skip("short 模式跳過容器測試")
	}
	logger.SetNewNop()
	ctx := context.Background()

	container, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:latest",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	if err != nil {
		t.Skipf("無法啟動 Redis 容器: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	client, err := database.NewRedisSingleClient(fmt.Sprintf("%s:%s", host, port), 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return cache.NewRedisCache(client)
}

func TestRedisCacheIntegration(t *testing.T) {
	store := setupRedisCache(t)
	ctx := context.Background()

	t.Run("set 後 get 拿得回來", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "it:detail", `{"id":"v1"}`, time.Minute))

		val, err := store.Get(ctx, "it:detail")
		require.NoError(t, err)
		assert.Equal(t, `{"id":"v1"}`, val)

		exists, err := store.Exists(ctx, "it:detail")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("不存在的 key 回 ErrCacheMiss", func(t *testing.T) {
		_, err := store.Get(ctx, "it:absent")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)

		ttl, err := store.TTL(ctx, "it:absent")
		require.NoError(t, err)
		assert.Equal(t, -2, ttl)
	})

	t.Run("del 後視同不存在", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "it:gone", "x", time.Minute))
		require.NoError(t, store.Del(ctx, "it:gone"))

		_, err := store.Get(ctx, "it:gone")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})

	t.Run("ttl 回剩餘秒數且會過期", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "it:ttl", "x", 2*time.Second))

		ttl, err := store.TTL(ctx, "it:ttl")
		require.NoError(t, err)
		assert.Positive(t, ttl)

		assert.Eventually(t, func() bool {
			_, err := store.Get(ctx, "it:ttl")
			return err == cache.ErrCacheMiss
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("increment 原子遞增並吃 expire", func(t *testing.T) {
		n, err := store.Increment(ctx, "it:counter")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.Increment(ctx, "it:counter")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.NoError(t, store.Expire(ctx, "it:counter", time.Minute))
		ttl, err := store.TTL(ctx, "it:counter")
		require.NoError(t, err)
		assert.Positive(t, ttl)
	})

	t.Run("stats 追蹤命中與未命中", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "it:stats", "x", time.Minute))
		_, _ = store.Get(ctx, "it:stats")
		_, _ = store.Get(ctx, "it:stats:absent")

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Positive(t, stats.TotalKeys)
		assert.Positive(t, stats.Hits)
		assert.Positive(t, stats.Misses)
	})
}

// 限流計數走 Redis INCR，多副本共用同一個視窗
func TestRateLimiterOverRedis(t *testing.T) {
	store := setupRedisCache(t)
	ctx := context.Background()

	limiter := ratelimit.NewLimiter(store, 3, time.Minute)

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "user-1", "search")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := limiter.Allow(ctx, "user-1", "search")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Positive(t, decision.RetryAfter)

	// 其他使用者不受影響
	decision, err = limiter.Allow(ctx, "user-2", "search")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
