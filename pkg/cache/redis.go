package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache Redis-backed CacheStore，多副本部署時共用
type RedisCache struct {
	client *redis.Client
	hits   int64
	misses int64
}

// NewRedisCache create a RedisCache
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set store value with ttl
func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get 不存在或過期回 ErrCacheMiss
func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&r.misses, 1)
		return "", ErrCacheMiss
	} else if err != nil {
		return "", err
	}
	atomic.AddInt64(&r.hits, 1)
	return val, nil
}

// Del delete key
func (r *RedisCache) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Exists check key exist
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TTL 回剩餘秒數，key 不存在回 -2（與 redis TTL 語意一致）
func (r *RedisCache) TTL(ctx context.Context, key string) (int, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis 將 -1/-2 原樣放在 Duration 裡，不能用 Seconds() 換算
	if ttl < 0 {
		if ttl == -2 {
			return -2, nil
		}
		return -1, nil
	}
	return int(ttl.Seconds()), nil
}

// Increment INCR 原生原子操作
func (r *RedisCache) Increment(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// Expire 更新 key 的過期時間
func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

// Stats 回命中統計（單副本視角）
func (r *RedisCache) Stats(ctx context.Context) (Stats, error) {
	size, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, err
	}

	hits := atomic.LoadInt64(&r.hits)
	misses := atomic.LoadInt64(&r.misses)
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		TotalKeys: size,
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
	}, nil
}
