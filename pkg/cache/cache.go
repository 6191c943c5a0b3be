package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss key 不存在或已過期
var ErrCacheMiss = errors.New("cache miss")

// Stats definition cache statistics
type Stats struct {
	TotalKeys int64
	Hits      int64
	Misses    int64
	HitRate   float64
}

// CacheStore definition TTL cache，所有讀路徑的 cache-aside 與限流計數都走這個介面
type CacheStore interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Get 過期視同不存在，回 ErrCacheMiss
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL 回剩餘秒數，key 不存在回 -2
	TTL(ctx context.Context, key string) (int, error)
	// Increment 原子遞增，key 不存在視為 0 起算
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Stats(ctx context.Context) (Stats, error)
}
