package ratelimit

import (
	"context"
	"fmt"
	"time"

	"video_platform_service/pkg/cache"
	"video_platform_service/pkg/logger"
)

// Decision 單次請求的限流結果
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter 固定視窗計數限流。
// 計數器放 cache store，多實例共用同一個視窗
type Limiter struct {
	store  cache.CacheStore
	limit  int64
	window time.Duration
}

// NewLimiter create a Limiter
func NewLimiter(store cache.CacheStore, limit int64, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
	}
}

func rateLimitKey(identifier, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:%s", identifier, endpoint)
}

// Allow 記一次請求並判斷是否放行。
// 視窗內第一次請求才設 TTL，視窗到期整個計數器重來
func (l *Limiter) Allow(ctx context.Context, identifier, endpoint string) (Decision, error) {
	key := rateLimitKey(identifier, endpoint)

	current, err := l.store.Increment(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("increment rate limit counter failed: %w", err)
	}
	if current == 1 {
		if err := l.store.Expire(ctx, key, l.window); err != nil {
			return Decision{}, fmt.Errorf("set rate limit window failed: %w", err)
		}
	}

	if current > l.limit {
		retryAfter := l.window
		if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
			retryAfter = time.Duration(ttl) * time.Second
		}
		logger.Log.Warn(fmt.Sprintf("rate limit exceeded, identifier: %s, endpoint: %s, count: %d", identifier, endpoint, current))
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	return Decision{Allowed: true, Remaining: int(l.limit - current)}, nil
}
