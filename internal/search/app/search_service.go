package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"video_platform_service/internal/search/domain"
	"video_platform_service/pkg/cache"
	errprocess "video_platform_service/pkg/err"
	"video_platform_service/pkg/logger"
	"video_platform_service/pkg/ratelimit"
)

// SuggestionCacheTTL 建議字彙很穩定，放一小時
const SuggestionCacheTTL = 3600 * time.Second

// ErrTooManyRequests 限流拒絕
var ErrTooManyRequests = fmt.Errorf("too many requests")

// SearchUseCase 這裡封裝了對外提供的搜尋服務
type SearchUseCase interface {
	SearchVideos(ctx context.Context, identifier string, query domain.SearchQuery) (*domain.SearchResponse, error)
	GetSearchSuggestions(ctx context.Context, identifier, query string, limit int) ([]string, error)
}

type searchUseCase struct {
	factory     *StrategyFactory
	suggestions domain.SuggestionSource
	cache       cache.CacheStore
	limiter     *ratelimit.Limiter // 可為 nil
}

// NewSearchUseCase 建立一個新的 SearchUseCase
func NewSearchUseCase(factory *StrategyFactory,
	suggestions domain.SuggestionSource,
	cacheStore cache.CacheStore,
	limiter *ratelimit.Limiter,
) SearchUseCase {
	return &searchUseCase{
		factory:     factory,
		suggestions: suggestions,
		cache:       cacheStore,
		limiter:     limiter,
	}
}

func (s *searchUseCase) allow(ctx context.Context, identifier, endpoint string) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, identifier, endpoint)
	if err != nil {
		// 限流後端故障時放行，搜尋不能跟著掛
		logger.Log.Warn(fmt.Sprintf("identifier[%s] 限流檢查失敗 : %v", identifier, err))
		return nil
	}
	if !decision.Allowed {
		return fmt.Errorf("retry after %s: %w", decision.RetryAfter, ErrTooManyRequests)
	}
	return nil
}

// SearchVideos 依設定選策略執行搜尋
func (s *searchUseCase) SearchVideos(ctx context.Context, identifier string, query domain.SearchQuery) (*domain.SearchResponse, error) {
	if err := s.allow(ctx, identifier, "search"); err != nil {
		return nil, err
	}

	strategy := s.factory.Strategy()
	logger.Log.Debug(fmt.Sprintf("query[%s] 使用 %s 策略", query.Query, strategy.Name()))
	return strategy.SearchVideos(ctx, query)
}

func suggestionCacheKey(query string, limit int) string {
	return fmt.Sprintf("search:suggestions:%s:%d", query, limit)
}

// GetSearchSuggestions 建議字查詢，以 query+limit 快取一小時
func (s *searchUseCase) GetSearchSuggestions(ctx context.Context, identifier, query string, limit int) ([]string, error) {
	if err := s.allow(ctx, identifier, "suggestions"); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 10
	}

	cacheKey := suggestionCacheKey(query, limit)
	if data, err := s.cache.Get(ctx, cacheKey); err == nil {
		var out []string
		if err := json.Unmarshal([]byte(data), &out); err == nil {
			return out, nil
		}
	}

	out := s.suggestions.Suggest(ctx, query, limit)
	data, err := json.Marshal(out)
	if err != nil {
		errMsg := fmt.Sprintf("query[%s] 序列化建議字失敗 : %v", query, err)
		return nil, errprocess.Set(errMsg)
	}
	if err := s.cache.Set(ctx, cacheKey, string(data), SuggestionCacheTTL); err != nil {
		logger.Log.Warn(fmt.Sprintf("query[%s] 寫入建議字快取失敗 : %v", query, err))
	}
	return out, nil
}
