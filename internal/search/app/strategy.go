package app

import (
	"context"

	"video_platform_service/internal/search/domain"
)

// VideoSearchStrategy definition 單一搜尋策略
type VideoSearchStrategy interface {
	Name() string
	SearchVideos(ctx context.Context, query domain.SearchQuery) (*domain.SearchResponse, error)
}

// StrategyFactory 依設定決定每個請求用哪個策略
type StrategyFactory struct {
	useIndex     bool
	repoStrategy VideoSearchStrategy
	idxStrategy  VideoSearchStrategy
}

// NewStrategyFactory create StrategyFactory
func NewStrategyFactory(useIndex bool, repoStrategy, idxStrategy VideoSearchStrategy) *StrategyFactory {
	return &StrategyFactory{
		useIndex:     useIndex,
		repoStrategy: repoStrategy,
		idxStrategy:  idxStrategy,
	}
}

// Strategy index 策略沒配好時回退到 repository 策略
func (f *StrategyFactory) Strategy() VideoSearchStrategy {
	if f.useIndex && f.idxStrategy != nil {
		return f.idxStrategy
	}
	return f.repoStrategy
}
