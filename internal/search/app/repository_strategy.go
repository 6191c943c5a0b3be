package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	searchdomain "video_platform_service/internal/search/domain"
	videodomain "video_platform_service/internal/video/domain"
	"video_platform_service/internal/video/repository"
	"video_platform_service/pkg/cache"
	errprocess "video_platform_service/pkg/err"
	"video_platform_service/pkg/logger"
)

// SearchCacheTTL 兩個策略的結果快取時間一致
const SearchCacheTTL = 300 * time.Second

// repositoryStrategy 直接打關聯式資料庫的 ILIKE 查詢，
// 沒有相關性分數也沒有 highlight
type repositoryStrategy struct {
	videoRepo repository.VideoRepo
	cache     cache.CacheStore
}

// NewRepositoryStrategy create VideoSearchStrategy backed by the video repository
func NewRepositoryStrategy(videoRepo repository.VideoRepo, cacheStore cache.CacheStore) VideoSearchStrategy {
	return &repositoryStrategy{videoRepo: videoRepo, cache: cacheStore}
}

func (s *repositoryStrategy) Name() string { return "repository" }

// SearchVideos 關鍵字查詢加分頁，結果快取 300 秒
func (s *repositoryStrategy) SearchVideos(ctx context.Context, query searchdomain.SearchQuery) (*searchdomain.SearchResponse, error) {
	query.Normalize()

	cacheKey := "repo:" + query.CacheKey()
	if data, err := s.cache.Get(ctx, cacheKey); err == nil {
		var res searchdomain.SearchResponse
		if err := json.Unmarshal([]byte(data), &res); err == nil {
			return &res, nil
		}
	}
	started := time.Now()

	sortDesc := query.SortOrder != "asc"
	// duration 界限進 WHERE，total 與分頁才會跟結果一致
	videos, total, err := s.videoRepo.FindManyWithFilters(
		repository.VideoFilters{
			CategoryID:  query.CategoryID,
			UserID:      query.UserID,
			Keyword:     query.Query,
			PublicOnly:  true,
			MinDuration: query.MinDuration,
			MaxDuration: query.MaxDuration,
		},
		repository.Pagination{Page: query.Page, Limit: query.Limit},
		repository.Sort{Field: query.SortBy, Desc: sortDesc},
	)
	if err != nil {
		errMsg := fmt.Sprintf("query[%s] repository search err : %v", query.Query, err)
		return nil, errprocess.Set(errMsg)
	}

	results := make([]searchdomain.SearchVideoResult, len(videos))
	for i := range videos {
		results[i] = searchdomain.SearchVideoResult{VideoResponse: toVideoResponse(&videos[i])}
	}

	res := &searchdomain.SearchResponse{
		Data:          results,
		Total:         total,
		Page:          query.Page,
		Limit:         query.Limit,
		TotalPages:    int(math.Ceil(float64(total) / float64(query.Limit))),
		Query:         query.Query,
		ExecutionTime: time.Since(started).Milliseconds(),
		Filters:       query,
	}

	if data, err := json.Marshal(res); err == nil {
		if err := s.cache.Set(ctx, cacheKey, string(data), SearchCacheTTL); err != nil {
			logger.Log.Warn(fmt.Sprintf("query[%s] 寫入搜尋快取失敗 : %v", query.Query, err))
		}
	}
	return res, nil
}

func toVideoResponse(v *videodomain.Video) videodomain.VideoResponse {
	return videodomain.VideoResponse{
		ID:          v.ID,
		Title:       v.Title,
		Description: v.Description,
		Code:        v.Code,
		UserID:      v.UserID,
		CategoryID:  v.CategoryID,
		Status:      v.Status,
		Visibility:  v.Visibility,
		Metadata:    v.Metadata,
		FilePaths:   v.FilePaths,
		Qualities:   v.Qualities,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}
