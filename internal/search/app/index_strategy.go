package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	searchdomain "video_platform_service/internal/search/domain"
	videodomain "video_platform_service/internal/video/domain"
	"video_platform_service/pkg/cache"
	errprocess "video_platform_service/pkg/err"
	"video_platform_service/pkg/logger"
)

// indexStrategy 走全文索引，結果帶相關性分數與 highlight
type indexStrategy struct {
	index searchdomain.SearchIndex
	cache cache.CacheStore
}

// NewIndexStrategy create VideoSearchStrategy backed by the full-text index
func NewIndexStrategy(index searchdomain.SearchIndex, cacheStore cache.CacheStore) VideoSearchStrategy {
	return &indexStrategy{index: index, cache: cacheStore}
}

func (s *indexStrategy) Name() string { return "index" }

// SearchVideos 全文查詢，結果快取 300 秒
func (s *indexStrategy) SearchVideos(ctx context.Context, query searchdomain.SearchQuery) (*searchdomain.SearchResponse, error) {
	query.Normalize()

	cacheKey := "index:" + query.CacheKey()
	if data, err := s.cache.Get(ctx, cacheKey); err == nil {
		var res searchdomain.SearchResponse
		if err := json.Unmarshal([]byte(data), &res); err == nil {
			return &res, nil
		}
	}
	started := time.Now()

	hits, total, err := s.index.Search(ctx, query)
	if err != nil {
		errMsg := fmt.Sprintf("query[%s] index search err : %v", query.Query, err)
		return nil, errprocess.Set(errMsg)
	}

	results := make([]searchdomain.SearchVideoResult, len(hits))
	for i, hit := range hits {
		results[i] = searchdomain.SearchVideoResult{
			VideoResponse: videodomain.VideoResponse{
				ID:          hit.Video.VideoID,
				Title:       hit.Video.Title,
				Description: hit.Video.Description,
				Code:        hit.Video.Code,
				UserID:      hit.Video.UserID,
				CategoryID:  hit.Video.CategoryID,
				Status:      videodomain.VideoStatus(hit.Video.Status),
				Visibility:  videodomain.Visibility(hit.Video.Visibility),
				Metadata:    videodomain.VideoMetadata{Duration: hit.Video.Duration},
				CreatedAt:   hit.Video.UploadedAt,
			},
			Score:      hit.Score,
			Highlights: highlightTerms(query.Query, hit.Video.Title, hit.Video.Description),
		}
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

// highlightTerms 簡單的詞彙比對，把含查詢詞的欄位片段標出來
func highlightTerms(query string, fields ...string) []string {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	var highlights []string
	for _, field := range fields {
		lower := strings.ToLower(field)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				highlights = append(highlights, field)
				break
			}
		}
	}
	return highlights
}
