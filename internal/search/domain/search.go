package domain

import (
	"context"
	"fmt"
	"time"

	videodomain "video_platform_service/internal/video/domain"
)

// SearchQuery 搜尋請求的完整形狀，cache key 由這裡算出來
type SearchQuery struct {
	Query          string     `json:"query"`
	CategoryID     string     `json:"categoryId"`
	UserID         string     `json:"userId"`
	Tags           []string   `json:"tags"`
	MinDuration    float64    `json:"minDuration"` // 秒
	MaxDuration    float64    `json:"maxDuration"`
	UploadedAfter  *time.Time `json:"uploadedAfter"`
	UploadedBefore *time.Time `json:"uploadedBefore"`
	Page           int        `json:"page"`
	Limit          int        `json:"limit"`
	SortBy         string     `json:"sortBy"`
	SortOrder      string     `json:"sortOrder"`
}

// Normalize 補上分頁預設值
func (q *SearchQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
}

// CacheKey 由完整查詢形狀算出的 deterministic key
func (q SearchQuery) CacheKey() string {
	after, before := "", ""
	if q.UploadedAfter != nil {
		after = q.UploadedAfter.UTC().Format(time.RFC3339)
	}
	if q.UploadedBefore != nil {
		before = q.UploadedBefore.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("search:%s:%s:%s:%v:%.0f:%.0f:%s:%s:%d:%d:%s:%s",
		q.Query, q.CategoryID, q.UserID, q.Tags,
		q.MinDuration, q.MaxDuration, after, before,
		q.Page, q.Limit, q.SortBy, q.SortOrder)
}

// SearchVideoResult 單筆結果。Score 與 Highlights 只有 index 策略會給，
// 呼叫端要當 optional 處理
type SearchVideoResult struct {
	videodomain.VideoResponse
	Score      float64  `json:"score,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}

// SearchResponse 搜尋結果與分頁資訊
type SearchResponse struct {
	Data          []SearchVideoResult `json:"data"`
	Total         int64               `json:"total"`
	Page          int                 `json:"page"`
	Limit         int                 `json:"limit"`
	TotalPages    int                 `json:"totalPages"`
	Query         string              `json:"query"`
	ExecutionTime int64               `json:"executionTime"` // 毫秒
	Filters       SearchQuery         `json:"filters"`
}

// IndexedVideo 進全文索引的文件
type IndexedVideo struct {
	VideoID     string    `bson:"video_id" json:"videoId"`
	Title       string    `bson:"title" json:"title"`
	Description string    `bson:"description" json:"description"`
	Code        string    `bson:"code" json:"code"`
	UserID      string    `bson:"user_id" json:"userId"`
	CategoryID  string    `bson:"category_id" json:"categoryId"`
	Tags        []string  `bson:"tags" json:"tags"`
	Duration    float64   `bson:"duration" json:"duration"`
	Status      string    `bson:"status" json:"status"`
	Visibility  string    `bson:"visibility" json:"visibility"`
	UploadedAt  time.Time `bson:"uploaded_at" json:"uploadedAt"`
}

// IndexSearchHit index 查詢的單筆命中
type IndexSearchHit struct {
	Video IndexedVideo
	Score float64
}

// SearchIndex definition 全文索引的讀寫
type SearchIndex interface {
	IndexVideo(ctx context.Context, doc IndexedVideo) error
	UpdateVideo(ctx context.Context, doc IndexedVideo) error
	DeleteVideo(ctx context.Context, videoID string) error
	Search(ctx context.Context, query SearchQuery) ([]IndexSearchHit, int64, error)
}

// SuggestionSource 建議字來源，可以換成查詢紀錄等實作
type SuggestionSource interface {
	Suggest(ctx context.Context, prefix string, limit int) []string
}
