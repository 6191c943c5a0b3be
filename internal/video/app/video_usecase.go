package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"video_platform_service/internal/video/domain"
	"video_platform_service/internal/video/repository"
	"video_platform_service/pkg"
	"video_platform_service/pkg/cache"
	"video_platform_service/pkg/database"
	errprocess "video_platform_service/pkg/err"
	"video_platform_service/pkg/logger"
	"video_platform_service/pkg/queue"

	"github.com/google/uuid"
)

// 讀路徑的快取時間：清單是易變的短 TTL，ready 影片詳情可以放久一點
const (
	ListCacheTTL   = 300 * time.Second
	DetailCacheTTL = 3600 * time.Second
)

// VideoUseCase 這裡封裝了對外提供的應用服務
type VideoUseCase interface {
	UploadVideo(ctx context.Context, up domain.UploadVideoReq) (*domain.UploadVideoRes, error)
	GetVideo(ctx context.Context, videoID, callerID string) (*domain.VideoResponse, error)
	GetVideoByCode(ctx context.Context, code, callerID string) (*domain.VideoResponse, error)
	ListVideos(ctx context.Context, q domain.ListVideosQuery) (*domain.ListVideosRes, error)
	DeleteVideo(ctx context.Context, videoID, callerID string) error
}

// StatsSource 計數器另外查，查不到就當未載入
type StatsSource interface {
	GetStats(ctx context.Context, videoID string) (domain.VideoStats, error)
}

type videoUseCase struct {
	MinioClient database.MinIOClientRepo
	VideoRepo   repository.VideoRepo
	JobQueue    queue.JobQueue
	Cache       cache.CacheStore
	Events      EventPublisher
	Stats       StatsSource // 可為 nil

	AllowedMimeTypes []string
	MaxSize          int64
}

// NewVideoUseCase 建立一個新的 VideoUseCase
func NewVideoUseCase(minIO database.MinIOClientRepo,
	repo repository.VideoRepo,
	jobQueue queue.JobQueue,
	cacheStore cache.CacheStore,
	events EventPublisher,
	stats StatsSource,
	allowedMimeTypes []string,
	maxSize int64,
) VideoUseCase {
	return &videoUseCase{
		MinioClient:      minIO,
		VideoRepo:        repo,
		JobQueue:         jobQueue,
		Cache:            cacheStore,
		Events:           events,
		Stats:            stats,
		AllowedMimeTypes: allowedMimeTypes,
		MaxSize:          maxSize,
	}
}

// 讓 usecase test mock 使用的包裝函數
var (
	createDir = func(path string) error {
		return os.MkdirAll(path, 0755)
	}

	createFile = func(name string) (*os.File, error) {
		return os.Create(name)
	}

	copyFile = func(dst *os.File, src io.Reader) (written int64, err error) {
		return io.Copy(dst, src)
	}
)

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// slugify 標題轉 URL-safe slug，空結果回退到 "video"
func slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStrip.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "video"
	}
	return s
}

// generateUniqueCode 碰撞時依序補 -1、-2…
func (s *videoUseCase) generateUniqueCode(title string) (string, error) {
	base := slugify(title)
	code := base
	for i := 1; ; i++ {
		exists, err := s.VideoRepo.CodeExists(code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
		code = fmt.Sprintf("%s-%d", base, i)
	}
}

// UploadVideo 接收上傳請求，完成上傳、資料庫寫入與排入處理工作
func (s *videoUseCase) UploadVideo(ctx context.Context, up domain.UploadVideoReq) (*domain.UploadVideoRes, error) {
	// 入隊前先擋掉不合法的檔案
	if !pkg.Contains(s.AllowedMimeTypes, up.MimeType) {
		errMsg := fmt.Sprintf("fileName[%s] 不支援的檔案類型 : %s", up.FileName, up.MimeType)
		return nil, errprocess.Validation(errMsg)
	}
	if s.MaxSize > 0 && up.Size > s.MaxSize {
		errMsg := fmt.Sprintf("fileName[%s] 檔案過大 : %d > %d", up.FileName, up.Size, s.MaxSize)
		return nil, errprocess.Validation(errMsg)
	}
	if strings.TrimSpace(up.Title) == "" {
		errMsg := fmt.Sprintf("fileName[%s] 標題不可為空", up.FileName)
		return nil, errprocess.Validation(errMsg)
	}

	code, err := s.generateUniqueCode(up.Title)
	if err != nil {
		errMsg := fmt.Sprintf("fileName[%s] 產生影片代碼失敗 : %v", up.FileName, err)
		return nil, errprocess.Set(errMsg)
	}

	// 先落地暫存檔再上傳，避免大檔案撐爆記憶體
	tmpDir := "./tmp"
	if err := createDir(tmpDir); err != nil {
		errMsg := fmt.Sprintf("fileName[%s] 建立暫存目錄失敗 : %v", up.FileName, err)
		return nil, errprocess.Set(errMsg)
	}
	tempPath := filepath.Join(tmpDir, up.FileName)
	tempFile, err := createFile(tempPath)
	if err != nil {
		errMsg := fmt.Sprintf("fileName[%s] 建立暫存檔案失敗 : %v", up.FileName, err)
		return nil, errprocess.Set(errMsg)
	}
	defer tempFile.Close()

	if _, err := copyFile(tempFile, up.File); err != nil {
		errMsg := fmt.Sprintf("fileName[%s] 儲存檔案失敗 : %v", up.FileName, err)
		return nil, errprocess.Set(errMsg)
	}

	videoID := uuid.New().String()
	ext := filepath.Ext(up.FileName)
	if ext == "" {
		ext = ".mp4"
	}
	objectName := fmt.Sprintf("videos/%s/original%s", videoID, ext)
	if err := s.MinioClient.UploadFile(ctx, objectName, tempPath, up.MimeType); err != nil {
		errMsg := fmt.Sprintf("fileName[%s] 上傳 MinIO 失敗 : %v", up.FileName, err)
		return nil, errprocess.Set(errMsg)
	}

	visibility := up.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	video := domain.Video{
		ID:          videoID,
		Title:       up.Title,
		Description: up.Description,
		Code:        code,
		UserID:      up.UserID,
		CategoryID:  up.CategoryID,
		Status:      domain.VideoUploaded,
		Visibility:  visibility,
		Metadata:    domain.VideoMetadata{FileSize: up.Size},
		FilePaths:   domain.FilePaths{OriginalPath: objectName},
	}
	if err := s.VideoRepo.Create(&video); err != nil {
		errMsg := fmt.Sprintf("fileName[%s] 資料庫建立影片失敗 : %v", up.FileName, err)
		return nil, errprocess.Set(errMsg)
	}

	// 一次排入四個 stage，metadata 優先權最高
	outputBase := fmt.Sprintf("videos/%s", videoID)
	for _, stage := range domain.PipelineStages() {
		payload := domain.ProcessingJobPayload{
			VideoID:        video.ID,
			JobType:        stage.Type,
			InputPath:      objectName,
			OutputBasePath: outputBase,
			Priority:       stage.Priority,
			MaxAttempts:    queue.DefaultMaxAttempts,
		}
		data, err := queue.MarshalPayload(payload)
		if err != nil {
			errMsg := fmt.Sprintf("videoID[%s] Job JSON 序列化失敗 : %v", video.ID, err)
			return nil, errprocess.Set(errMsg)
		}
		if _, err := s.JobQueue.AddJob(ctx, domain.QueueName, stage.Type, data, queue.JobOptions{
			Priority: stage.Priority,
		}); err != nil {
			errMsg := fmt.Sprintf("videoID[%s] 排入 %s 工作失敗 : %v", video.ID, stage.Type, err)
			return nil, errprocess.Set(errMsg)
		}
	}

	if err := s.Events.PublishVideoUploaded(ctx, &video); err != nil {
		// 事件發送失敗只記 log，不影響上傳結果
		logger.Log.Warn(fmt.Sprintf("videoID[%s] 發送上傳事件失敗 : %v", video.ID, err))
	}

	if err := os.Remove(tempPath); err != nil {
		logger.Log.Warn(fmt.Sprintf("fileName[%s] 清理暫存檔案失敗: %v", up.FileName, err))
	}

	return &domain.UploadVideoRes{
		Message: "上傳成功，等待處理",
		VideoID: video.ID,
		Code:    video.Code,
	}, nil
}

func detailCacheKey(videoID string) string {
	return "video:detail:" + videoID
}

// GetVideo get video，ready 的公開影片走 cache-aside
func (s *videoUseCase) GetVideo(ctx context.Context, videoID, callerID string) (*domain.VideoResponse, error) {
	// 擁有者看自己的影片繞過快取，結果跟身分有關
	if callerID == "" {
		if data, err := s.Cache.Get(ctx, detailCacheKey(videoID)); err == nil {
			var res domain.VideoResponse
			if err := json.Unmarshal([]byte(data), &res); err == nil {
				return &res, nil
			}
		}
	}

	video, err := s.VideoRepo.GetByID(videoID)
	if err != nil {
		return nil, err
	}
	return s.projectVideo(ctx, video, callerID)
}

// GetVideoByCode get video by code slug
func (s *videoUseCase) GetVideoByCode(ctx context.Context, code, callerID string) (*domain.VideoResponse, error) {
	video, err := s.VideoRepo.GetByCode(code)
	if err != nil {
		return nil, err
	}
	return s.projectVideo(ctx, video, callerID)
}

// projectVideo 權限檢查、補 stats、回寫快取
func (s *videoUseCase) projectVideo(ctx context.Context, video *domain.Video, callerID string) (*domain.VideoResponse, error) {
	if !video.CanBeViewedBy(callerID) {
		errMsg := fmt.Sprintf("videoID[%s] 無權限存取", video.ID)
		return nil, errprocess.Forbidden(errMsg)
	}

	res := mapToResponse(video)
	if s.Stats != nil {
		if stats, err := s.Stats.GetStats(ctx, video.ID); err == nil {
			stats.Loaded = true
			res.Stats = &stats
		}
	}

	// 只有公開且 ready 的影片能進快取，給匿名讀路徑共用
	if video.IsPlayable() {
		if data, err := json.Marshal(res); err == nil {
			if err := s.Cache.Set(ctx, detailCacheKey(video.ID), string(data), DetailCacheTTL); err != nil {
				logger.Log.Warn(fmt.Sprintf("videoID[%s] 寫入快取失敗 : %v", video.ID, err))
			}
		}
	}
	return res, nil
}

func listCacheKey(q domain.ListVideosQuery) string {
	return fmt.Sprintf("videos:list:%s:%s:%d:%d:%s:%s",
		q.CategoryID, q.UserID, q.Page, q.Limit, q.SortBy, q.SortOrder)
}

// ListVideos 分頁清單。匿名請求結果跟身分無關，可以吃 300 秒快取
func (s *videoUseCase) ListVideos(ctx context.Context, q domain.ListVideosQuery) (*domain.ListVideosRes, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}

	cacheable := q.CallerID == ""
	if cacheable {
		if data, err := s.Cache.Get(ctx, listCacheKey(q)); err == nil {
			var res domain.ListVideosRes
			if err := json.Unmarshal([]byte(data), &res); err == nil {
				return &res, nil
			}
		}
	}

	sortDesc := q.SortOrder != "asc"
	videos, total, err := s.VideoRepo.FindManyWithFilters(
		repository.VideoFilters{
			CategoryID: q.CategoryID,
			UserID:     q.UserID,
			CallerID:   q.CallerID,
			PublicOnly: q.CallerID == "",
		},
		repository.Pagination{Page: q.Page, Limit: q.Limit},
		repository.Sort{Field: q.SortBy, Desc: sortDesc},
	)
	if err != nil {
		errMsg := fmt.Sprintf("list videos err : %v", err)
		return nil, errprocess.Set(errMsg)
	}

	items := make([]domain.VideoResponse, len(videos))
	for i := range videos {
		items[i] = *mapToResponse(&videos[i])
	}
	res := &domain.ListVideosRes{
		Items:      items,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: int(math.Ceil(float64(total) / float64(q.Limit))),
	}

	if cacheable {
		if data, err := json.Marshal(res); err == nil {
			if err := s.Cache.Set(ctx, listCacheKey(q), string(data), ListCacheTTL); err != nil {
				logger.Log.Warn(fmt.Sprintf("寫入清單快取失敗 : %v", err))
			}
		}
	}
	return res, nil
}

// DeleteVideo 只有擁有者能刪，刪除後清掉詳情快取
func (s *videoUseCase) DeleteVideo(ctx context.Context, videoID, callerID string) error {
	video, err := s.VideoRepo.GetByID(videoID)
	if err != nil {
		return err
	}
	if callerID == "" || video.UserID != callerID {
		errMsg := fmt.Sprintf("videoID[%s] 無權限刪除", videoID)
		return errprocess.Forbidden(errMsg)
	}
	if err := s.VideoRepo.Delete(videoID); err != nil {
		return err
	}
	if err := s.Cache.Del(ctx, detailCacheKey(videoID)); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		logger.Log.Warn(fmt.Sprintf("videoID[%s] 清除快取失敗 : %v", videoID, err))
	}
	return nil
}

// mapToResponse 聚合轉對外投影
func mapToResponse(v *domain.Video) *domain.VideoResponse {
	return &domain.VideoResponse{
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
