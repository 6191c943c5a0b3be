package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"video_platform_service/internal/video/domain"
	"video_platform_service/internal/video/repository"
	"video_platform_service/pkg/cache"
	"video_platform_service/pkg/database"
	errprocess "video_platform_service/pkg/err"
	"video_platform_service/pkg/logger"
	"video_platform_service/pkg/queue"
)

// DefaultPollInterval 佇列空時的輪詢間隔
const DefaultPollInterval = 5 * time.Second

// Worker 處理管線的消費端，把佇列裡的 stage 轉成影片聚合上的變更
type Worker struct {
	jobQueue    queue.JobQueue
	videoRepo   repository.VideoRepo
	minioClient database.MinIOClientRepo
	media       MediaProcessor
	events      EventPublisher
	cacheStore  cache.CacheStore

	queueName    string
	pollInterval time.Duration
	workDir      string // 本地暫存目錄
}

// NewWorker 建構 Worker 實例
func NewWorker(jobQueue queue.JobQueue,
	videoRepo repository.VideoRepo,
	minioClient database.MinIOClientRepo,
	media MediaProcessor,
	events EventPublisher,
	cacheStore cache.CacheStore,
	queueName string,
	pollInterval time.Duration,
	workDir string,
) *Worker {
	if queueName == "" {
		queueName = domain.QueueName
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if workDir == "" {
		workDir = "./tmp/worker"
	}
	return &Worker{
		jobQueue:     jobQueue,
		videoRepo:    videoRepo,
		minioClient:  minioClient,
		media:        media,
		events:       events,
		cacheStore:   cacheStore,
		queueName:    queueName,
		pollInterval: pollInterval,
		workDir:      workDir,
	}
}

// Start 開始輪詢佇列，ctx 取消時結束；處理中的 job 會做完才返回
func (w *Worker) Start(ctx context.Context) {
	logger.Log.Info(fmt.Sprintf("worker started, queue: %s, poll interval: %s", w.queueName, w.pollInterval))
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("worker 收到停止訊號")
			return
		default:
		}

		job, err := w.jobQueue.GetNextJob(ctx, w.queueName)
		if err != nil {
			if !errors.Is(err, queue.ErrNoJob) {
				logger.Log.Errorf("取得工作失敗:", err)
			}
			w.sleep(ctx)
			continue
		}

		// stage 的錯誤都在這裡收掉，loop 不能死
		if err := w.handleJob(ctx, job); err != nil {
			failErr := err
			permanent := !errprocess.IsRetryable(err)
			if permanent {
				failErr = fmt.Errorf("%v: %w", err, queue.ErrPermanent)
			}
			if qErr := w.jobQueue.FailJob(ctx, w.queueName, job.ID, failErr); qErr != nil {
				logger.Log.Errorf("回報工作失敗時出錯:", qErr)
			}
			// 進了 dead letter 的 job，把影片標成 failed
			if permanent || job.Attempts >= job.MaxAttempts {
				var payload domain.ProcessingJobPayload
				if err := json.Unmarshal(job.Payload, &payload); err == nil && payload.VideoID != "" {
					if err := w.MarkVideoFailed(ctx, payload.VideoID); err != nil {
						logger.Log.Errorf("標記影片失敗狀態時出錯:", err)
					}
				}
			}
			continue
		}
		if err := w.jobQueue.CompleteJob(ctx, w.queueName, job.ID); err != nil {
			logger.Log.Errorf("確認工作完成失敗:", err)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// handleJob 解 payload 並派給對應 stage
func (w *Worker) handleJob(ctx context.Context, job *queue.Job) error {
	var payload domain.ProcessingJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		errMsg := fmt.Sprintf("job[%s] payload 解析失敗 : %v", job.ID, err)
		return errprocess.Fatal(errMsg)
	}

	logger.Log.Info(fmt.Sprintf("處理工作 job[%s] type[%s] videoID[%s] (attempt %d/%d)",
		job.ID, job.Type, payload.VideoID, job.Attempts, job.MaxAttempts))

	switch job.Type {
	case domain.JobMetadataExtraction:
		return w.handleMetadata(ctx, payload)
	case domain.JobThumbnail:
		return w.handleThumbnail(ctx, payload)
	case domain.JobPreview:
		return w.handlePreview(ctx, payload)
	case domain.JobTranscode:
		return w.handleTranscode(ctx, payload)
	default:
		errMsg := fmt.Sprintf("job[%s] 未知的工作類型 : %s", job.ID, job.Type)
		return errprocess.Fatal(errMsg)
	}
}

// fetchInput 從 MinIO 下載原始檔到本地暫存
func (w *Worker) fetchInput(ctx context.Context, payload domain.ProcessingJobPayload) (string, func(), error) {
	localDir := filepath.Join(w.workDir, payload.VideoID)
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return "", nil, errprocess.Transient(fmt.Sprintf("videoID[%s] 建立暫存目錄失敗 : %v", payload.VideoID, err))
	}
	localInput := filepath.Join(localDir, "original"+filepath.Ext(payload.InputPath))
	if err := w.minioClient.DownloadFile(ctx, payload.InputPath, localInput); err != nil {
		return "", nil, errprocess.Transient(fmt.Sprintf("videoID[%s] 下載原始影片失敗 : %v", payload.VideoID, err))
	}
	cleanup := func() {
		if err := os.RemoveAll(localDir); err != nil {
			logger.Log.Warn(fmt.Sprintf("videoID[%s] 清理暫存目錄失敗: %v", payload.VideoID, err))
		}
	}
	return localInput, cleanup, nil
}

// handleMetadata ffprobe 萃取 metadata，狀態推進到 processing
func (w *Worker) handleMetadata(ctx context.Context, payload domain.ProcessingJobPayload) error {
	video, err := w.videoRepo.GetByID(payload.VideoID)
	if err != nil {
		return errprocess.Fatal(fmt.Sprintf("videoID[%s] 找不到影片 : %v", payload.VideoID, err))
	}

	localInput, cleanup, err := w.fetchInput(ctx, payload)
	if err != nil {
		return err
	}
	defer cleanup()

	meta, err := w.media.ExtractMetadata(ctx, localInput)
	if err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] metadata 萃取失敗 : %v", payload.VideoID, err))
	}
	if meta.FileSize == 0 {
		meta.FileSize = video.Metadata.FileSize
	}

	video.Metadata = meta
	video.ChangeStatus(domain.VideoProcessing)
	if err := w.videoRepo.Save(video); err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 更新影片失敗 : %v", payload.VideoID, err))
	}
	w.invalidateDetail(ctx, video.ID)
	logger.Log.Info(fmt.Sprintf("videoID[%s] metadata 完成, duration: %.1fs, resolution: %s",
		video.ID, meta.Duration, meta.Resolution))
	return nil
}

// handleThumbnail 擷取縮圖並上傳，不動狀態
func (w *Worker) handleThumbnail(ctx context.Context, payload domain.ProcessingJobPayload) error {
	video, err := w.videoRepo.GetByID(payload.VideoID)
	if err != nil {
		return errprocess.Fatal(fmt.Sprintf("videoID[%s] 找不到影片 : %v", payload.VideoID, err))
	}

	localInput, cleanup, err := w.fetchInput(ctx, payload)
	if err != nil {
		return err
	}
	defer cleanup()

	localThumb := filepath.Join(filepath.Dir(localInput), "thumbnail.jpg")
	if err := w.media.GenerateThumbnail(ctx, localInput, localThumb); err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 縮圖產生失敗 : %v", payload.VideoID, err))
	}

	objectName := payload.OutputBasePath + "/thumbnail.jpg"
	if err := w.minioClient.UploadFile(ctx, objectName, localThumb, "image/jpeg"); err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 縮圖上傳失敗 : %v", payload.VideoID, err))
	}

	video.FilePaths.ThumbnailURL = objectName
	if err := w.videoRepo.Save(video); err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 更新影片失敗 : %v", payload.VideoID, err))
	}
	return nil
}

// handlePreview 3 秒預覽 GIF，路徑寫回 FilePaths
func (w *Worker) handlePreview(ctx context.Context, payload domain.ProcessingJobPayload) error {
	video, err := w.videoRepo.GetByID(payload.VideoID)
	if err != nil {
		return errprocess.Fatal(fmt.Sprintf("videoID[%s] 找不到影片 : %v", payload.VideoID, err))
	}

	localInput, cleanup, err := w.fetchInput(ctx, payload)
	if err != nil {
		return err
	}
	defer cleanup()

	localPreview := filepath.Join(filepath.Dir(localInput), "preview.gif")
	if err := w.media.GeneratePreview(ctx, localInput, localPreview); err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 預覽產生失敗 : %v", payload.VideoID, err))
	}

	objectName := payload.OutputBasePath + "/preview.gif"
	if err := w.minioClient.UploadFile(ctx, objectName, localPreview, "image/gif"); err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 預覽上傳失敗 : %v", payload.VideoID, err))
	}

	video.FilePaths.PreviewGifURL = objectName
	if err := w.videoRepo.Save(video); err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 更新影片失敗 : %v", payload.VideoID, err))
	}
	return nil
}

// handleTranscode 轉碼階梯與 HLS，完成後狀態進 ready。
// metadata 還沒跑完（狀態仍是 uploaded）就先當暫時性錯誤退回重試
func (w *Worker) handleTranscode(ctx context.Context, payload domain.ProcessingJobPayload) error {
	video, err := w.videoRepo.GetByID(payload.VideoID)
	if err != nil {
		return errprocess.Fatal(fmt.Sprintf("videoID[%s] 找不到影片 : %v", payload.VideoID, err))
	}
	if video.Status == domain.VideoUploaded {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] metadata 尚未完成，轉碼延後", payload.VideoID))
	}
	if video.Status == domain.VideoReady {
		// 重派到已完成的影片，冪等跳過
		logger.Log.Warn(fmt.Sprintf("videoID[%s] 已是 ready，跳過轉碼", video.ID))
		return nil
	}

	localInput, cleanup, err := w.fetchInput(ctx, payload)
	if err != nil {
		return err
	}
	defer cleanup()

	outputDir := filepath.Join(filepath.Dir(localInput), "processed")
	result, err := w.media.Transcode(ctx, localInput, outputDir)
	if err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 轉碼失敗 : %v", payload.VideoID, err))
	}
	if len(result.Variants) == 0 {
		// 轉碼器回空階梯不是重試救得回來的
		return errprocess.Fatal(fmt.Sprintf("videoID[%s] 轉碼結果沒有任何檔位", payload.VideoID))
	}

	// 上傳階梯各檔位與 playlist
	qualities := make([]domain.VideoQuality, 0, len(result.Variants))
	for _, variant := range result.Variants {
		objectName := fmt.Sprintf("%s/%s.mp4", payload.OutputBasePath, variant.Label)
		if err := w.minioClient.UploadFile(ctx, objectName, variant.LocalPath, "video/mp4"); err != nil {
			return errprocess.Transient(fmt.Sprintf("videoID[%s] 上傳 %s 失敗 : %v", payload.VideoID, variant.Label, err))
		}
		qualities = append(qualities, domain.VideoQuality{
			ID:         fmt.Sprintf("%s-%s", video.ID, variant.Label),
			VideoID:    video.ID,
			Label:      variant.Label,
			Resolution: variant.Resolution,
			Bitrate:    variant.Bitrate,
			Path:       objectName,
			FileSize:   variant.FileSize,
		})
	}

	hlsFiles, err := os.ReadDir(result.SegmentDir)
	if err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 讀取轉碼輸出目錄失敗 : %v", payload.VideoID, err))
	}
	for _, f := range hlsFiles {
		ext := filepath.Ext(f.Name())
		if ext != ".m3u8" && ext != ".ts" {
			continue
		}
		objectName := fmt.Sprintf("%s/hls/%s", payload.OutputBasePath, f.Name())
		localPath := filepath.Join(result.SegmentDir, f.Name())
		if err := w.minioClient.UploadFile(ctx, objectName, localPath, hlsContentType(f.Name())); err != nil {
			return errprocess.Transient(fmt.Sprintf("videoID[%s] 上傳 HLS 檔案失敗 : %v", payload.VideoID, err))
		}
	}

	// 覆蓋而不是追加，重試才不會堆出重複檔位
	video.Qualities = qualities
	video.FilePaths.ProcessedPath = qualities[0].Path
	video.FilePaths.HLSPlaylistURL = payload.OutputBasePath + "/hls/master.m3u8"
	video.ChangeStatus(domain.VideoReady)
	if err := w.videoRepo.Save(video); err != nil {
		return errprocess.Transient(fmt.Sprintf("videoID[%s] 更新影片失敗 : %v", payload.VideoID, err))
	}

	w.invalidateDetail(ctx, video.ID)
	if err := w.events.PublishStatusChanged(ctx, video); err != nil {
		logger.Log.Warn(fmt.Sprintf("videoID[%s] 發送狀態事件失敗 : %v", video.ID, err))
	}
	logger.Log.Info(fmt.Sprintf("videoID[%s] 轉碼完成，狀態 ready", video.ID))
	return nil
}

// invalidateDetail 狀態落地後把 detail 快取打掉，讀路徑才不會拿到舊狀態
func (w *Worker) invalidateDetail(ctx context.Context, videoID string) {
	if w.cacheStore == nil {
		return
	}
	if err := w.cacheStore.Del(ctx, detailCacheKey(videoID)); err != nil {
		logger.Log.Warn(fmt.Sprintf("videoID[%s] 清除快取失敗 : %v", videoID, err))
	}
}

func hlsContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	default:
		return "application/octet-stream"
	}
}

// MarkVideoFailed dead letter 對應的影片標成 failed，發狀態事件
func (w *Worker) MarkVideoFailed(ctx context.Context, videoID string) error {
	video, err := w.videoRepo.GetByID(videoID)
	if err != nil {
		return err
	}
	if !video.ChangeStatus(domain.VideoFailed) {
		return nil
	}
	if err := w.videoRepo.Save(video); err != nil {
		return err
	}
	w.invalidateDetail(ctx, videoID)
	if err := w.events.PublishStatusChanged(ctx, video); err != nil {
		logger.Log.Warn(fmt.Sprintf("videoID[%s] 發送狀態事件失敗 : %v", video.ID, err))
	}
	return nil
}
