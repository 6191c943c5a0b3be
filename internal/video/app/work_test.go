package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"video_platform_service/internal/video/domain"
	"video_platform_service/internal/video/repository"
	"video_platform_service/pkg/cache"
	errprocess "video_platform_service/pkg/err"
	"video_platform_service/pkg/logger"
	"video_platform_service/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMediaProcessor 是 MediaProcessor 的 Mock
type MockMediaProcessor struct {
	mock.Mock
}

func (m *MockMediaProcessor) ExtractMetadata(ctx context.Context, inputPath string) (domain.VideoMetadata, error) {
	args := m.Called(ctx, inputPath)
	return args.Get(0).(domain.VideoMetadata), args.Error(1)
}

func (m *MockMediaProcessor) GenerateThumbnail(ctx context.Context, inputPath, outputPath string) error {
	args := m.Called(ctx, inputPath, outputPath)
	return args.Error(0)
}

func (m *MockMediaProcessor) GeneratePreview(ctx context.Context, inputPath, outputPath string) error {
	args := m.Called(ctx, inputPath, outputPath)
	return args.Error(0)
}

func (m *MockMediaProcessor) Transcode(ctx context.Context, inputPath, outputDir string) (*TranscodeResult, error) {
	args := m.Called(ctx, inputPath, outputDir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TranscodeResult), args.Error(1)
}

// fakeVideoRepo in-memory repo，worker 的 load-mutate-save 看得到前一個 stage 的結果
type fakeVideoRepo struct {
	mu     sync.Mutex
	videos map[string]*domain.Video
}

func newFakeVideoRepo() *fakeVideoRepo {
	return &fakeVideoRepo{videos: make(map[string]*domain.Video)}
}

func (r *fakeVideoRepo) AutoMigrate() error { return nil }

func (r *fakeVideoRepo) Create(video *domain.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *video
	r.videos[video.ID] = &copied
	return nil
}

func (r *fakeVideoRepo) Save(video *domain.Video) error {
	return r.Create(video)
}

func (r *fakeVideoRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.videos, id)
	return nil
}

func (r *fakeVideoRepo) GetByID(id string) (*domain.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, errprocess.NotFound("video[" + id + "]")
	}
	copied := *v
	return &copied, nil
}

func (r *fakeVideoRepo) GetByCode(code string) (*domain.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.videos {
		if v.Code == code {
			copied := *v
			return &copied, nil
		}
	}
	return nil, errprocess.NotFound("video code[" + code + "]")
}

func (r *fakeVideoRepo) CodeExists(code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.videos {
		if v.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeVideoRepo) FindManyWithFilters(filters repository.VideoFilters, page repository.Pagination, sort repository.Sort) ([]domain.Video, int64, error) {
	return nil, 0, nil
}

func (r *fakeVideoRepo) get(id string) *domain.Video {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.videos[id]; ok {
		copied := *v
		return &copied
	}
	return nil
}

type workerFixture struct {
	worker *Worker
	queue  *queue.MemoryQueue
	repo   *fakeVideoRepo
	minio  *MockMinIOClient
	media  *MockMediaProcessor
	cache  *cache.MemoryCache
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	logger.SetNewNop()

	f := &workerFixture{
		queue: queue.NewMemoryQueue(30*time.Second, time.Millisecond),
		repo:  newFakeVideoRepo(),
		minio: new(MockMinIOClient),
		media: new(MockMediaProcessor),
		cache: cache.NewMemoryCache(),
	}
	f.worker = NewWorker(f.queue, f.repo, f.minio, f.media, NopEventPublisher{}, f.cache,
		domain.QueueName, 10*time.Millisecond, filepath.Join(t.TempDir(), "worker"))

	f.minio.On("DownloadFile", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.minio.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return f
}

func (f *workerFixture) addVideo(status domain.VideoStatus) *domain.Video {
	v := &domain.Video{
		ID:         "vid-1",
		Title:      "Demo",
		Code:       "demo",
		UserID:     "user-1",
		Status:     status,
		Visibility: domain.VisibilityPublic,
		FilePaths:  domain.FilePaths{OriginalPath: "videos/vid-1/original.mp4"},
	}
	f.repo.Create(v)
	return v
}

func (f *workerFixture) enqueue(t *testing.T, jobType string) *queue.Job {
	t.Helper()
	payload := domain.ProcessingJobPayload{
		VideoID:        "vid-1",
		JobType:        jobType,
		InputPath:      "videos/vid-1/original.mp4",
		OutputBasePath: "videos/vid-1",
		MaxAttempts:    queue.DefaultMaxAttempts,
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = f.queue.AddJob(context.Background(), domain.QueueName, jobType, data, queue.JobOptions{})
	require.NoError(t, err)
	job, err := f.queue.GetNextJob(context.Background(), domain.QueueName)
	require.NoError(t, err)
	return job
}

// fakeTranscodeResult 在暫存目錄擺好假的轉碼輸出
func fakeTranscodeResult(t *testing.T) *TranscodeResult {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"index.m3u8", "master.m3u8", "index0.ts"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	variants := make([]TranscodeVariant, 0, 3)
	for _, label := range []string{"1080p", "720p", "480p"} {
		path := filepath.Join(dir, label+".mp4")
		require.NoError(t, os.WriteFile(path, []byte("video"), 0644))
		variants = append(variants, TranscodeVariant{
			Label:      label,
			Resolution: label,
			Bitrate:    1000,
			LocalPath:  path,
			FileSize:   5,
		})
	}
	return &TranscodeResult{
		Variants:       variants,
		MasterPlaylist: filepath.Join(dir, "master.m3u8"),
		SegmentDir:     dir,
	}
}

func TestWorkerStages(t *testing.T) {
	ctx := context.Background()

	t.Run("metadata 完成後狀態進 processing", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoUploaded)
		f.media.On("ExtractMetadata", mock.Anything, mock.Anything).Return(domain.VideoMetadata{
			Duration:   120.5,
			Resolution: "1920x1080",
			Format:     "mov,mp4,m4a,3gp,3g2,mj2",
			Bitrate:    5_000_000,
			FileSize:   1024,
		}, nil).Once()

		job := f.enqueue(t, domain.JobMetadataExtraction)
		err := f.worker.handleJob(ctx, job)

		assert.NoError(t, err)
		assert.Equal(t, domain.VideoProcessing, f.repo.get("vid-1").Status)
		assert.Equal(t, 120.5, f.repo.get("vid-1").Metadata.Duration)
	})

	t.Run("thumbnail 寫回路徑不動狀態", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoProcessing)
		f.media.On("GenerateThumbnail", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		job := f.enqueue(t, domain.JobThumbnail)
		err := f.worker.handleJob(ctx, job)

		assert.NoError(t, err)
		assert.Equal(t, "videos/vid-1/thumbnail.jpg", f.repo.get("vid-1").FilePaths.ThumbnailURL)
		assert.Equal(t, domain.VideoProcessing, f.repo.get("vid-1").Status)
	})

	t.Run("preview 的 GIF 路徑要留下來", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoProcessing)
		f.media.On("GeneratePreview", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		job := f.enqueue(t, domain.JobPreview)
		err := f.worker.handleJob(ctx, job)

		assert.NoError(t, err)
		assert.Equal(t, "videos/vid-1/preview.gif", f.repo.get("vid-1").FilePaths.PreviewGifURL)
	})

	t.Run("transcode 完成後狀態 ready 且有 HLS URL", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoProcessing)
		f.media.On("Transcode", mock.Anything, mock.Anything, mock.Anything).
			Return(fakeTranscodeResult(t), nil).Once()

		job := f.enqueue(t, domain.JobTranscode)
		err := f.worker.handleJob(ctx, job)

		assert.NoError(t, err)
		v := f.repo.get("vid-1")
		assert.Equal(t, domain.VideoReady, v.Status)
		assert.Equal(t, "videos/vid-1/hls/master.m3u8", v.FilePaths.HLSPlaylistURL)
		assert.Equal(t, "videos/vid-1/1080p.mp4", v.FilePaths.ProcessedPath)
		assert.Len(t, v.Qualities, 3)
	})

	t.Run("轉碼結果沒有任何檔位是致命錯誤", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoProcessing)
		f.media.On("Transcode", mock.Anything, mock.Anything, mock.Anything).
			Return(&TranscodeResult{}, nil).Once()

		job := f.enqueue(t, domain.JobTranscode)
		err := f.worker.handleJob(ctx, job)

		assert.Error(t, err)
		assert.ErrorIs(t, err, errprocess.ErrFatal)
		assert.False(t, errprocess.IsRetryable(err))
		// 狀態不能被推到 ready
		assert.Equal(t, domain.VideoProcessing, f.repo.get("vid-1").Status)
	})

	t.Run("狀態落地後清掉 detail 快取", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoProcessing)
		require.NoError(t, f.cache.Set(ctx, detailCacheKey("vid-1"), "stale", time.Minute))
		f.media.On("Transcode", mock.Anything, mock.Anything, mock.Anything).
			Return(fakeTranscodeResult(t), nil).Once()

		job := f.enqueue(t, domain.JobTranscode)
		err := f.worker.handleJob(ctx, job)

		assert.NoError(t, err)
		_, cacheErr := f.cache.Get(ctx, detailCacheKey("vid-1"))
		assert.ErrorIs(t, cacheErr, cache.ErrCacheMiss)
	})

	t.Run("metadata 未完成時 transcode 當暫時性錯誤", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoUploaded)

		job := f.enqueue(t, domain.JobTranscode)
		err := f.worker.handleJob(ctx, job)

		assert.Error(t, err)
		assert.ErrorIs(t, err, errprocess.ErrTransient)
		assert.True(t, errprocess.IsRetryable(err))
		// 沒碰到 ffmpeg
		f.media.AssertNotCalled(t, "Transcode", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("transcode 重試不堆重複檔位", func(t *testing.T) {
		f := newWorkerFixture(t)
		v := f.addVideo(domain.VideoProcessing)
		v.Qualities = []domain.VideoQuality{
			{ID: "vid-1-1080p", VideoID: "vid-1", Label: "1080p"},
			{ID: "vid-1-720p", VideoID: "vid-1", Label: "720p"},
			{ID: "vid-1-480p", VideoID: "vid-1", Label: "480p"},
		}
		require.NoError(t, f.repo.Save(v))
		f.media.On("Transcode", mock.Anything, mock.Anything, mock.Anything).
			Return(fakeTranscodeResult(t), nil).Once()

		job := f.enqueue(t, domain.JobTranscode)
		err := f.worker.handleJob(ctx, job)

		assert.NoError(t, err)
		assert.Len(t, f.repo.get("vid-1").Qualities, 3)
	})

	t.Run("已 ready 的影片再收到 transcode 直接跳過", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoReady)

		job := f.enqueue(t, domain.JobTranscode)
		err := f.worker.handleJob(ctx, job)

		assert.NoError(t, err)
		f.media.AssertNotCalled(t, "Transcode", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("未知工作類型是致命錯誤", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoUploaded)

		job := f.enqueue(t, "bogus_stage")
		err := f.worker.handleJob(ctx, job)

		assert.Error(t, err)
		assert.ErrorIs(t, err, errprocess.ErrFatal)
		assert.False(t, errprocess.IsRetryable(err))
	})

	t.Run("影片不存在是致命錯誤", func(t *testing.T) {
		f := newWorkerFixture(t)

		job := f.enqueue(t, domain.JobMetadataExtraction)
		err := f.worker.handleJob(ctx, job)

		assert.Error(t, err)
		assert.ErrorIs(t, err, errprocess.ErrFatal)
	})
}

func TestWorkerLoop(t *testing.T) {
	t.Run("跑完整條管線後影片 ready", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoUploaded)
		f.media.On("ExtractMetadata", mock.Anything, mock.Anything).
			Return(domain.VideoMetadata{Duration: 60}, nil).Once()
		f.media.On("GenerateThumbnail", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		f.media.On("GeneratePreview", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		f.media.On("Transcode", mock.Anything, mock.Anything, mock.Anything).
			Return(fakeTranscodeResult(t), nil).Once()

		ctx := context.Background()
		for _, stage := range domain.PipelineStages() {
			payload := domain.ProcessingJobPayload{
				VideoID:        "vid-1",
				JobType:        stage.Type,
				InputPath:      "videos/vid-1/original.mp4",
				OutputBasePath: "videos/vid-1",
				MaxAttempts:    queue.DefaultMaxAttempts,
			}
			data, err := json.Marshal(payload)
			require.NoError(t, err)
			_, err = f.queue.AddJob(ctx, domain.QueueName, stage.Type, data, queue.JobOptions{Priority: stage.Priority})
			require.NoError(t, err)
		}

		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			f.worker.Start(loopCtx)
			close(done)
		}()

		assert.Eventually(t, func() bool {
			v := f.repo.get("vid-1")
			return v != nil && v.Status == domain.VideoReady
		}, 5*time.Second, 20*time.Millisecond)

		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker 未在取消後停止")
		}

		stats, err := f.queue.Stats(ctx, domain.QueueName)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Completed)
		assert.Zero(t, stats.Failed)
	})

	t.Run("致命錯誤讓 job 進 dead letter 並把影片標成 failed", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.addVideo(domain.VideoUploaded)

		ctx := context.Background()
		payload := domain.ProcessingJobPayload{VideoID: "vid-1", JobType: "bogus_stage"}
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		_, err = f.queue.AddJob(ctx, domain.QueueName, "bogus_stage", data, queue.JobOptions{})
		require.NoError(t, err)

		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			f.worker.Start(loopCtx)
			close(done)
		}()

		assert.Eventually(t, func() bool {
			dead, err := f.queue.DeadLetters(ctx, domain.QueueName)
			return err == nil && len(dead) == 1
		}, 5*time.Second, 20*time.Millisecond)

		cancel()
		<-done

		assert.Equal(t, domain.VideoFailed, f.repo.get("vid-1").Status)
		dead, err := f.queue.DeadLetters(ctx, domain.QueueName)
		require.NoError(t, err)
		assert.Equal(t, 1, dead[0].Attempts)
	})
}
