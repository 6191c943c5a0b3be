package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	searchdomain "video_platform_service/internal/search/domain"
	videodomain "video_platform_service/internal/video/domain"
	"video_platform_service/internal/video/repository"
	"video_platform_service/pkg/cache"
	"video_platform_service/pkg/logger"
	"video_platform_service/pkg/ratelimit"
)

// MockVideoRepo mock repository.VideoRepo
type MockVideoRepo struct {
	mock.Mock
}

func (m *MockVideoRepo) AutoMigrate() error {
	return m.Called().Error(0)
}

func (m *MockVideoRepo) Create(video *videodomain.Video) error {
	return m.Called(video).Error(0)
}

func (m *MockVideoRepo) Save(video *videodomain.Video) error {
	return m.Called(video).Error(0)
}

func (m *MockVideoRepo) Delete(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockVideoRepo) GetByID(id string) (*videodomain.Video, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*videodomain.Video), args.Error(1)
}

func (m *MockVideoRepo) GetByCode(code string) (*videodomain.Video, error) {
	args := m.Called(code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*videodomain.Video), args.Error(1)
}

func (m *MockVideoRepo) CodeExists(code string) (bool, error) {
	args := m.Called(code)
	return args.Bool(0), args.Error(1)
}

func (m *MockVideoRepo) FindManyWithFilters(filters repository.VideoFilters, page repository.Pagination, sort repository.Sort) ([]videodomain.Video, int64, error) {
	args := m.Called(filters, page, sort)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]videodomain.Video), args.Get(1).(int64), args.Error(2)
}

// MockSearchIndex mock searchdomain.SearchIndex
type MockSearchIndex struct {
	mock.Mock
}

func (m *MockSearchIndex) IndexVideo(ctx context.Context, doc searchdomain.IndexedVideo) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *MockSearchIndex) UpdateVideo(ctx context.Context, doc searchdomain.IndexedVideo) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *MockSearchIndex) DeleteVideo(ctx context.Context, videoID string) error {
	return m.Called(ctx, videoID).Error(0)
}

func (m *MockSearchIndex) Search(ctx context.Context, query searchdomain.SearchQuery) ([]searchdomain.IndexSearchHit, int64, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]searchdomain.IndexSearchHit), args.Get(1).(int64), args.Error(2)
}

func publicReadyVideo(id, title string, duration float64) videodomain.Video {
	return videodomain.Video{
		ID:         id,
		Title:      title,
		UserID:     "user-1",
		Status:     videodomain.VideoReady,
		Visibility: videodomain.VisibilityPublic,
		Metadata:   videodomain.VideoMetadata{Duration: duration},
	}
}

func TestStrategyFactory(t *testing.T) {
	logger.SetNewNop()
	repoStrategy := NewRepositoryStrategy(new(MockVideoRepo), cache.NewMemoryCache())
	idxStrategy := NewIndexStrategy(new(MockSearchIndex), cache.NewMemoryCache())

	t.Run("未啟用 index 時用 repository 策略", func(t *testing.T) {
		f := NewStrategyFactory(false, repoStrategy, idxStrategy)
		assert.Equal(t, "repository", f.Strategy().Name())
	})

	t.Run("啟用 index 時用 index 策略", func(t *testing.T) {
		f := NewStrategyFactory(true, repoStrategy, idxStrategy)
		assert.Equal(t, "index", f.Strategy().Name())
	})

	t.Run("index 策略沒配好時回退到 repository", func(t *testing.T) {
		f := NewStrategyFactory(true, repoStrategy, nil)
		assert.Equal(t, "repository", f.Strategy().Name())
	})
}

func TestRepositoryStrategy(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()

	t.Run("關鍵字查詢只回公開且 ready 的影片", func(t *testing.T) {
		mockRepo := new(MockVideoRepo)
		strategy := NewRepositoryStrategy(mockRepo, cache.NewMemoryCache())

		mockRepo.On("FindManyWithFilters",
			mock.MatchedBy(func(f repository.VideoFilters) bool {
				return f.Keyword == "golang" && f.PublicOnly
			}),
			repository.Pagination{Page: 1, Limit: 20},
			mock.Anything,
		).Return([]videodomain.Video{
			publicReadyVideo("v1", "golang tutorial", 300),
			publicReadyVideo("v2", "golang tips", 120),
		}, int64(2), nil)

		res, err := strategy.SearchVideos(ctx, searchdomain.SearchQuery{Query: "golang"})
		require.NoError(t, err)
		assert.Len(t, res.Data, 2)
		assert.Equal(t, int64(2), res.Total)
		assert.Equal(t, 1, res.TotalPages)
		assert.Equal(t, "golang", res.Query)
		// repository 策略沒有相關性分數
		assert.Zero(t, res.Data[0].Score)
		assert.Empty(t, res.Data[0].Highlights)
	})

	t.Run("duration 界限下推到 repository 過濾", func(t *testing.T) {
		mockRepo := new(MockVideoRepo)
		strategy := NewRepositoryStrategy(mockRepo, cache.NewMemoryCache())

		mockRepo.On("FindManyWithFilters",
			mock.MatchedBy(func(f repository.VideoFilters) bool {
				return f.MinDuration == 60 && f.MaxDuration == 3600 && f.PublicOnly
			}),
			mock.Anything, mock.Anything,
		).Return([]videodomain.Video{
			publicReadyVideo("v2", "medium", 300),
		}, int64(1), nil)

		res, err := strategy.SearchVideos(ctx, searchdomain.SearchQuery{
			Query:       "clip",
			MinDuration: 60,
			MaxDuration: 3600,
		})
		require.NoError(t, err)
		require.Len(t, res.Data, 1)
		assert.Equal(t, "v2", res.Data[0].ID)
		// total 與 data 來自同一組 WHERE 條件
		assert.Equal(t, int64(1), res.Total)
		assert.Equal(t, 1, res.TotalPages)
	})

	t.Run("totalPages 無條件進位", func(t *testing.T) {
		mockRepo := new(MockVideoRepo)
		strategy := NewRepositoryStrategy(mockRepo, cache.NewMemoryCache())

		mockRepo.On("FindManyWithFilters", mock.Anything, mock.Anything, mock.Anything).
			Return([]videodomain.Video{publicReadyVideo("v1", "a", 10)}, int64(21), nil)

		res, err := strategy.SearchVideos(ctx, searchdomain.SearchQuery{Query: "a", Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 3, res.TotalPages)
	})

	t.Run("相同查詢第二次走快取", func(t *testing.T) {
		mockRepo := new(MockVideoRepo)
		strategy := NewRepositoryStrategy(mockRepo, cache.NewMemoryCache())

		mockRepo.On("FindManyWithFilters", mock.Anything, mock.Anything, mock.Anything).
			Return([]videodomain.Video{publicReadyVideo("v1", "a", 10)}, int64(1), nil)

		q := searchdomain.SearchQuery{Query: "cached"}
		_, err := strategy.SearchVideos(ctx, q)
		require.NoError(t, err)
		res, err := strategy.SearchVideos(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Total)
		mockRepo.AssertNumberOfCalls(t, "FindManyWithFilters", 1)
	})

	t.Run("不同查詢形狀不共用快取", func(t *testing.T) {
		mockRepo := new(MockVideoRepo)
		strategy := NewRepositoryStrategy(mockRepo, cache.NewMemoryCache())

		mockRepo.On("FindManyWithFilters", mock.Anything, mock.Anything, mock.Anything).
			Return([]videodomain.Video{}, int64(0), nil)

		_, err := strategy.SearchVideos(ctx, searchdomain.SearchQuery{Query: "cats"})
		require.NoError(t, err)
		_, err = strategy.SearchVideos(ctx, searchdomain.SearchQuery{Query: "cats", CategoryID: "cat-1"})
		require.NoError(t, err)
		mockRepo.AssertNumberOfCalls(t, "FindManyWithFilters", 2)
	})
}

func TestIndexStrategy(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()

	t.Run("結果帶分數與 highlight", func(t *testing.T) {
		mockIndex := new(MockSearchIndex)
		strategy := NewIndexStrategy(mockIndex, cache.NewMemoryCache())

		uploaded := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		mockIndex.On("Search", mock.Anything, mock.Anything).
			Return([]searchdomain.IndexSearchHit{
				{
					Video: searchdomain.IndexedVideo{
						VideoID:     "v1",
						Title:       "Golang tutorial for beginners",
						Description: "Learn the basics",
						Status:      string(videodomain.VideoReady),
						Visibility:  string(videodomain.VisibilityPublic),
						Duration:    600,
						UploadedAt:  uploaded,
					},
					Score: 1.5,
				},
			}, int64(1), nil)

		res, err := strategy.SearchVideos(ctx, searchdomain.SearchQuery{Query: "golang"})
		require.NoError(t, err)
		require.Len(t, res.Data, 1)
		hit := res.Data[0]
		assert.Equal(t, "v1", hit.ID)
		assert.Equal(t, 1.5, hit.Score)
		assert.Equal(t, []string{"Golang tutorial for beginners"}, hit.Highlights)
		assert.Equal(t, videodomain.VideoReady, hit.Status)
		assert.Equal(t, float64(600), hit.Metadata.Duration)
		assert.Equal(t, uploaded, hit.CreatedAt)
	})

	t.Run("相同查詢第二次走快取", func(t *testing.T) {
		mockIndex := new(MockSearchIndex)
		strategy := NewIndexStrategy(mockIndex, cache.NewMemoryCache())

		mockIndex.On("Search", mock.Anything, mock.Anything).
			Return([]searchdomain.IndexSearchHit{}, int64(0), nil)

		q := searchdomain.SearchQuery{Query: "cached"}
		_, err := strategy.SearchVideos(ctx, q)
		require.NoError(t, err)
		_, err = strategy.SearchVideos(ctx, q)
		require.NoError(t, err)
		mockIndex.AssertNumberOfCalls(t, "Search", 1)
	})
}

func TestHighlightTerms(t *testing.T) {
	t.Run("標出含查詢詞的欄位", func(t *testing.T) {
		got := highlightTerms("golang tips", "Golang tutorial", "cooking show")
		assert.Equal(t, []string{"Golang tutorial"}, got)
	})

	t.Run("每個欄位最多出現一次", func(t *testing.T) {
		got := highlightTerms("golang tutorial", "Golang tutorial")
		assert.Equal(t, []string{"Golang tutorial"}, got)
	})

	t.Run("空查詢不標任何東西", func(t *testing.T) {
		assert.Nil(t, highlightTerms("", "Golang tutorial"))
	})
}

func TestStaticSuggestionSource(t *testing.T) {
	ctx := context.Background()

	t.Run("預設字彙依 prefix 過濾", func(t *testing.T) {
		src := NewStaticSuggestionSource(nil)
		got := src.Suggest(ctx, "co", 10)
		assert.Equal(t, []string{"cooking"}, got)
	})

	t.Run("大小寫不敏感", func(t *testing.T) {
		src := NewStaticSuggestionSource(nil)
		got := src.Suggest(ctx, "TECH", 10)
		assert.Equal(t, []string{"technology"}, got)
	})

	t.Run("limit 截斷結果", func(t *testing.T) {
		src := NewStaticSuggestionSource(nil)
		got := src.Suggest(ctx, "", 3)
		assert.Len(t, got, 3)
	})

	t.Run("自訂字彙覆蓋預設", func(t *testing.T) {
		src := NewStaticSuggestionSource([]string{"alpha", "beta"})
		got := src.Suggest(ctx, "", 10)
		assert.Equal(t, []string{"alpha", "beta"}, got)
	})
}

func newTestSearchUseCase(mockRepo *MockVideoRepo, limiter *ratelimit.Limiter) SearchUseCase {
	logger.SetNewNop()
	store := cache.NewMemoryCache()
	factory := NewStrategyFactory(false, NewRepositoryStrategy(mockRepo, store), nil)
	return NewSearchUseCase(factory, NewStaticSuggestionSource(nil), store, limiter)
}

func TestSearchUseCase(t *testing.T) {
	ctx := context.Background()

	t.Run("委派給目前的策略", func(t *testing.T) {
		mockRepo := new(MockVideoRepo)
		mockRepo.On("FindManyWithFilters", mock.Anything, mock.Anything, mock.Anything).
			Return([]videodomain.Video{publicReadyVideo("v1", "a", 10)}, int64(1), nil)
		uc := newTestSearchUseCase(mockRepo, nil)

		res, err := uc.SearchVideos(ctx, "client-1", searchdomain.SearchQuery{Query: "a"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Total)
	})

	t.Run("超過限流次數會被拒絕", func(t *testing.T) {
		mockRepo := new(MockVideoRepo)
		mockRepo.On("FindManyWithFilters", mock.Anything, mock.Anything, mock.Anything).
			Return([]videodomain.Video{}, int64(0), nil)
		limiter := ratelimit.NewLimiter(cache.NewMemoryCache(), 2, time.Minute)
		uc := newTestSearchUseCase(mockRepo, limiter)

		for i := 0; i < 2; i++ {
			_, err := uc.SearchVideos(ctx, "client-1", searchdomain.SearchQuery{Query: "a"})
			require.NoError(t, err)
		}
		_, err := uc.SearchVideos(ctx, "client-1", searchdomain.SearchQuery{Query: "a"})
		assert.ErrorIs(t, err, ErrTooManyRequests)
	})

	t.Run("限流以 identifier 區分", func(t *testing.T) {
		mockRepo := new(MockVideoRepo)
		mockRepo.On("FindManyWithFilters", mock.Anything, mock.Anything, mock.Anything).
			Return([]videodomain.Video{}, int64(0), nil)
		limiter := ratelimit.NewLimiter(cache.NewMemoryCache(), 1, time.Minute)
		uc := newTestSearchUseCase(mockRepo, limiter)

		_, err := uc.SearchVideos(ctx, "client-1", searchdomain.SearchQuery{Query: "a"})
		require.NoError(t, err)
		_, err = uc.SearchVideos(ctx, "client-2", searchdomain.SearchQuery{Query: "a"})
		require.NoError(t, err)
	})

	t.Run("search 與 suggestions 限流各自計算", func(t *testing.T) {
		mockRepo := new(MockVideoRepo)
		mockRepo.On("FindManyWithFilters", mock.Anything, mock.Anything, mock.Anything).
			Return([]videodomain.Video{}, int64(0), nil)
		limiter := ratelimit.NewLimiter(cache.NewMemoryCache(), 1, time.Minute)
		uc := newTestSearchUseCase(mockRepo, limiter)

		_, err := uc.SearchVideos(ctx, "client-1", searchdomain.SearchQuery{Query: "a"})
		require.NoError(t, err)
		_, err = uc.GetSearchSuggestions(ctx, "client-1", "co", 5)
		require.NoError(t, err)
	})
}

func TestGetSearchSuggestions(t *testing.T) {
	ctx := context.Background()

	t.Run("回傳符合的建議字", func(t *testing.T) {
		uc := newTestSearchUseCase(new(MockVideoRepo), nil)
		got, err := uc.GetSearchSuggestions(ctx, "client-1", "co", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"cooking"}, got)
	})

	t.Run("limit 未給時用預設值", func(t *testing.T) {
		uc := newTestSearchUseCase(new(MockVideoRepo), nil)
		got, err := uc.GetSearchSuggestions(ctx, "client-1", "", 0)
		require.NoError(t, err)
		assert.Len(t, got, 10)
	})

	t.Run("結果以 query+limit 快取", func(t *testing.T) {
		logger.SetNewNop()
		store := cache.NewMemoryCache()
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		store.SetClock(func() time.Time { return now })
		factory := NewStrategyFactory(false, NewRepositoryStrategy(new(MockVideoRepo), store), nil)
		uc := NewSearchUseCase(factory, NewStaticSuggestionSource(nil), store, nil)

		_, err := uc.GetSearchSuggestions(ctx, "client-1", "co", 5)
		require.NoError(t, err)

		data, err := store.Get(ctx, "search:suggestions:co:5")
		require.NoError(t, err)
		assert.Contains(t, data, "cooking")

		ttl, err := store.TTL(ctx, "search:suggestions:co:5")
		require.NoError(t, err)
		assert.Equal(t, 3600, ttl)
	})
}
