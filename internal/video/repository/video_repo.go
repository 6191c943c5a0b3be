package repository

import (
	"errors"
	"fmt"
	"strings"

	"video_platform_service/internal/video/domain"
	errprocess "video_platform_service/pkg/err"

	"gorm.io/gorm"
)

// VideoFilters findManyWithFilters 的組合條件。
// CallerID 非空時套用能見度 OR：自己的全部影片，或別人 public 且 ready 的
type VideoFilters struct {
	CategoryID string
	UserID     string
	Status     domain.VideoStatus
	Visibility domain.Visibility
	Keyword    string
	CallerID   string
	PublicOnly bool // true 時只回 public+ready，匿名讀路徑用

	// 片長區間（秒），0 表示不設界
	MinDuration float64
	MaxDuration float64
}

// Pagination page 從 1 起算
type Pagination struct {
	Page  int
	Limit int
}

// Sort 排序欄位白名單外的輸入回退到 created_at
type Sort struct {
	Field string
	Desc  bool
}

// VideoRepo definition video repo
type VideoRepo interface {
	AutoMigrate() error
	Create(video *domain.Video) error
	Save(video *domain.Video) error
	Delete(id string) error
	GetByID(id string) (*domain.Video, error)
	GetByCode(code string) (*domain.Video, error)
	CodeExists(code string) (bool, error)
	FindManyWithFilters(filters VideoFilters, page Pagination, sort Sort) ([]domain.Video, int64, error)
}

type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepo create VideoRepo
func NewVideoRepo(db *gorm.DB) VideoRepo {
	return &videoRepo{db: db}
}

// AutoMigrate 依模型建立或更新資料表
func (r *videoRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.Video{}, &domain.VideoQuality{})
}

// Create insert video
func (r *videoRepo) Create(video *domain.Video) error {
	return r.db.Create(video).Error
}

// Save 全欄位更新，qualities 一併覆蓋
func (r *videoRepo) Save(video *domain.Video) error {
	return r.db.Session(&gorm.Session{FullSaveAssociations: true}).Save(video).Error
}

// Delete 連同 qualities 一起刪
func (r *videoRepo) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", id).Delete(&domain.VideoQuality{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Video{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errprocess.NotFound(fmt.Sprintf("video[%s]", id))
		}
		return nil
	})
}

// GetByID get Video by id
func (r *videoRepo) GetByID(id string) (*domain.Video, error) {
	var v domain.Video
	if err := r.db.Preload("Qualities").First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errprocess.NotFound(fmt.Sprintf("video[%s]", id))
		}
		return nil, err
	}
	return &v, nil
}

// GetByCode get Video by code slug
func (r *videoRepo) GetByCode(code string) (*domain.Video, error) {
	var v domain.Video
	if err := r.db.Preload("Qualities").First(&v, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errprocess.NotFound(fmt.Sprintf("video code[%s]", code))
		}
		return nil, err
	}
	return &v, nil
}

// CodeExists slug 碰撞檢查用
func (r *videoRepo) CodeExists(code string) (bool, error) {
	var count int64
	if err := r.db.Model(&domain.Video{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// 排序欄位白名單，防 SQL injection
var sortFields = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"title":     "title",
	"duration":  "meta_duration",
}

// FindManyWithFilters 組合條件查詢，回傳符合的分頁與總數
func (r *videoRepo) FindManyWithFilters(filters VideoFilters, page Pagination, sort Sort) ([]domain.Video, int64, error) {
	q := r.db.Model(&domain.Video{})

	if filters.CategoryID != "" {
		q = q.Where("category_id = ?", filters.CategoryID)
	}
	if filters.UserID != "" {
		q = q.Where("user_id = ?", filters.UserID)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Visibility != "" {
		q = q.Where("visibility = ?", filters.Visibility)
	}
	if filters.Keyword != "" {
		like := "%" + strings.TrimSpace(filters.Keyword) + "%"
		q = q.Where("(title ILIKE ? OR description ILIKE ?)", like, like)
	}
	if filters.MinDuration > 0 {
		q = q.Where("meta_duration >= ?", filters.MinDuration)
	}
	if filters.MaxDuration > 0 {
		q = q.Where("meta_duration <= ?", filters.MaxDuration)
	}

	// 能見度：匿名只看 public+ready，登入的人多看得到自己的全部
	switch {
	case filters.CallerID != "":
		q = q.Where("(user_id = ? OR (visibility = ? AND status = ?))",
			filters.CallerID, domain.VisibilityPublic, domain.VideoReady)
	case filters.PublicOnly:
		q = q.Where("visibility = ? AND status = ?", domain.VisibilityPublic, domain.VideoReady)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	field, ok := sortFields[sort.Field]
	if !ok {
		field = "created_at"
	}
	direction := "ASC"
	if sort.Desc {
		direction = "DESC"
	}

	if page.Page < 1 {
		page.Page = 1
	}
	if page.Limit < 1 {
		page.Limit = 20
	}

	var videos []domain.Video
	if err := q.Preload("Qualities").
		Order(fmt.Sprintf("%s %s", field, direction)).
		Offset((page.Page - 1) * page.Limit).
		Limit(page.Limit).
		Find(&videos).Error; err != nil {
		return nil, 0, err
	}
	return videos, total, nil
}
