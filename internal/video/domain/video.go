package domain

import (
	"io"
	"time"
)

// VideoStatus definition video status
type VideoStatus string

const (
	//VideoUploaded 原始檔已入庫，尚未處理
	VideoUploaded VideoStatus = "uploaded"
	//VideoProcessing 處理管線進行中
	VideoProcessing VideoStatus = "processing"
	//VideoReady 轉碼完成可播放
	VideoReady VideoStatus = "ready"
	//VideoFailed 處理失敗，終態
	VideoFailed VideoStatus = "failed"
)

// statusRank 狀態只會往前走，數字小的不能蓋掉數字大的
var statusRank = map[VideoStatus]int{
	VideoUploaded:   0,
	VideoProcessing: 1,
	VideoReady:      2,
	VideoFailed:     2,
}

// IsTerminal ready 與 failed 是終態
func (s VideoStatus) IsTerminal() bool {
	return s == VideoReady || s == VideoFailed
}

// Visibility definition video visibility
type Visibility string

const (
	//VisibilityPublic 公開影片
	VisibilityPublic Visibility = "PUBLIC"
	//VisibilityPrivate 僅擁有者可見
	VisibilityPrivate Visibility = "PRIVATE"
)

// VideoMetadata ffprobe 萃取出的技術資訊
type VideoMetadata struct {
	Duration   float64 `json:"duration"`
	FileSize   int64   `json:"fileSize"`
	Resolution string  `json:"resolution"`
	Format     string  `json:"format"`
	Bitrate    int64   `json:"bitrate"`
}

// FilePaths 衍生檔案在物件儲存上的位置
type FilePaths struct {
	OriginalPath   string `json:"originalPath"`
	ProcessedPath  string `json:"processedPath"`
	ThumbnailURL   string `json:"thumbnailUrl"`
	PreviewGifURL  string `json:"previewGifUrl"`
	HLSPlaylistURL string `json:"hlsPlaylistUrl"`
	DashManifest   string `json:"dashManifestUrl"`
}

// VideoQuality 轉碼階梯的單一檔位
type VideoQuality struct {
	ID         string `gorm:"primaryKey" json:"id"`
	VideoID    string `gorm:"index" json:"videoId"`
	Label      string `json:"label"` // "1080p"、"720p"、"480p"
	Resolution string `json:"resolution"`
	Bitrate    int64  `json:"bitrate"`
	Path       string `json:"path"`
	FileSize   int64  `json:"fileSize"`
}

// VideoStats 觀看數等計數器，另外查出來的，不保證已載入
type VideoStats struct {
	Views     int64 `json:"views"`
	Comments  int64 `json:"comments"`
	Reactions int64 `json:"reactions"`
	Loaded    bool  `json:"-" gorm:"-"`
}

// Video 定義影片模型
type Video struct {
	ID          string `gorm:"primaryKey" json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Code        string `gorm:"uniqueIndex" json:"code"` // URL 用的唯一 slug
	UserID      string `gorm:"index" json:"userId"`
	CategoryID  string `gorm:"index" json:"categoryId"`

	Metadata   VideoMetadata `gorm:"embedded;embeddedPrefix:meta_" json:"metadata"`
	Status     VideoStatus   `gorm:"index" json:"status"`
	Visibility Visibility    `gorm:"index" json:"visibility"`
	FilePaths  FilePaths     `gorm:"embedded;embeddedPrefix:path_" json:"filePaths"`

	Qualities []VideoQuality `gorm:"foreignKey:VideoID" json:"qualities"`
	Stats     VideoStats     `gorm:"-" json:"stats"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChangeStatus 狀態機前進，不允許倒退，終態後不再變
func (v *Video) ChangeStatus(next VideoStatus) bool {
	if v.Status == next {
		return false
	}
	if v.Status.IsTerminal() {
		return false
	}
	if statusRank[next] < statusRank[v.Status] {
		return false
	}
	v.Status = next
	return true
}

// IsPlayable 公開且轉碼完成才能被其他人看
func (v *Video) IsPlayable() bool {
	return v.Visibility == VisibilityPublic && v.Status == VideoReady
}

// CanBeViewedBy 擁有者看得到自己所有影片，其他人只看 public 且 ready
func (v *Video) CanBeViewedBy(userID string) bool {
	if userID != "" && userID == v.UserID {
		return true
	}
	return v.IsPlayable()
}

// UploadVideoReq usecase upload video request
type UploadVideoReq struct {
	Title       string
	Description string
	CategoryID  string
	UserID      string
	Visibility  Visibility
	FileName    string
	MimeType    string
	Size        int64
	File        io.Reader
	Priority    int
}

// UploadVideoRes usecase upload video response
type UploadVideoRes struct {
	Message string
	VideoID string
	Code    string
}

// VideoResponse usecase 對外的影片投影
type VideoResponse struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Code        string         `json:"code"`
	UserID      string         `json:"userId"`
	CategoryID  string         `json:"categoryId"`
	Status      VideoStatus    `json:"status"`
	Visibility  Visibility     `json:"visibility"`
	Metadata    VideoMetadata  `json:"metadata"`
	FilePaths   FilePaths      `json:"filePaths"`
	Qualities   []VideoQuality `json:"qualities"`
	Stats       *VideoStats    `json:"stats,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ListVideosQuery 清單查詢條件，page 從 1 起算
type ListVideosQuery struct {
	CategoryID string
	UserID     string // filter：指定頻道
	CallerID   string // 發請求的人，決定能見度
	Page       int
	Limit      int
	SortBy     string
	SortOrder  string
}

// ListVideosRes 分頁清單結果
type ListVideosRes struct {
	Items      []VideoResponse `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"totalPages"`
}
