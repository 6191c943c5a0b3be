package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"video_platform_service/internal/video/domain"
	"video_platform_service/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// 生命週期事件的 type 欄位
const (
	EventVideoUploaded      = "video.uploaded"
	EventVideoStatusChanged = "video.status_changed"
)

// VideoEvent 發到 Kafka 的生命週期事件
type VideoEvent struct {
	Type       string             `json:"type"`
	VideoID    string             `json:"videoId"`
	Code       string             `json:"code"`
	UserID     string             `json:"userId"`
	Status     domain.VideoStatus `json:"status"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// EventPublisher definition video lifecycle event publisher
type EventPublisher interface {
	PublishVideoUploaded(ctx context.Context, video *domain.Video) error
	PublishStatusChanged(ctx context.Context, video *domain.Video) error
}

type kafkaEventPublisher struct {
	writer *kafka.Writer
}

// NewKafkaEventPublisher create EventPublisher
func NewKafkaEventPublisher(writer *kafka.Writer) EventPublisher {
	return &kafkaEventPublisher{writer: writer}
}

func (p *kafkaEventPublisher) publish(ctx context.Context, event VideoEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.VideoID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("write event failed: %w", err)
	}
	logger.Log.Debug(fmt.Sprintf("published event %s, videoID: %s", event.Type, event.VideoID))
	return nil
}

// PublishVideoUploaded 上傳完成後發事件
func (p *kafkaEventPublisher) PublishVideoUploaded(ctx context.Context, video *domain.Video) error {
	return p.publish(ctx, VideoEvent{
		Type:       EventVideoUploaded,
		VideoID:    video.ID,
		Code:       video.Code,
		UserID:     video.UserID,
		Status:     video.Status,
		OccurredAt: time.Now(),
	})
}

// PublishStatusChanged 狀態進入 ready 或 failed 時發事件
func (p *kafkaEventPublisher) PublishStatusChanged(ctx context.Context, video *domain.Video) error {
	return p.publish(ctx, VideoEvent{
		Type:       EventVideoStatusChanged,
		VideoID:    video.ID,
		Code:       video.Code,
		UserID:     video.UserID,
		Status:     video.Status,
		OccurredAt: time.Now(),
	})
}

// NopEventPublisher 測試或事件停用時用
type NopEventPublisher struct{}

// PublishVideoUploaded no-op
func (NopEventPublisher) PublishVideoUploaded(ctx context.Context, video *domain.Video) error {
	return nil
}

// PublishStatusChanged no-op
func (NopEventPublisher) PublishStatusChanged(ctx context.Context, video *domain.Video) error {
	return nil
}
