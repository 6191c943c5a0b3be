package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoJob 佇列已空，呼叫端應退避輪詢而非busy-spin
	ErrNoJob = errors.New("no job available")
	// ErrJobNotFound jobID 不在處理中集合（可能已被 lease 回收）
	ErrJobNotFound = errors.New("job not found")
	// ErrPermanent FailJob 收到帶這個錯的 job 不重試，直接進 dead letter
	ErrPermanent = errors.New("permanent job failure")
)

// JobStatus definition job status
type JobStatus string

const (
	// JobPending job 等待派發
	JobPending JobStatus = "pending"
	// JobProcessing job 已派發未確認
	JobProcessing JobStatus = "processing"
	// JobCompleted job 處理完成
	JobCompleted JobStatus = "completed"
	// JobFailed job 重試耗盡，進 dead letter
	JobFailed JobStatus = "failed"
	// JobCancelled job 被取消
	JobCancelled JobStatus = "cancelled"
)

const (
	// DefaultMaxAttempts 預設重試上限
	DefaultMaxAttempts = 3
	// DefaultVisibilityTimeout 取出後未 ack 的重派時限
	DefaultVisibilityTimeout = 30 * time.Second
	// DefaultRetryBaseDelay 重試退避基礎延遲
	DefaultRetryBaseDelay = 10 * time.Second
	// MaxRetryDelay 退避上限
	MaxRetryDelay = 5 * time.Minute
)

// Job 一個非同步處理工作
type Job struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Type        string     `json:"type"`
	Payload     []byte     `json:"payload"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Status      JobStatus  `json:"status"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrMsg      string     `json:"error_message,omitempty"`
}

// JobOptions definition add job options
type JobOptions struct {
	Priority    int
	MaxAttempts int
	Delay       time.Duration
}

// QueueStats definition queue statistics
type QueueStats struct {
	Waiting      int
	Active       int
	Completed    int
	Failed       int
	DeadLettered int
}

// JobQueue 具名佇列的持久工作佇列。
// 同一佇列內依 priority 降序派發，同 priority 維持 FIFO。
// GetNextJob 在併發下保證同一 job 至多派發一次；取出後必須
// CompleteJob 或 FailJob 確認，逾時未確認的 job 會重新派發。
type JobQueue interface {
	AddJob(ctx context.Context, queueName, jobType string, payload []byte, opts JobOptions) (string, error)
	GetNextJob(ctx context.Context, queueName string) (*Job, error)
	CompleteJob(ctx context.Context, queueName, jobID string) error
	// FailJob 未耗盡重試的 job 退避後排回同 priority band 的尾端，
	// 耗盡的進 dead letter
	FailJob(ctx context.Context, queueName, jobID string, jobErr error) error
	DeadLetters(ctx context.Context, queueName string) ([]Job, error)
	Stats(ctx context.Context, queueName string) (QueueStats, error)
}

// RetryDelay 指數退避：base × attempt，封頂 MaxRetryDelay
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultRetryBaseDelay
	}
	d := base * time.Duration(attempt)
	if d > MaxRetryDelay {
		return MaxRetryDelay
	}
	return d
}
