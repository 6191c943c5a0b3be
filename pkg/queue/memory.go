package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"video_platform_service/pkg/logger"

	"github.com/google/uuid"
)

type memoryJob struct {
	job *Job
	// seq 插入序號，同 priority 用它維持 FIFO；重試時換新序號排回尾端
	seq uint64
}

type inflightJob struct {
	job           *Job
	leaseDeadline time.Time
}

type memoryQueueState struct {
	pending   []*memoryJob
	inflight  map[string]*inflightJob
	dead      []*Job
	completed int
	failed    int
}

// MemoryQueue in-memory JobQueue。單一 mutex 保證 GetNextJob 的
// at-most-once 派發；lease 到期的 job 在下次操作時惰性回收
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]*memoryQueueState
	seq    uint64

	visibilityTimeout time.Duration
	retryBaseDelay    time.Duration

	// now 可替換，測試時模擬時鐘
	now func() time.Time
}

// NewMemoryQueue create a MemoryQueue
func NewMemoryQueue(visibilityTimeout, retryBaseDelay time.Duration) *MemoryQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = DefaultVisibilityTimeout
	}
	if retryBaseDelay <= 0 {
		retryBaseDelay = DefaultRetryBaseDelay
	}
	return &MemoryQueue{
		queues:            make(map[string]*memoryQueueState),
		visibilityTimeout: visibilityTimeout,
		retryBaseDelay:    retryBaseDelay,
		now:               time.Now,
	}
}

// SetClock 測試用，替換時鐘
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) state(queueName string) *memoryQueueState {
	s, ok := q.queues[queueName]
	if !ok {
		s = &memoryQueueState{inflight: make(map[string]*inflightJob)}
		q.queues[queueName] = s
	}
	return s
}

// AddJob 插入 job，佇列內維持 priority 降序、同 priority FIFO
func (q *MemoryQueue) AddJob(ctx context.Context, queueName, jobType string, payload []byte, opts JobOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	job := &Job{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     payload,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		Status:      JobPending,
		ScheduledAt: q.now().Add(opts.Delay),
	}

	q.push(q.state(queueName), job)

	logger.Log.Debug(fmt.Sprintf("job[%s] type[%s] added to queue[%s]", job.ID, jobType, queueName))
	return job.ID, nil
}

// push 進佇列並重排。sort.SliceStable 保證同 priority 維持插入順序
func (q *MemoryQueue) push(s *memoryQueueState, job *Job) {
	q.seq++
	s.pending = append(s.pending, &memoryJob{job: job, seq: q.seq})
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].job.Priority > s.pending[j].job.Priority
	})
}

// reapExpiredLeases lease 到期未確認的 job 排回原 priority band 尾端
func (q *MemoryQueue) reapExpiredLeases(s *memoryQueueState) {
	now := q.now()
	for id, inf := range s.inflight {
		if now.After(inf.leaseDeadline) {
			delete(s.inflight, id)
			inf.job.Status = JobPending
			q.push(s, inf.job)
			logger.Log.Warn(fmt.Sprintf("job[%s] lease expired, requeued", id))
		}
	}
}

// GetNextJob 取出最高 priority、同 priority 最早進佇列且已到排程時間的 job
func (q *MemoryQueue) GetNextJob(ctx context.Context, queueName string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.state(queueName)
	q.reapExpiredLeases(s)

	now := q.now()
	for i, mj := range s.pending {
		if mj.job.ScheduledAt.After(now) {
			// 延遲 job 還沒到時間，看下一個
			continue
		}

		s.pending = append(s.pending[:i], s.pending[i+1:]...)

		job := mj.job
		job.Attempts++
		job.Status = JobProcessing
		started := now
		job.StartedAt = &started

		s.inflight[job.ID] = &inflightJob{
			job:           job,
			leaseDeadline: now.Add(q.visibilityTimeout),
		}

		cp := *job
		return &cp, nil
	}

	return nil, ErrNoJob
}

// CompleteJob 確認 job 處理完成
func (q *MemoryQueue) CompleteJob(ctx context.Context, queueName, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.state(queueName)
	inf, ok := s.inflight[jobID]
	if !ok {
		return ErrJobNotFound
	}

	delete(s.inflight, jobID)
	inf.job.Status = JobCompleted
	done := q.now()
	inf.job.CompletedAt = &done
	s.completed++

	logger.Log.Debug(fmt.Sprintf("job[%s] completed in queue[%s]", jobID, queueName))
	return nil
}

// FailJob 未耗盡重試的排回 band 尾端並退避，耗盡的進 dead letter
func (q *MemoryQueue) FailJob(ctx context.Context, queueName, jobID string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.state(queueName)
	inf, ok := s.inflight[jobID]
	if !ok {
		return ErrJobNotFound
	}
	delete(s.inflight, jobID)

	job := inf.job
	if jobErr != nil {
		job.ErrMsg = jobErr.Error()
	}

	if job.Attempts >= job.MaxAttempts || errors.Is(jobErr, ErrPermanent) {
		job.Status = JobFailed
		done := q.now()
		job.CompletedAt = &done
		s.dead = append(s.dead, job)
		s.failed++
		logger.Log.Error(fmt.Sprintf("job[%s] dead lettered after %d attempts: %s", jobID, job.Attempts, job.ErrMsg))
		return nil
	}

	job.Status = JobPending
	job.StartedAt = nil
	job.ScheduledAt = q.now().Add(RetryDelay(q.retryBaseDelay, job.Attempts))
	q.push(s, job)

	logger.Log.Warn(fmt.Sprintf("job[%s] failed (attempt %d/%d), requeued: %s", jobID, job.Attempts, job.MaxAttempts, job.ErrMsg))
	return nil
}

// DeadLetters 回 dead letter 區的 job 快照
func (q *MemoryQueue) DeadLetters(ctx context.Context, queueName string) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.state(queueName)
	out := make([]Job, 0, len(s.dead))
	for _, j := range s.dead {
		out = append(out, *j)
	}
	return out, nil
}

// Stats 回佇列統計
func (q *MemoryQueue) Stats(ctx context.Context, queueName string) (QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.state(queueName)
	return QueueStats{
		Waiting:      len(s.pending),
		Active:       len(s.inflight),
		Completed:    s.completed,
		Failed:       s.failed,
		DeadLettered: len(s.dead),
	}, nil
}
