package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"video_platform_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// MaxBrokerPriority RabbitMQ x-max-priority 的上限
const MaxBrokerPriority = 10

// RabbitQueue broker 版 JobQueue。
// 訊息走 x-max-priority 佇列，耗盡重試由 default exchange DLX 導到 <queue>.dead。
// lease 由 broker 管：channel 斷線未 ack 的訊息會自動重派，
// 所以這裡不另外追 visibilityTimeout
type RabbitQueue struct {
	channel        *amqp.Channel
	retryBaseDelay time.Duration

	mu sync.Mutex
	// jobID -> 未確認的 delivery，Complete/Fail 時 ack 用
	inflight map[string]*rabbitDelivery
	declared map[string]bool

	completed int
	failed    int
}

type rabbitDelivery struct {
	delivery amqp.Delivery
	job      *Job
}

// NewRabbitQueue create a RabbitQueue
func NewRabbitQueue(channel *amqp.Channel, retryBaseDelay time.Duration) *RabbitQueue {
	if retryBaseDelay <= 0 {
		retryBaseDelay = DefaultRetryBaseDelay
	}
	return &RabbitQueue{
		channel:        channel,
		retryBaseDelay: retryBaseDelay,
		inflight:       make(map[string]*rabbitDelivery),
		declared:       make(map[string]bool),
	}
}

func deadQueueName(queueName string) string {
	return queueName + ".dead"
}

// declareQueue 宣告主佇列與 dead letter 佇列，重複宣告是冪等的
func (q *RabbitQueue) declareQueue(queueName string) error {
	q.mu.Lock()
	done := q.declared[queueName]
	q.mu.Unlock()
	if done {
		return nil
	}

	if _, err := q.channel.QueueDeclare(
		deadQueueName(queueName),
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("declare dead letter queue failed: %w", err)
	}

	if _, err := q.channel.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-max-priority":            int32(MaxBrokerPriority),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": deadQueueName(queueName),
		},
	); err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	q.mu.Lock()
	q.declared[queueName] = true
	q.mu.Unlock()
	return nil
}

func (q *RabbitQueue) publish(queueName string, job *Job, delay time.Duration) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         job.Type,
		Priority:     clampPriority(job.Priority),
		Timestamp:    time.Now(),
		Body:         job.Payload,
		Headers: amqp.Table{
			"x-attempts":     int32(job.Attempts),
			"x-max-attempts": int32(job.MaxAttempts),
			"x-job-priority": int32(job.Priority),
		},
	}
	if delay > 0 {
		// RabbitMQ 沒有原生延遲派發，退避近似成訊息層的 not-before 時間，
		// 消費端在 GetNextJob 檢查
		pub.Headers["x-not-before"] = time.Now().Add(delay).Unix()
	}
	return q.channel.Publish("", queueName, false, false, pub)
}

func clampPriority(p int) uint8 {
	if p < 0 {
		return 0
	}
	if p > MaxBrokerPriority {
		return MaxBrokerPriority
	}
	return uint8(p)
}

// AddJob 發布 job 訊息
func (q *RabbitQueue) AddJob(ctx context.Context, queueName, jobType string, payload []byte, opts JobOptions) (string, error) {
	if err := q.declareQueue(queueName); err != nil {
		return "", err
	}

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
		ScheduledAt: time.Now().Add(opts.Delay),
	}
	if err := q.publish(queueName, job, opts.Delay); err != nil {
		return "", fmt.Errorf("publish job failed: %w", err)
	}
	return job.ID, nil
}

// GetNextJob 從 broker 取一筆訊息
func (q *RabbitQueue) GetNextJob(ctx context.Context, queueName string) (*Job, error) {
	if err := q.declareQueue(queueName); err != nil {
		return nil, err
	}

	d, ok, err := q.channel.Get(queueName, false)
	if err != nil {
		return nil, fmt.Errorf("get message failed: %w", err)
	}
	if !ok {
		return nil, ErrNoJob
	}

	// 退避中的訊息先排回佇列
	if notBefore, found := d.Headers["x-not-before"]; found {
		if ts, isInt := toInt64(notBefore); isInt && time.Now().Unix() < ts {
			if err := d.Nack(false, true); err != nil {
				logger.Log.Errorf("requeue delayed message failed:", err)
			}
			return nil, ErrNoJob
		}
	}

	job := q.jobFromDelivery(queueName, d)
	job.Attempts++
	job.Status = JobProcessing
	now := time.Now()
	job.StartedAt = &now

	q.mu.Lock()
	q.inflight[job.ID] = &rabbitDelivery{delivery: d, job: job}
	q.mu.Unlock()

	out := *job
	return &out, nil
}

func (q *RabbitQueue) jobFromDelivery(queueName string, d amqp.Delivery) *Job {
	job := &Job{
		ID:          d.MessageId,
		Queue:       queueName,
		Type:        d.Type,
		Payload:     d.Body,
		Priority:    int(d.Priority),
		MaxAttempts: DefaultMaxAttempts,
		Status:      JobPending,
		ScheduledAt: d.Timestamp,
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if v, ok := toInt64(d.Headers["x-attempts"]); ok {
		job.Attempts = int(v)
	}
	if v, ok := toInt64(d.Headers["x-max-attempts"]); ok && v > 0 {
		job.MaxAttempts = int(v)
	}
	if v, ok := toInt64(d.Headers["x-job-priority"]); ok {
		job.Priority = int(v)
	}
	return job
}

// toInt64 amqp.Table 的數值型別依 client 版本不固定
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// CompleteJob ack 訊息
func (q *RabbitQueue) CompleteJob(ctx context.Context, queueName, jobID string) error {
	q.mu.Lock()
	rd, ok := q.inflight[jobID]
	if ok {
		delete(q.inflight, jobID)
		q.completed++
	}
	q.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	if err := rd.delivery.Ack(false); err != nil {
		return fmt.Errorf("ack job failed: %w", err)
	}
	return nil
}

// FailJob 耗盡重試 Nack 進 DLX，否則 ack 舊訊息並帶新 attempts 重發
func (q *RabbitQueue) FailJob(ctx context.Context, queueName, jobID string, jobErr error) error {
	q.mu.Lock()
	rd, ok := q.inflight[jobID]
	if ok {
		delete(q.inflight, jobID)
	}
	q.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}

	job := rd.job
	if jobErr != nil {
		job.ErrMsg = jobErr.Error()
	}

	if job.Attempts >= job.MaxAttempts || errors.Is(jobErr, ErrPermanent) {
		q.mu.Lock()
		q.failed++
		q.mu.Unlock()
		logger.Log.Error(fmt.Sprintf("job[%s] dead lettered after %d attempts: %s", job.ID, job.Attempts, job.ErrMsg))
		if err := rd.delivery.Nack(false, false); err != nil {
			return fmt.Errorf("dead letter job failed: %w", err)
		}
		return nil
	}

	// 重發在前，避免 ack 後 publish 失敗把 job 弄丟
	if err := q.publish(queueName, job, RetryDelay(q.retryBaseDelay, job.Attempts)); err != nil {
		// publish 失敗退回 broker 重派
		if nackErr := rd.delivery.Nack(false, true); nackErr != nil {
			logger.Log.Errorf("nack after republish failure failed:", nackErr)
		}
		return fmt.Errorf("republish job failed: %w", err)
	}
	if err := rd.delivery.Ack(false); err != nil {
		return fmt.Errorf("ack failed job failed: %w", err)
	}
	return nil
}

// DeadLetters 從 dead letter 佇列讀 job 快照，讀完 requeue 放回去
func (q *RabbitQueue) DeadLetters(ctx context.Context, queueName string) ([]Job, error) {
	if err := q.declareQueue(queueName); err != nil {
		return nil, err
	}

	var out []Job
	var deliveries []amqp.Delivery
	for {
		d, ok, err := q.channel.Get(deadQueueName(queueName), false)
		if err != nil {
			return nil, fmt.Errorf("get dead letter failed: %w", err)
		}
		if !ok {
			break
		}
		deliveries = append(deliveries, d)
		job := q.jobFromDelivery(queueName, d)
		job.Status = JobFailed
		out = append(out, *job)
	}
	for _, d := range deliveries {
		if err := d.Nack(false, true); err != nil {
			logger.Log.Errorf("requeue dead letter failed:", err)
		}
	}
	return out, nil
}

// Stats 主佇列深度問 broker，其餘計數只涵蓋本 process
func (q *RabbitQueue) Stats(ctx context.Context, queueName string) (QueueStats, error) {
	if err := q.declareQueue(queueName); err != nil {
		return QueueStats{}, err
	}

	main, err := q.channel.QueueInspect(queueName)
	if err != nil {
		return QueueStats{}, fmt.Errorf("inspect queue failed: %w", err)
	}
	dead, err := q.channel.QueueInspect(deadQueueName(queueName))
	if err != nil {
		return QueueStats{}, fmt.Errorf("inspect dead letter queue failed: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Waiting:      main.Messages,
		Active:       len(q.inflight),
		Completed:    q.completed,
		Failed:       q.failed,
		DeadLettered: dead.Messages,
	}, nil
}

// marshal helper：確保訊息 payload 一律是 JSON
func MarshalPayload(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return b, nil
}
