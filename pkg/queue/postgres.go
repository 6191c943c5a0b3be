package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video_platform_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PostgresQueue durable JobQueue backed by postgreSQL。
// 派發用 FOR UPDATE SKIP LOCKED，多個 worker 同佇列取 job 不會重複
type PostgresQueue struct {
	pool *pgxpool.Pool

	visibilityTimeout time.Duration
	retryBaseDelay    time.Duration
}

// NewPostgresQueue create a PostgresQueue
func NewPostgresQueue(pool *pgxpool.Pool, visibilityTimeout, retryBaseDelay time.Duration) *PostgresQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = DefaultVisibilityTimeout
	}
	if retryBaseDelay <= 0 {
		retryBaseDelay = DefaultRetryBaseDelay
	}
	return &PostgresQueue{
		pool:              pool,
		visibilityTimeout: visibilityTimeout,
		retryBaseDelay:    retryBaseDelay,
	}
}

// Migrate 建立佇列資料表
func (q *PostgresQueue) Migrate(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS processing_jobs (
			id UUID PRIMARY KEY,
			queue_name TEXT NOT NULL,
			job_type TEXT NOT NULL,
			payload BYTEA,
			priority INT NOT NULL DEFAULT 0,
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			status TEXT NOT NULL DEFAULT 'pending',
			seq BIGSERIAL,
			scheduled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			lease_expires_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error_message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_processing_jobs_dequeue
			ON processing_jobs (queue_name, status, priority DESC, seq);
	`)
	return err
}

// AddJob 插入 job
func (q *PostgresQueue) AddJob(ctx context.Context, queueName, jobType string, payload []byte, opts JobOptions) (string, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	id := uuid.New().String()
	_, err := q.pool.Exec(ctx, `
		INSERT INTO processing_jobs (id, queue_name, job_type, payload, priority, max_attempts, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, now() + $7::interval)`,
		id, queueName, jobType, payload, opts.Priority, maxAttempts,
		fmt.Sprintf("%f seconds", opts.Delay.Seconds()),
	)
	if err != nil {
		return "", fmt.Errorf("insert job failed: %w", err)
	}
	return id, nil
}

// GetNextJob 先回收 lease 到期的 job，再用 SKIP LOCKED 取 head
func (q *PostgresQueue) GetNextJob(ctx context.Context, queueName string) (*Job, error) {
	// lease 到期未確認的 job 重派
	if _, err := q.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'pending', lease_expires_at = NULL, started_at = NULL
		WHERE queue_name = $1 AND status = 'processing' AND lease_expires_at < now()`,
		queueName,
	); err != nil {
		logger.Log.Errorf("requeue expired leases failed:", err)
	}

	row := q.pool.QueryRow(ctx, `
		UPDATE processing_jobs
		SET status = 'processing',
			attempts = attempts + 1,
			started_at = now(),
			lease_expires_at = now() + $2::interval
		WHERE id = (
			SELECT id FROM processing_jobs
			WHERE queue_name = $1 AND status = 'pending' AND scheduled_at <= now()
			ORDER BY priority DESC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue_name, job_type, payload, priority, attempts, max_attempts, status, scheduled_at, started_at, error_message`,
		queueName, fmt.Sprintf("%f seconds", q.visibilityTimeout.Seconds()),
	)

	var job Job
	var errMsg *string
	err := row.Scan(&job.ID, &job.Queue, &job.Type, &job.Payload, &job.Priority,
		&job.Attempts, &job.MaxAttempts, &job.Status, &job.ScheduledAt, &job.StartedAt, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue failed: %w", err)
	}
	if errMsg != nil {
		job.ErrMsg = *errMsg
	}
	return &job, nil
}

// CompleteJob 確認 job 處理完成
func (q *PostgresQueue) CompleteJob(ctx context.Context, queueName, jobID string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'completed', completed_at = now(), lease_expires_at = NULL
		WHERE id = $1 AND queue_name = $2 AND status = 'processing'`,
		jobID, queueName,
	)
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// FailJob 未耗盡重試的排回 pending 並退避，耗盡的標成 failed 留作 dead letter
func (q *PostgresQueue) FailJob(ctx context.Context, queueName, jobID string, jobErr error) error {
	errMsg := ""
	if jobErr != nil {
		errMsg = jobErr.Error()
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var attempts, maxAttempts int
	err = tx.QueryRow(ctx, `
		SELECT attempts, max_attempts FROM processing_jobs
		WHERE id = $1 AND queue_name = $2 AND status = 'processing'
		FOR UPDATE`,
		jobID, queueName,
	).Scan(&attempts, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("load job failed: %w", err)
	}

	if attempts >= maxAttempts || errors.Is(jobErr, ErrPermanent) {
		if _, err := tx.Exec(ctx, `
			UPDATE processing_jobs
			SET status = 'failed', completed_at = now(), lease_expires_at = NULL, error_message = $3
			WHERE id = $1 AND queue_name = $2`,
			jobID, queueName, errMsg,
		); err != nil {
			return fmt.Errorf("dead letter job failed: %w", err)
		}
		logger.Log.Error(fmt.Sprintf("job[%s] dead lettered after %d attempts: %s", jobID, attempts, errMsg))
		return tx.Commit(ctx)
	}

	delay := RetryDelay(q.retryBaseDelay, attempts)
	// 換新 seq 排回同 priority band 的尾端
	if _, err := tx.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'pending',
			started_at = NULL,
			lease_expires_at = NULL,
			error_message = $3,
			scheduled_at = now() + $4::interval,
			seq = nextval(pg_get_serial_sequence('processing_jobs', 'seq'))
		WHERE id = $1 AND queue_name = $2`,
		jobID, queueName, errMsg, fmt.Sprintf("%f seconds", delay.Seconds()),
	); err != nil {
		return fmt.Errorf("requeue job failed: %w", err)
	}
	return tx.Commit(ctx)
}

// DeadLetters 回 dead letter 區的 job
func (q *PostgresQueue) DeadLetters(ctx context.Context, queueName string) ([]Job, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, queue_name, job_type, payload, priority, attempts, max_attempts, status, scheduled_at, started_at, completed_at, error_message
		FROM processing_jobs
		WHERE queue_name = $1 AND status = 'failed'
		ORDER BY completed_at`,
		queueName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var job Job
		var errMsg *string
		if err := rows.Scan(&job.ID, &job.Queue, &job.Type, &job.Payload, &job.Priority,
			&job.Attempts, &job.MaxAttempts, &job.Status, &job.ScheduledAt, &job.StartedAt, &job.CompletedAt, &errMsg); err != nil {
			return nil, err
		}
		if errMsg != nil {
			job.ErrMsg = *errMsg
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Stats 回佇列統計
func (q *PostgresQueue) Stats(ctx context.Context, queueName string) (QueueStats, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT status, count(*) FROM processing_jobs
		WHERE queue_name = $1
		GROUP BY status`,
		queueName,
	)
	if err != nil {
		return QueueStats{}, err
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return QueueStats{}, err
		}
		switch JobStatus(status) {
		case JobPending:
			stats.Waiting = count
		case JobProcessing:
			stats.Active = count
		case JobCompleted:
			stats.Completed = count
		case JobFailed:
			stats.Failed = count
			stats.DeadLettered = count
		}
	}
	return stats, rows.Err()
}
