package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"offer-sync-alerts/internal/queue"
)

const jobColumns = `id,
        kind,
        payload,
        priority,
        state,
        attempts,
        max_attempts,
        backoff_ms,
        timeout_ms,
        result,
        error,
        available_at,
        locked_by,
        locked_until,
        created_at,
        updated_at,
        finished_at`

const (
	enqueueJobSQL = `INSERT INTO sync_jobs (
        id,
        kind,
        payload,
        priority,
        state,
        max_attempts,
        backoff_ms,
        timeout_ms,
        available_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,COALESCE($9, now())
    )
    RETURNING ` + jobColumns + `;`

	reapExpiredJobsSQL = `UPDATE sync_jobs
    SET state        = 'failed',
        error        = 'lease expired after final attempt',
        locked_by    = NULL,
        locked_until = NULL,
        finished_at  = now(),
        updated_at   = now()
    WHERE state = 'active'
      AND locked_until <= now()
      AND attempts >= max_attempts;`

	claimJobSQL = `UPDATE sync_jobs
    SET state        = 'active',
        attempts     = attempts + 1,
        locked_by    = $1,
        locked_until = now() + ($2::bigint * interval '1 millisecond'),
        updated_at   = now()
    WHERE id = (
        SELECT id
        FROM sync_jobs
        WHERE (state IN ('waiting', 'delayed') AND available_at <= now())
           OR (state = 'active' AND locked_until <= now() AND attempts < max_attempts)
        ORDER BY priority, seq
        FOR UPDATE SKIP LOCKED
        LIMIT 1
    )
    RETURNING ` + jobColumns + `;`

	completeJobSQL = `UPDATE sync_jobs
    SET state        = 'completed',
        result       = $2,
        error        = NULL,
        locked_by    = NULL,
        locked_until = NULL,
        finished_at  = now(),
        updated_at   = now()
    WHERE id = $1;`

	retryJobSQL = `UPDATE sync_jobs
    SET state        = 'delayed',
        error        = $2,
        available_at = $3,
        locked_by    = NULL,
        locked_until = NULL,
        updated_at   = now()
    WHERE id = $1;`

	failJobSQL = `UPDATE sync_jobs
    SET state        = 'failed',
        error        = $2,
        locked_by    = NULL,
        locked_until = NULL,
        finished_at  = now(),
        updated_at   = now()
    WHERE id = $1;`

	postponeJobSQL = `UPDATE sync_jobs
    SET state        = 'delayed',
        attempts     = GREATEST(attempts - 1, 0),
        available_at = $2,
        locked_by    = NULL,
        locked_until = NULL,
        updated_at   = now()
    WHERE id = $1;`

	countJobsSQL = `SELECT state, COUNT(*) FROM sync_jobs GROUP BY state;`
)

// EnqueueJob stores a new job.
func (s *Store) EnqueueJob(ctx context.Context, job queue.Job) (queue.Job, error) {
	pool, err := s.getPool()
	if err != nil {
		return queue.Job{}, err
	}

	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return queue.Job{}, fmt.Errorf("encode job payload: %w", err)
	}

	var availableAt *time.Time
	if !job.AvailableAt.IsZero() {
		availableAt = &job.AvailableAt
	}

	row := pool.QueryRow(ctx, enqueueJobSQL,
		job.ID,
		string(job.Kind),
		payload,
		job.Priority,
		string(job.State),
		job.MaxAttempts,
		job.Backoff.Milliseconds(),
		job.Timeout.Milliseconds(),
		availableAt,
	)
	stored, err := scanJob(row)
	if err != nil {
		return queue.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return stored, nil
}

// ClaimJob fails jobs whose final lease lapsed, then leases the next runnable job.
func (s *Store) ClaimJob(ctx context.Context, workerID string, lease time.Duration) (*queue.Job, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, reapExpiredJobsSQL); err != nil {
		return nil, fmt.Errorf("reap expired jobs: %w", err)
	}

	job, err := scanJob(pool.QueryRow(ctx, claimJobSQL, workerID, lease.Milliseconds()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// CompleteJob records the result of a successful run.
func (s *Store) CompleteJob(ctx context.Context, id string, res queue.Result) error {
	encoded, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	return s.updateJob(ctx, "complete job", completeJobSQL, id, encoded)
}

// RetryJob schedules another attempt at availableAt.
func (s *Store) RetryJob(ctx context.Context, id, errMsg string, availableAt time.Time) error {
	return s.updateJob(ctx, "retry job", retryJobSQL, id, errMsg, availableAt)
}

// FailJob marks the job failed for good.
func (s *Store) FailJob(ctx context.Context, id, errMsg string) error {
	return s.updateJob(ctx, "fail job", failJobSQL, id, errMsg)
}

// PostponeJob returns the job to the queue and refunds the attempt.
func (s *Store) PostponeJob(ctx context.Context, id string, availableAt time.Time) error {
	return s.updateJob(ctx, "postpone job", postponeJobSQL, id, availableAt)
}

// CountJobs reports queue depth by state.
func (s *Store) CountJobs(ctx context.Context) (queue.Counts, error) {
	pool, err := s.getPool()
	if err != nil {
		return queue.Counts{}, err
	}

	rows, queryErr := pool.Query(ctx, countJobsSQL)
	if queryErr != nil {
		return queue.Counts{}, fmt.Errorf("count jobs: %w", queryErr)
	}
	defer rows.Close()

	var counts queue.Counts
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return queue.Counts{}, err
		}
		switch queue.State(state) {
		case queue.StateWaiting:
			counts.Waiting = n
		case queue.StateActive:
			counts.Active = n
		case queue.StateCompleted:
			counts.Completed = n
		case queue.StateFailed:
			counts.Failed = n
		case queue.StateDelayed:
			counts.Delayed = n
		}
	}
	if rows.Err() != nil {
		return queue.Counts{}, rows.Err()
	}
	return counts, nil
}

func (s *Store) updateJob(ctx context.Context, op, sql string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, sql, args...)
	if execErr != nil {
		return fmt.Errorf("%s: %w", op, execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, queue.ErrJobNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (queue.Job, error) {
	var (
		job       queue.Job
		kind      string
		state     string
		payload   []byte
		result    []byte
		errMsg    *string
		lockedBy  *string
		backoffMs int64
		timeoutMs int64
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&payload,
		&job.Priority,
		&state,
		&job.Attempts,
		&job.MaxAttempts,
		&backoffMs,
		&timeoutMs,
		&result,
		&errMsg,
		&job.AvailableAt,
		&lockedBy,
		&job.LockedUntil,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.FinishedAt,
	); err != nil {
		return queue.Job{}, err
	}

	job.Kind = queue.Kind(kind)
	job.State = queue.State(state)
	job.Backoff = time.Duration(backoffMs) * time.Millisecond
	job.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if errMsg != nil {
		job.Error = *errMsg
	}
	if lockedBy != nil {
		job.LockedBy = *lockedBy
	}
	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		return queue.Job{}, fmt.Errorf("decode job payload: %w", err)
	}
	if len(result) > 0 {
		var res queue.Result
		if err := json.Unmarshal(result, &res); err != nil {
			return queue.Job{}, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &res
	}
	return job, nil
}

var _ queue.Backend = (*Store)(nil)
