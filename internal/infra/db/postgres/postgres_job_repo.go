package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.PipelineJob) error {
	job.UpdatedAt = time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = model.DefaultMaxAttempts
	}

	const q = `
INSERT INTO pipeline_jobs (id, thread_id, trigger_message_id, status, attempts, max_attempts, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8);`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.ThreadID, job.TriggerMessageID, job.Status, job.Attempts, job.MaxAttempts, job.CreatedAt, job.UpdatedAt)
	return err
}

// ClaimNext is the single cross-process coordination point: one UPDATE over a
// FOR UPDATE SKIP LOCKED subselect flips eligible rows to processing and
// returns them. Concurrent claimers each receive a disjoint set.
func (r *jobRepo) ClaimNext(ctx context.Context, limit int) ([]*model.PipelineJob, error) {
	if limit <= 0 {
		limit = 1
	}

	const q = `
UPDATE pipeline_jobs j
SET status = 'processing',
    attempts = j.attempts + 1,
    claimed_at = now(),
    updated_at = now()
FROM (
    SELECT id FROM pipeline_jobs
    WHERE status = 'pending' AND attempts < max_attempts
    ORDER BY created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
) eligible
WHERE j.id = eligible.id
RETURNING j.id, j.thread_id, COALESCE(j.trigger_message_id::text, ''), j.status, j.attempts, j.max_attempts,
    COALESCE(j.gatekeeper_action, ''), COALESCE(j.result_json::text, ''), COALESCE(j.error_message, ''),
    j.claimed_at, j.completed_at, j.created_at, j.updated_at;`

	rows, err := pickRows(ctx, r.pool, nil, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PipelineJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *jobRepo) MarkCompleted(ctx context.Context, tx repository.Tx, jobID, gatekeeperAction, resultJSON string) error {
	const q = `
UPDATE pipeline_jobs
SET status = 'completed', gatekeeper_action = $2, result_json = $3::jsonb,
    completed_at = now(), updated_at = now()
WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, jobID, gatekeeperAction, resultJSON)
	return err
}

func (r *jobRepo) MarkWaitingForInput(ctx context.Context, tx repository.Tx, jobID, gatekeeperAction, resultJSON string) error {
	const q = `
UPDATE pipeline_jobs
SET status = 'waiting_for_input', gatekeeper_action = $2, result_json = $3::jsonb,
    completed_at = now(), updated_at = now()
WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, jobID, gatekeeperAction, resultJSON)
	return err
}

// MarkFailed returns the row to pending while attempts remain (retryable
// path), otherwise parks it in the terminal failed state. A retryable row is
// canceled instead of requeued when a newer pending or processing job exists
// for the thread, so a retry can never run beside its successor.
func (r *jobRepo) MarkFailed(ctx context.Context, tx repository.Tx, jobID, errMsg string, retryable bool) error {
	const q = `
UPDATE pipeline_jobs j
SET status = CASE
        WHEN NOT ($3 AND j.attempts < j.max_attempts) THEN 'failed'
        WHEN sib.superseded THEN 'canceled'
        ELSE 'pending'
    END,
    error_message = CASE
        WHEN $3 AND j.attempts < j.max_attempts AND sib.superseded THEN 'superseded by newer job'
        ELSE $2
    END,
    completed_at = CASE WHEN $3 AND j.attempts < j.max_attempts AND NOT sib.superseded THEN NULL ELSE now() END,
    updated_at = now()
FROM (
    SELECT EXISTS (
        SELECT 1
        FROM pipeline_jobs n
        JOIN pipeline_jobs cur ON cur.id = $1
        WHERE n.thread_id = cur.thread_id
          AND n.status IN ('pending', 'processing')
          AND (n.created_at > cur.created_at OR (n.created_at = cur.created_at AND n.id > cur.id))
    ) AS superseded
) sib
WHERE j.id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, jobID, errMsg, retryable)
	return err
}

func (r *jobRepo) MarkCanceled(ctx context.Context, tx repository.Tx, jobID, reason string) error {
	const q = `
UPDATE pipeline_jobs
SET status = 'canceled', error_message = $2, completed_at = now(), updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed');`
	_, err := execSQL(ctx, r.pool, tx, q, jobID, reason)
	return err
}

// CancelStaleForThread cancels pending rows for the thread that were created
// before newerThanJobID. Rows a worker already claimed run to completion.
func (r *jobRepo) CancelStaleForThread(ctx context.Context, tx repository.Tx, threadID, newerThanJobID string) (int, error) {
	const q = `
UPDATE pipeline_jobs
SET status = 'canceled', error_message = 'superseded by newer job', completed_at = now(), updated_at = now()
WHERE thread_id = $1
  AND status = 'pending'
  AND id <> $2
  AND created_at <= (SELECT created_at FROM pipeline_jobs WHERE id = $2);`
	tag, err := execSQL(ctx, r.pool, tx, q, threadID, newerThanJobID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ReclaimStuck sweeps processing rows whose lease expired: back to pending
// while attempts remain, failed otherwise. Skip-locked so it never touches a
// row a live worker still holds inside a claim transaction. A reclaimed row
// with a newer pending or processing sibling is canceled, same as MarkFailed.
func (r *jobRepo) ReclaimStuck(ctx context.Context, lease time.Duration) ([]string, error) {
	const q = `
UPDATE pipeline_jobs j
SET status = CASE
        WHEN j.attempts >= j.max_attempts THEN 'failed'
        WHEN stuck.superseded THEN 'canceled'
        ELSE 'pending'
    END,
    error_message = CASE
        WHEN j.attempts >= j.max_attempts THEN 'processing lease expired'
        WHEN stuck.superseded THEN 'superseded by newer job'
        ELSE j.error_message
    END,
    claimed_at = NULL,
    completed_at = CASE WHEN j.attempts >= j.max_attempts OR stuck.superseded THEN now() ELSE j.completed_at END,
    updated_at = now()
FROM (
    SELECT s.id,
        EXISTS (
            SELECT 1 FROM pipeline_jobs n
            WHERE n.thread_id = s.thread_id
              AND n.status IN ('pending', 'processing')
              AND (n.created_at > s.created_at OR (n.created_at = s.created_at AND n.id > s.id))
        ) AS superseded
    FROM pipeline_jobs s
    WHERE s.status = 'processing' AND s.claimed_at < now() - $1::interval
    FOR UPDATE OF s SKIP LOCKED
) stuck
WHERE j.id = stuck.id
RETURNING j.thread_id;`

	rows, err := pickRows(ctx, r.pool, nil, q, lease.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threadIDs []string
	for rows.Next() {
		var tid string
		if err := rows.Scan(&tid); err != nil {
			return nil, err
		}
		threadIDs = append(threadIDs, tid)
	}
	return threadIDs, rows.Err()
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PipelineJob, error) {
	const q = `
SELECT id, thread_id, COALESCE(trigger_message_id::text, ''), status, attempts, max_attempts,
    COALESCE(gatekeeper_action, ''), COALESCE(result_json::text, ''), COALESCE(error_message, ''),
    claimed_at, completed_at, created_at, updated_at
FROM pipeline_jobs WHERE id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) CountByStatus(ctx context.Context) ([]model.JobStats, error) {
	const q = `
SELECT status, count(*), min(created_at), max(created_at)
FROM pipeline_jobs
GROUP BY status
ORDER BY status;`

	rows, err := pickRows(ctx, r.pool, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.JobStats
	for rows.Next() {
		var s model.JobStats
		var status string
		if err := rows.Scan(&status, &s.Count, &s.Oldest, &s.Newest); err != nil {
			return nil, err
		}
		s.Status = model.JobStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*model.PipelineJob, error) {
	var job model.PipelineJob
	var status string
	err := row.Scan(
		&job.ID, &job.ThreadID, &job.TriggerMessageID, &status, &job.Attempts, &job.MaxAttempts,
		&job.GatekeeperAction, &job.ResultJSON, &job.ErrorMessage,
		&job.ClaimedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	return &job, nil
}
