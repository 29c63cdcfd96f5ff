package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/repository"
)

var _ repository.ThreadRepository = (*threadRepo)(nil)

type threadRepo struct {
	pool *pgxpool.Pool
}

func NewThreadRepo(pool *pgxpool.Pool) *threadRepo {
	return &threadRepo{pool: pool}
}

func (r *threadRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Thread, error) {
	const q = `
SELECT id, status, thread_state, ai_processing_since, created_at, updated_at
FROM threads WHERE id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	var t model.Thread
	var status string
	var stateJSON []byte
	if err := row.Scan(&t.ID, &status, &stateJSON, &t.AIProcessingSince, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	t.Status = model.ThreadStatus(status)
	if len(stateJSON) > 0 {
		st := model.NewThreadState()
		if err := json.Unmarshal(stateJSON, st); err == nil {
			t.State = st
		}
	}
	return &t, nil
}

func (r *threadRepo) Save(ctx context.Context, tx repository.Tx, thread *model.Thread) error {
	thread.UpdatedAt = time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = thread.UpdatedAt
	}

	var stateJSON []byte
	if thread.State != nil {
		b, err := json.Marshal(thread.State)
		if err != nil {
			return err
		}
		stateJSON = b
	}

	const q = `
INSERT INTO threads (id, status, thread_state, ai_processing_since, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  thread_state = EXCLUDED.thread_state,
  ai_processing_since = EXCLUDED.ai_processing_since,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		thread.ID, thread.Status, stateJSON, thread.AIProcessingSince, thread.CreatedAt, thread.UpdatedAt)
	return err
}

func (r *threadRepo) UpdateStateStatus(ctx context.Context, tx repository.Tx, id string, status model.ThreadStatus, state *model.ThreadState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	const q = `
UPDATE threads SET status = $2, thread_state = $3::jsonb, updated_at = now()
WHERE id = $1;`
	_, err = execSQL(ctx, r.pool, tx, q, id, status, stateJSON)
	return err
}

func (r *threadRepo) SetProcessingSince(ctx context.Context, tx repository.Tx, id string, since time.Time) error {
	const q = `UPDATE threads SET ai_processing_since = $2, updated_at = now() WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, since)
	return err
}

func (r *threadRepo) ClearProcessingSince(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE threads SET ai_processing_since = NULL, updated_at = now() WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	return err
}
