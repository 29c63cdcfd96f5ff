package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/repository"
)

var _ repository.MessageRepository = (*messageRepo)(nil)

type messageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *messageRepo {
	return &messageRepo{pool: pool}
}

func (r *messageRepo) ListByThread(ctx context.Context, tx repository.Tx, threadID string) ([]*model.Message, error) {
	const q = `
SELECT id, thread_id, sender_type, visibility, body, created_at
FROM messages WHERE thread_id = $1
ORDER BY created_at;`

	rows, err := pickRows(ctx, r.pool, tx, q, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		var m model.Message
		var sender, visibility string
		if err := rows.Scan(&m.ID, &m.ThreadID, &sender, &visibility, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SenderType = model.SenderType(sender)
		m.Visibility = model.Visibility(visibility)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *messageRepo) Save(ctx context.Context, tx repository.Tx, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	const q = `
INSERT INTO messages (id, thread_id, sender_type, visibility, body, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := execSQL(ctx, r.pool, tx, q,
		msg.ID, msg.ThreadID, msg.SenderType, msg.Visibility, msg.Body, msg.CreatedAt)
	return err
}
