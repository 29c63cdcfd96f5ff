package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/repository"
)

var _ repository.AuditLogRepository = (*auditRepo)(nil)

type auditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *auditRepo {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Append(ctx context.Context, tx repository.Tx, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var details []byte
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		details = b
	}

	const q = `
INSERT INTO audit_log (id, entity_type, entity_id, action, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := execSQL(ctx, r.pool, tx, q,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action, details, entry.CreatedAt)
	return err
}
