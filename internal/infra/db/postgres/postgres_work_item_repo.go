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

var _ repository.WorkItemRepository = (*workItemRepo)(nil)

type workItemRepo struct {
	pool *pgxpool.Pool
}

func NewWorkItemRepo(pool *pgxpool.Pool) *workItemRepo {
	return &workItemRepo{pool: pool}
}

func (r *workItemRepo) Save(ctx context.Context, tx repository.Tx, item *model.WorkItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.UpdatedAt = time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = item.UpdatedAt
	}

	ac, err := json.Marshal(item.AcceptanceCriteria)
	if err != nil {
		return err
	}
	labels, err := json.Marshal(item.Labels)
	if err != nil {
		return err
	}
	bundle, err := json.Marshal(item.PromptBundle)
	if err != nil {
		return err
	}
	effort, err := json.Marshal(item.EstimatedEffort)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO work_items (id, thread_id, status, title, description, item_type, priority, severity,
    risk_level, confidence_score, acceptance_criteria, labels, prompt_bundle, estimated_effort,
    created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		item.ID, item.ThreadID, item.Status, item.Title, item.Description, item.Type, item.Priority,
		item.Severity, item.RiskLevel, item.ConfidenceScore, ac, labels, bundle, effort,
		item.CreatedAt, item.UpdatedAt)
	return err
}

func (r *workItemRepo) FindByThread(ctx context.Context, tx repository.Tx, threadID string) ([]*model.WorkItem, error) {
	const q = `
SELECT id, thread_id, status, title, description, item_type, priority, severity, risk_level,
    confidence_score, acceptance_criteria, labels, prompt_bundle, estimated_effort, created_at, updated_at
FROM work_items WHERE thread_id = $1
ORDER BY created_at;`

	rows, err := pickRows(ctx, r.pool, tx, q, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WorkItem
	for rows.Next() {
		var it model.WorkItem
		var status, itemType, priority, risk string
		var ac, labels, bundle, effort []byte
		if err := rows.Scan(&it.ID, &it.ThreadID, &status, &it.Title, &it.Description, &itemType,
			&priority, &it.Severity, &risk, &it.ConfidenceScore, &ac, &labels, &bundle, &effort,
			&it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		it.Status = model.WorkItemStatus(status)
		it.Type = model.WorkItemType(itemType)
		it.Priority = model.Priority(priority)
		it.RiskLevel = model.RiskLevel(risk)
		_ = json.Unmarshal(ac, &it.AcceptanceCriteria)
		_ = json.Unmarshal(labels, &it.Labels)
		_ = json.Unmarshal(bundle, &it.PromptBundle)
		_ = json.Unmarshal(effort, &it.EstimatedEffort)
		out = append(out, &it)
	}
	return out, rows.Err()
}
