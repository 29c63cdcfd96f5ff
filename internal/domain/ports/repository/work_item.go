package repository

import (
	"context"

	"feedback-ai-triage/internal/domain/model"
)

type WorkItemRepository interface {
	Save(ctx context.Context, tx Tx, item *model.WorkItem) error
	FindByThread(ctx context.Context, tx Tx, threadID string) ([]*model.WorkItem, error)
}

// AuditLogRepository is append-only.
type AuditLogRepository interface {
	Append(ctx context.Context, tx Tx, entry *model.AuditEntry) error
}
