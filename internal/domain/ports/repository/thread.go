package repository

import (
	"context"
	"time"

	"feedback-ai-triage/internal/domain/model"
)

type ThreadRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Thread, error)
	Save(ctx context.Context, tx Tx, thread *model.Thread) error

	// UpdateStateStatus persists the extracted state and the new status in
	// one narrow UPDATE.
	UpdateStateStatus(ctx context.Context, tx Tx, id string, status model.ThreadStatus, state *model.ThreadState) error

	// SetProcessingSince / ClearProcessingSince maintain the liveness
	// indicator shown to users while a job runs. Clear is idempotent and
	// must be called on every exit path.
	SetProcessingSince(ctx context.Context, tx Tx, id string, since time.Time) error
	ClearProcessingSince(ctx context.Context, tx Tx, id string) error
}

type MessageRepository interface {
	ListByThread(ctx context.Context, tx Tx, threadID string) ([]*model.Message, error)
	Save(ctx context.Context, tx Tx, msg *model.Message) error
}
