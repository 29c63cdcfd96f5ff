package repository

import (
	"context"
	"time"

	"feedback-ai-triage/internal/domain/model"
)

// JobRepository is the durable queue. ClaimNext is the only cross-process
// coordination point in the whole system.
type JobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.PipelineJob) error

	// ClaimNext atomically flips up to limit pending rows (attempts <
	// max_attempts, oldest first) to processing, incrementing attempts and
	// stamping claimed_at, skipping rows locked by concurrent claimers.
	// Returns the claimed rows; an empty slice when nothing is eligible.
	ClaimNext(ctx context.Context, limit int) ([]*model.PipelineJob, error)

	MarkCompleted(ctx context.Context, tx Tx, jobID, gatekeeperAction, resultJSON string) error
	MarkWaitingForInput(ctx context.Context, tx Tx, jobID, gatekeeperAction, resultJSON string) error
	// MarkFailed records errMsg. When retryable and attempts < max_attempts
	// the row returns to pending so a later poll can reclaim it; otherwise
	// it lands in the terminal failed state.
	MarkFailed(ctx context.Context, tx Tx, jobID, errMsg string, retryable bool) error
	MarkCanceled(ctx context.Context, tx Tx, jobID, reason string) error

	// CancelStaleForThread cancels pending jobs for the thread created
	// before newerThanJobID, collapsing a message burst to one live job.
	CancelStaleForThread(ctx context.Context, tx Tx, threadID, newerThanJobID string) (int, error)

	// ReclaimStuck returns processing rows whose claim is older than lease
	// to pending (or failed when out of attempts). Returns affected thread
	// IDs so the caller can clear liveness markers.
	ReclaimStuck(ctx context.Context, lease time.Duration) ([]string, error)

	FindByID(ctx context.Context, tx Tx, id string) (*model.PipelineJob, error)
	CountByStatus(ctx context.Context) ([]model.JobStats, error)
}
