package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/repository"
	"feedback-ai-triage/internal/infra/metrics"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// JobUseCase is the surface collaborators use: message ingestion enqueues,
// the ops API reads status and stats.
type JobUseCase interface {
	// Enqueue creates a pending job for the thread and supersedes any older
	// pending jobs for it, so a burst of messages collapses to one live job.
	Enqueue(ctx context.Context, threadID, triggerMessageID string) (*model.PipelineJob, error)
	Status(ctx context.Context, id string) (*model.PipelineJob, error)
	Stats(ctx context.Context) ([]model.JobStats, error)
}

type jobUC struct {
	jobs        repository.JobRepository
	audit       repository.AuditLogRepository
	maxAttempts int
	log         *zerolog.Logger
}

func NewJobUseCase(jobs repository.JobRepository, audit repository.AuditLogRepository, maxAttempts int, logger *zerolog.Logger) *jobUC {
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts
	}
	l := logger.With().Str("component", "Jobs").Logger()
	return &jobUC{jobs: jobs, audit: audit, maxAttempts: maxAttempts, log: &l}
}

func (u *jobUC) Enqueue(ctx context.Context, threadID, triggerMessageID string) (*model.PipelineJob, error) {
	if threadID == "" {
		return nil, domain.ErrInvalidArgument
	}

	now := time.Now()
	job := &model.PipelineJob{
		ID:               ulid.Make().String(),
		ThreadID:         threadID,
		TriggerMessageID: triggerMessageID,
		Status:           model.JobStatusPending,
		MaxAttempts:      u.maxAttempts,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := u.jobs.Create(ctx, nil, job); err != nil {
		return nil, err
	}

	// Older pending jobs for this thread are now redundant: the new job will
	// see the full message history anyway.
	n, err := u.jobs.CancelStaleForThread(ctx, nil, threadID, job.ID)
	if err != nil {
		u.log.Error().Err(err).Str("thread_id", threadID).Msg("failed to supersede stale jobs")
	} else if n > 0 {
		metrics.AddJobsSuperseded(n)
		u.log.Debug().Int("count", n).Str("thread_id", threadID).Msg("superseded stale jobs")
	}

	entry := &model.AuditEntry{
		ID:         uuid.NewString(),
		EntityType: "pipeline_job",
		EntityID:   job.ID,
		Action:     "job_enqueued",
		Details:    map[string]any{"thread_id": threadID, "trigger_message_id": triggerMessageID},
		CreatedAt:  now,
	}
	if err := u.audit.Append(ctx, nil, entry); err != nil {
		u.log.Error().Err(err).Msg("audit append failed")
	}

	return job, nil
}

func (u *jobUC) Status(ctx context.Context, id string) (*model.PipelineJob, error) {
	return u.jobs.FindByID(ctx, nil, id)
}

func (u *jobUC) Stats(ctx context.Context) ([]model.JobStats, error) {
	return u.jobs.CountByStatus(ctx)
}
