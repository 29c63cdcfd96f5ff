package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/repository"
	"feedback-ai-triage/internal/infra/logging"
	"feedback-ai-triage/internal/infra/metrics"
)

// Compile-time check
var _ PipelineUseCase = (*pipelineUC)(nil)

// PipelineUseCase processes one claimed job end to end. It never panics
// outward and always leaves the job in a terminal or waiting state.
type PipelineUseCase interface {
	Process(ctx context.Context, job *model.PipelineJob)
}

type pipelineUC struct {
	jobs      repository.JobRepository
	threads   repository.ThreadRepository
	messages  repository.MessageRepository
	workItems repository.WorkItemRepository
	audit     repository.AuditLogRepository
	extractor *ThreadStateExtractor
	generator *WorkItemGenerator
	tm        repository.TransactionManager

	log *zerolog.Logger
	now func() time.Time
}

func NewPipelineUseCase(
	jobs repository.JobRepository,
	threads repository.ThreadRepository,
	messages repository.MessageRepository,
	workItems repository.WorkItemRepository,
	audit repository.AuditLogRepository,
	extractor *ThreadStateExtractor,
	generator *WorkItemGenerator,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *pipelineUC {
	l := logger.With().Str("component", "Pipeline").Logger()
	return &pipelineUC{
		jobs:      jobs,
		threads:   threads,
		messages:  messages,
		workItems: workItems,
		audit:     audit,
		extractor: extractor,
		generator: generator,
		tm:        tm,
		log:       &l,
		now:       time.Now,
	}
}

// jobResult is what lands in result_json on the job row.
type jobResult struct {
	GatekeeperAction     string             `json:"gatekeeperAction"`
	ShouldCreateWorkItem bool               `json:"shouldCreateWorkItem"`
	WorkItemID           string             `json:"workItemId,omitempty"`
	ThreadStatus         model.ThreadStatus `json:"threadStatus"`
	Reason               string             `json:"reason"`
}

// Process runs extract -> gatekeep -> (generate) for one claimed job and
// persists the outcome. Failure rules:
//   - LLM unavailable: no thread mutation, job fails retryable.
//   - Validation exhausted: raw output audited, job fails terminally.
//   - Missing thread: job fails terminally.
//   - Anything else (including panics): audited, job fails terminally.
//
// ai_processing_since is set on entry and cleared on every exit path.
func (p *pipelineUC) Process(ctx context.Context, job *model.PipelineJob) {
	ctx = logging.WithJobID(logging.WithThreadID(ctx, job.ThreadID), job.ID)
	log := logging.With(ctx, p.log)
	start := p.now()

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			log.Error().Str("panic_value", fmt.Sprint(r)).Msg("pipeline panic recovered")
			p.appendAudit(context.Background(), nil, "pipeline_job", job.ID, "panic_recovered", map[string]any{"error": msg})
			p.failJob(job, msg, false)
			_ = p.threads.ClearProcessingSince(context.Background(), nil, job.ThreadID)
		}
	}()

	thread, err := p.threads.FindByID(ctx, nil, job.ThreadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("thread missing, failing job")
			p.appendAudit(ctx, nil, "pipeline_job", job.ID, "thread_missing", map[string]any{"thread_id": job.ThreadID})
			p.failJob(job, "thread not found", false)
			return
		}
		p.appendAudit(ctx, nil, "pipeline_job", job.ID, "load_failed", map[string]any{"error": err.Error()})
		p.failJob(job, err.Error(), true)
		return
	}

	// Captured before any mutation; the gatekeeper threshold depends on it.
	prevStatus := thread.Status
	gctx := GatekeeperContext{
		CurrentThreadStatus: prevStatus,
		IsFollowUp:          prevStatus == model.ThreadStatusWaitingOnUser,
	}

	_ = p.threads.SetProcessingSince(ctx, nil, thread.ID, p.now())
	defer func() {
		// Liveness marker must clear even when ctx is already canceled.
		_ = p.threads.ClearProcessingSince(context.Background(), nil, thread.ID)
	}()

	msgs, err := p.messages.ListByThread(ctx, nil, thread.ID)
	if err != nil {
		p.appendAudit(ctx, nil, "pipeline_job", job.ID, "load_failed", map[string]any{"error": err.Error()})
		p.failJob(job, err.Error(), true)
		return
	}

	state, serr := p.extractor.Extract(ctx, thread, msgs)
	if serr != nil {
		p.handleStageFailure(ctx, job, serr, log)
		return
	}

	decision := Decide(state, gctx)
	log.Info().
		Str("action", decision.EffectiveAction).
		Str("thread_status", string(decision.ThreadStatus)).
		Bool("create_work_item", decision.ShouldCreateWorkItem).
		Msg("gatekeeper decision")

	var item *model.WorkItem
	if decision.ShouldCreateWorkItem {
		draft, gerr := p.generator.Generate(ctx, thread, msgs, state, decision)
		if gerr != nil {
			p.handleStageFailure(ctx, job, gerr, log)
			return
		}
		item = p.draftToWorkItem(thread.ID, draft)
	}

	if err := p.persistOutcome(ctx, job, thread, state, decision, item); err != nil {
		log.Error().Err(err).Msg("failed to persist pipeline outcome")
		p.appendAudit(ctx, nil, "pipeline_job", job.ID, "persist_failed", map[string]any{"error": err.Error()})
		p.failJob(job, err.Error(), true)
		return
	}

	status := model.JobStatusCompleted
	if decision.ThreadStatus == model.ThreadStatusWaitingOnUser {
		status = model.JobStatusWaitingForInput
	}
	metrics.IncJobProcessed(string(status))
	log.Info().
		Str("status", string(status)).
		Dur("duration", p.now().Sub(start)).
		Msg("pipeline job finished")
}

// persistOutcome applies every mutation of a successful run in one
// transaction: thread state/status, AI-authored messages, the work item,
// audit entries and the job transition. The LLM calls are long done by now.
func (p *pipelineUC) persistOutcome(
	ctx context.Context,
	job *model.PipelineJob,
	thread *model.Thread,
	state *model.ThreadState,
	decision GatekeeperDecision,
	item *model.WorkItem,
) error {
	result := jobResult{
		GatekeeperAction:     decision.EffectiveAction,
		ShouldCreateWorkItem: decision.ShouldCreateWorkItem,
		ThreadStatus:         decision.ThreadStatus,
		Reason:               decision.Reason,
	}
	if item != nil {
		result.WorkItemID = item.ID
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return p.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := p.threads.UpdateStateStatus(ctx, tx, thread.ID, decision.ThreadStatus, state); err != nil {
			return err
		}

		if decision.AIResponseText != "" {
			msg := &model.Message{
				ID:         uuid.NewString(),
				ThreadID:   thread.ID,
				SenderType: model.SenderInternal,
				Visibility: model.VisibilityPublic,
				Body:       decision.AIResponseText,
				CreatedAt:  p.now(),
			}
			if err := p.messages.Save(ctx, tx, msg); err != nil {
				return err
			}
			p.appendAudit(ctx, tx, "thread", thread.ID, "questions_posted", map[string]any{"message_id": msg.ID})
		}

		if item != nil {
			if err := p.workItems.Save(ctx, tx, item); err != nil {
				return err
			}
			p.appendAudit(ctx, tx, "work_item", item.ID, "work_item_created", map[string]any{
				"thread_id": thread.ID,
				"type":      string(item.Type),
				"title":     item.Title,
			})
		}

		if decision.InternalNote != "" {
			note := &model.Message{
				ID:         uuid.NewString(),
				ThreadID:   thread.ID,
				SenderType: model.SenderInternal,
				Visibility: model.VisibilityInternal,
				Body:       decision.InternalNote,
				CreatedAt:  p.now(),
			}
			if err := p.messages.Save(ctx, tx, note); err != nil {
				return err
			}
		}

		p.appendAudit(ctx, tx, "pipeline_job", job.ID, "pipeline_completed", map[string]any{
			"gatekeeper_action": decision.EffectiveAction,
			"thread_status":     string(decision.ThreadStatus),
		})

		if decision.ThreadStatus == model.ThreadStatusWaitingOnUser {
			return p.jobs.MarkWaitingForInput(ctx, tx, job.ID, decision.EffectiveAction, string(resultJSON))
		}
		return p.jobs.MarkCompleted(ctx, tx, job.ID, decision.EffectiveAction, string(resultJSON))
	})
}

func (p *pipelineUC) handleStageFailure(ctx context.Context, job *model.PipelineJob, serr *StageError, log *zerolog.Logger) {
	switch serr.Class {
	case FailureUnavailable:
		// Nothing the provider produced can be trusted; leave thread state
		// untouched and let a later attempt redo the whole job.
		log.Warn().Err(serr.Err).Str("stage", serr.Stage).Msg("llm unavailable, job will retry")
		p.appendAudit(ctx, nil, "pipeline_job", job.ID, serr.Stage+"_llm_unavailable", map[string]any{"error": serr.Err.Error()})
		p.failJob(job, serr.Error(), true)
	default:
		log.Error().Err(serr.Err).Str("stage", serr.Stage).Msg("stage output invalid after retries")
		p.appendAudit(ctx, nil, "pipeline_job", job.ID, serr.Stage+"_validation_failed", map[string]any{
			"error":    serr.Err.Error(),
			"raw_text": serr.RawText,
		})
		p.failJob(job, serr.Error(), false)
	}
	metrics.IncJobProcessed(string(model.JobStatusFailed))
}

// failJob records the terminal-or-retry transition with a background context
// so a canceled job context cannot strand a processing row.
func (p *pipelineUC) failJob(job *model.PipelineJob, msg string, retryable bool) {
	if err := p.jobs.MarkFailed(context.Background(), nil, job.ID, msg, retryable); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job failed")
	}
}

func (p *pipelineUC) appendAudit(ctx context.Context, tx repository.Tx, entityType, entityID, action string, details map[string]any) {
	entry := &model.AuditEntry{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Details:    details,
		CreatedAt:  p.now(),
	}
	if err := p.audit.Append(ctx, tx, entry); err != nil {
		p.log.Error().Err(err).Str("action", action).Msg("audit append failed")
	}
}

func (p *pipelineUC) draftToWorkItem(threadID string, d *WorkItemDraft) *model.WorkItem {
	now := p.now()
	return &model.WorkItem{
		ID:                 uuid.NewString(),
		ThreadID:           threadID,
		Status:             model.WorkItemPendingApproval,
		Title:              d.Title,
		Description:        d.Description,
		Type:               d.Type,
		Priority:           d.Priority,
		Severity:           d.Severity,
		RiskLevel:          d.RiskLevel,
		ConfidenceScore:    d.ConfidenceScore,
		AcceptanceCriteria: d.AcceptanceCriteria,
		Labels:             d.Labels,
		PromptBundle:       d.PromptBundle,
		EstimatedEffort:    d.EstimatedEffort,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
