package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/repository"
)

// Compile-time check
var _ IngestUseCase = (*ingestUC)(nil)

// IngestUseCase appends raw messages to threads. A public user message is
// the trigger for triage, so it also enqueues a job.
type IngestUseCase interface {
	AppendMessage(ctx context.Context, in IngestInput) (*model.Message, *model.PipelineJob, error)
}

type IngestInput struct {
	ThreadID   string
	SenderType model.SenderType
	Visibility model.Visibility
	Body       string
}

type ingestUC struct {
	threads repository.ThreadRepository
	msgs    repository.MessageRepository
	jobUC   JobUseCase
	log     *zerolog.Logger
}

func NewIngestUseCase(
	threads repository.ThreadRepository,
	msgs repository.MessageRepository,
	jobUC JobUseCase,
	logger *zerolog.Logger,
) *ingestUC {
	l := logger.With().Str("component", "Ingest").Logger()
	return &ingestUC{threads: threads, msgs: msgs, jobUC: jobUC, log: &l}
}

func (u *ingestUC) AppendMessage(ctx context.Context, in IngestInput) (*model.Message, *model.PipelineJob, error) {
	if strings.TrimSpace(in.Body) == "" {
		return nil, nil, fmt.Errorf("%w: empty message body", domain.ErrInvalidArgument)
	}
	if in.SenderType == "" {
		in.SenderType = model.SenderUser
	}
	if in.Visibility == "" {
		in.Visibility = model.VisibilityPublic
	}
	switch in.SenderType {
	case model.SenderUser, model.SenderInternal:
	default:
		return nil, nil, fmt.Errorf("%w: unknown sender_type %q", domain.ErrInvalidArgument, in.SenderType)
	}
	switch in.Visibility {
	case model.VisibilityPublic, model.VisibilityInternal:
	default:
		return nil, nil, fmt.Errorf("%w: unknown visibility %q", domain.ErrInvalidArgument, in.Visibility)
	}

	if _, err := u.threads.FindByID(ctx, nil, in.ThreadID); err != nil {
		return nil, nil, err
	}

	msg := &model.Message{
		ID:         uuid.NewString(),
		ThreadID:   in.ThreadID,
		SenderType: in.SenderType,
		Visibility: in.Visibility,
		Body:       in.Body,
		CreatedAt:  time.Now(),
	}
	if err := u.msgs.Save(ctx, nil, msg); err != nil {
		return nil, nil, err
	}

	// Internal notes never trigger triage.
	if in.SenderType != model.SenderUser || in.Visibility != model.VisibilityPublic {
		return msg, nil, nil
	}

	job, err := u.jobUC.Enqueue(ctx, in.ThreadID, msg.ID)
	if err != nil {
		u.log.Error().Err(err).Str("thread_id", in.ThreadID).Msg("enqueue after ingest failed")
		return msg, nil, err
	}
	return msg, job, nil
}
