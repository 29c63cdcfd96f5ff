package worker

import (
	"context"
	"time"

	"feedback-ai-triage/internal/domain/ports/repository"
	"feedback-ai-triage/internal/infra/metrics"
	"feedback-ai-triage/internal/usecase"

	"github.com/rs/zerolog"
)

// Poller drains the job ledger into the worker pool. Claiming and executing
// are decoupled: the claim flips rows to processing in one statement, then
// each job runs on its own pool worker.
type Poller struct {
	jobs      repository.JobRepository
	pipeline  usecase.PipelineUseCase
	interval  time.Duration
	batchSize int
	log       *zerolog.Logger
}

func NewPoller(
	jobs repository.JobRepository,
	pipeline usecase.PipelineUseCase,
	interval time.Duration,
	batchSize int,
	log *zerolog.Logger,
) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Poller{jobs: jobs, pipeline: pipeline, interval: interval, batchSize: batchSize, log: log}
}

// Start runs the poll loop. It should be run in a goroutine.
func (p *Poller) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Dur("interval", p.interval).Int("batch", p.batchSize).Msg("job poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("job poller stopping")
			return
		case <-ticker.C:
			p.pollOnce(ctx, pool)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, pool *Pool) {
	limit := p.batchSize
	if free := pool.Free(); free < limit {
		limit = free
	}
	if limit <= 0 {
		return
	}

	claimed, err := p.jobs.ClaimNext(ctx, limit)
	if err != nil {
		p.log.Error().Err(err).Msg("claim failed")
		return
	}
	if len(claimed) == 0 {
		return
	}
	metrics.AddJobsClaimed(len(claimed))

	for _, job := range claimed {
		job := job
		if err := pool.Submit(func(ctx context.Context) error {
			p.pipeline.Process(ctx, job)
			return nil
		}); err != nil {
			// The row stays processing; the lease sweep returns it to
			// pending once the lease expires.
			p.log.Warn().Err(err).Str("job_id", job.ID).Msg("submit failed, job left for reclaim")
		}
	}
}
