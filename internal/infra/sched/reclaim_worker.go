package sched

import (
	"context"
	"time"

	"feedback-ai-triage/internal/domain/ports/repository"
	"feedback-ai-triage/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// ReclaimWorker periodically returns jobs stuck in processing past their
// lease to the pending state. A job only gets stuck when its worker died
// mid-run, so the sweep also clears the liveness marker on the affected
// threads.
type ReclaimWorker struct {
	interval time.Duration
	lease    time.Duration
	jobs     repository.JobRepository
	threads  repository.ThreadRepository
	log      *zerolog.Logger
}

func NewReclaimWorker(
	interval, lease time.Duration,
	jobs repository.JobRepository,
	threads repository.ThreadRepository,
	logger *zerolog.Logger,
) *ReclaimWorker {
	rcLog := logger.With().Str("component", "ReclaimWorker").Logger()
	if interval <= 0 {
		interval = time.Minute
	}
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &ReclaimWorker{
		interval: interval,
		lease:    lease,
		jobs:     jobs,
		threads:  threads,
		log:      &rcLog,
	}
}

func (w *ReclaimWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("lease", w.lease).Msg("Starting reclaim worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping reclaim worker")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ReclaimWorker) sweep(ctx context.Context) {
	threadIDs, err := w.jobs.ReclaimStuck(ctx, w.lease)
	if err != nil {
		w.log.Error().Err(err).Msg("reclaim sweep error")
		return
	}
	if len(threadIDs) == 0 {
		return
	}

	metrics.AddJobsReclaimed(len(threadIDs))
	w.log.Warn().Int("count", len(threadIDs)).Msg("stuck jobs returned to pending")

	for _, id := range threadIDs {
		if err := w.threads.ClearProcessingSince(ctx, nil, id); err != nil {
			w.log.Error().Err(err).Str("thread_id", id).Msg("clear processing marker failed")
		}
	}
}
