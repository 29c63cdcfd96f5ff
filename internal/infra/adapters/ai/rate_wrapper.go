package ai

import (
	"context"
	"fmt"
	"time"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/ports/adapter"
	"feedback-ai-triage/internal/infra/redis"
)

// Compile-time check
var _ adapter.AIServiceAdapter = (*rateLimitedAI)(nil)

// rateLimitedAI enforces a fixed-window call budget shared across all worker
// processes via Redis. It is the outermost wrapper so an over-budget
// rejection never counts as a provider failure.
type rateLimitedAI struct {
	inner   adapter.AIServiceAdapter
	limiter *redis.RateLimiter
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewRateLimitedAI(inner adapter.AIServiceAdapter, limiter *redis.RateLimiter, limit int, window time.Duration) adapter.AIServiceAdapter {
	if limiter == nil || limit <= 0 {
		return inner
	}
	if window <= 0 {
		window = time.Minute
	}
	return &rateLimitedAI{
		inner:   inner,
		limiter: limiter,
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (r *rateLimitedAI) allow(ctx context.Context) error {
	key := redis.ProviderKey(r.inner.Provider(), r.window, r.now())
	ok, err := r.limiter.Allow(ctx, key, r.limit, r.window)
	if err != nil {
		// Redis being down must not take the pipeline with it.
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: ai call budget (%d per %s) exhausted", domain.ErrRateLimited, r.limit, r.window)
	}
	return nil
}

func (r *rateLimitedAI) Provider() string { return r.inner.Provider() }

func (r *rateLimitedAI) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return r.inner.CountTokens(ctx, model, messages)
}

func (r *rateLimitedAI) Chat(ctx context.Context, model string, messages []adapter.Message) (string, error) {
	if err := r.allow(ctx); err != nil {
		return "", err
	}
	return r.inner.Chat(ctx, model, messages)
}

func (r *rateLimitedAI) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if err := r.allow(ctx); err != nil {
		return "", adapter.Usage{}, err
	}
	return r.inner.ChatWithUsage(ctx, model, messages)
}
