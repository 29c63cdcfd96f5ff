package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/ports/adapter"
	"feedback-ai-triage/internal/infra/metrics"
)

// Compile-time checks
var (
	_ adapter.AIServiceAdapter = (*breakerAI)(nil)
	_ adapter.Breaker          = (*breakerAI)(nil)
)

// breakerAI wraps an adapter with a per-call timeout and a circuit breaker.
// After threshold consecutive failures the circuit opens and calls are
// rejected immediately with ErrLLMUnavailable (no network attempt) until the
// cool-down elapses; then exactly one half-open probe is allowed through.
//
// The clock is injected so tests can drive the cool-down.
type breakerAI struct {
	inner     adapter.AIServiceAdapter
	threshold int
	cooldown  time.Duration
	timeout   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    adapter.BreakerState
	failures int
	openedAt time.Time
	probing  bool // a half-open probe is in flight
}

func NewBreakerAI(inner adapter.AIServiceAdapter, threshold int, cooldown, timeout time.Duration) *breakerAI {
	return newBreakerAI(inner, threshold, cooldown, timeout, time.Now)
}

func newBreakerAI(inner adapter.AIServiceAdapter, threshold int, cooldown, timeout time.Duration, now func() time.Time) *breakerAI {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breakerAI{
		inner:     inner,
		threshold: threshold,
		cooldown:  cooldown,
		timeout:   timeout,
		now:       now,
		state:     adapter.BreakerClosed,
	}
}

func (b *breakerAI) Provider() string { return b.inner.Provider() }

func (b *breakerAI) State() adapter.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Report half-open once the cool-down has elapsed, even before a probe
	// arrives, so health checks see the transition.
	if b.state == adapter.BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return adapter.BreakerHalfOpen
	}
	return b.state
}

func (b *breakerAI) Reset() {
	b.mu.Lock()
	b.state = adapter.BreakerClosed
	b.failures = 0
	b.probing = false
	b.mu.Unlock()
	metrics.SetBreakerState(string(adapter.BreakerClosed))
}

// CountTokens is local/cheap for most providers; it bypasses the breaker.
func (b *breakerAI) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return b.inner.CountTokens(ctx, model, messages)
}

func (b *breakerAI) Chat(ctx context.Context, model string, messages []adapter.Message) (string, error) {
	text, _, err := b.ChatWithUsage(ctx, model, messages)
	return text, err
}

func (b *breakerAI) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if err := b.allow(); err != nil {
		return "", adapter.Usage{}, err
	}

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := b.now()
	text, usage, err := b.inner.ChatWithUsage(callCtx, model, messages)
	latencyMs := int(b.now().Sub(start) / time.Millisecond)
	metrics.ObserveAICall(b.inner.Provider(), model, usage.PromptTokens, usage.CompletionTokens, latencyMs, err == nil)

	b.record(err)
	if err != nil {
		return "", adapter.Usage{}, fmt.Errorf("%w: %v", domain.ErrLLMUnavailable, err)
	}
	return text, usage, nil
}

// allow decides whether a call may go out, transitioning open -> half-open
// when the cool-down has elapsed.
func (b *breakerAI) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case adapter.BreakerClosed:
		return nil
	case adapter.BreakerHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: circuit half-open, probe in flight", domain.ErrLLMUnavailable)
		}
		b.probing = true
		return nil
	default: // open
		if b.now().Sub(b.openedAt) < b.cooldown {
			return fmt.Errorf("%w: circuit open", domain.ErrLLMUnavailable)
		}
		b.state = adapter.BreakerHalfOpen
		b.probing = true
		metrics.SetBreakerState(string(adapter.BreakerHalfOpen))
		return nil
	}
}

func (b *breakerAI) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = adapter.BreakerClosed
		b.failures = 0
		b.probing = false
		metrics.SetBreakerState(string(adapter.BreakerClosed))
		return
	}

	if b.state == adapter.BreakerHalfOpen {
		// Failed probe: back to a full cool-down.
		b.state = adapter.BreakerOpen
		b.openedAt = b.now()
		b.probing = false
		metrics.SetBreakerState(string(adapter.BreakerOpen))
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = adapter.BreakerOpen
		b.openedAt = b.now()
		metrics.SetBreakerState(string(adapter.BreakerOpen))
	}
}
