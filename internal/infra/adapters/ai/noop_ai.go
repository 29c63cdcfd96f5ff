package ai

import (
	"context"
	"time"

	"feedback-ai-triage/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter implements the LLM port for local/dev runs. It answers every
// chat with a fixed no-action assessment instead of calling a provider.
type NoopAIAdapter struct{}

func NewNoopAIAdapter() *NoopAIAdapter { return &NoopAIAdapter{} }

func (a *NoopAIAdapter) Provider() string { return "noop" }

func (a *NoopAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += len(m.Content) / 4
	}
	return n, nil
}

func (a *NoopAIAdapter) Chat(ctx context.Context, model string, messages []adapter.Message) (string, error) {
	text, _, err := a.ChatWithUsage(ctx, model, messages)
	return text, err
}

func (a *NoopAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	const reply = `{"summary":"noop","intent":"","reproSteps":[],"openQuestions":[],` +
		`"recommendation":{"action":"NoTicket","confidence":0,"reason":"noop adapter"},"workItemCandidates":[]}`
	return reply, adapter.Usage{}, nil
}
