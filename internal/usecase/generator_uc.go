package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/adapter"
	"feedback-ai-triage/internal/infra/metrics"
)

// WorkItemGenerator is the third pipeline stage: it drafts the engineering
// ticket once the gatekeeper has approved creation.
type WorkItemGenerator struct {
	ai         adapter.AIServiceAdapter
	model      string
	maxRetries int
	log        *zerolog.Logger
}

func NewWorkItemGenerator(ai adapter.AIServiceAdapter, model string, maxRetries int, logger *zerolog.Logger) *WorkItemGenerator {
	l := logger.With().Str("component", "WorkItemGenerator").Logger()
	return &WorkItemGenerator{ai: ai, model: model, maxRetries: maxRetries, log: &l}
}

// Generate mirrors Extract's retry semantics: validation failures re-ask,
// transport failures abort. A draft without a title is a validation failure;
// every other malformed field is coerced to its default.
func (g *WorkItemGenerator) Generate(ctx context.Context, thread *model.Thread, msgs []*model.Message, state *model.ThreadState, decision GatekeeperDecision) (*WorkItemDraft, *StageError) {
	prompt := []adapter.Message{
		{Role: "system", Content: generatorSystemPrompt},
		{Role: "user", Content: generatorUserPrompt(thread, msgs, state, decision, tokenCounter(ctx, g.ai, g.model))},
	}
	if n, err := g.ai.CountTokens(ctx, g.model, prompt); err == nil {
		g.log.Debug().Int("prompt_tokens", n).Str("thread_id", thread.ID).Msg("generator prompt built")
	}

	var lastRaw string
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		raw, err := g.ai.Chat(ctx, g.model, prompt)
		if err != nil {
			return nil, &StageError{
				Stage: "generate",
				Class: FailureUnavailable,
				Err:   fmt.Errorf("%w: %v", domain.ErrLLMUnavailable, err),
			}
		}

		lastRaw = raw
		var loose map[string]any
		if uerr := json.Unmarshal([]byte(extractJSON(raw)), &loose); uerr != nil {
			metrics.IncValidationRetry("generate")
			g.log.Warn().Int("attempt", attempt+1).Err(uerr).Msg("unparseable generator output")
			continue
		}
		draft, ok := coerceWorkItemDraft(loose)
		if !ok {
			metrics.IncValidationRetry("generate")
			g.log.Warn().Int("attempt", attempt+1).Msg("generator output missing title")
			continue
		}
		return draft, nil
	}

	return nil, &StageError{
		Stage:   "generate",
		Class:   FailureValidation,
		RawText: lastRaw,
		Err:     fmt.Errorf("no valid work item draft after %d attempts", g.maxRetries+1),
	}
}
