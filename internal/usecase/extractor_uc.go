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

// ThreadStateExtractor is the first pipeline stage: it turns the raw
// conversation into a structured ThreadState.
type ThreadStateExtractor struct {
	ai         adapter.AIServiceAdapter
	model      string
	maxRetries int // re-asks after a validation failure; transport failures never retry here
	log        *zerolog.Logger
}

func NewThreadStateExtractor(ai adapter.AIServiceAdapter, model string, maxRetries int, logger *zerolog.Logger) *ThreadStateExtractor {
	l := logger.With().Str("component", "ThreadStateExtractor").Logger()
	return &ThreadStateExtractor{ai: ai, model: model, maxRetries: maxRetries, log: &l}
}

// Extract runs the LLM call with bounded validation retries. A transport or
// circuit failure aborts immediately with FailureUnavailable; unusable output
// is re-asked up to maxRetries times and then returned as FailureValidation
// carrying the last raw text.
func (e *ThreadStateExtractor) Extract(ctx context.Context, thread *model.Thread, msgs []*model.Message) (*model.ThreadState, *StageError) {
	prompt := []adapter.Message{
		{Role: "system", Content: extractorSystemPrompt},
		{Role: "user", Content: extractorUserPrompt(thread, msgs, tokenCounter(ctx, e.ai, e.model))},
	}
	if n, err := e.ai.CountTokens(ctx, e.model, prompt); err == nil {
		e.log.Debug().Int("prompt_tokens", n).Str("thread_id", thread.ID).Msg("extractor prompt built")
	}

	var lastRaw string
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		raw, err := e.ai.Chat(ctx, e.model, prompt)
		if err != nil {
			return nil, &StageError{
				Stage: "extract",
				Class: FailureUnavailable,
				Err:   fmt.Errorf("%w: %v", domain.ErrLLMUnavailable, err),
			}
		}

		lastRaw = raw
		var loose map[string]any
		if uerr := json.Unmarshal([]byte(extractJSON(raw)), &loose); uerr != nil {
			metrics.IncValidationRetry("extract")
			e.log.Warn().Int("attempt", attempt+1).Err(uerr).Msg("unparseable extractor output")
			continue
		}
		return coerceThreadState(loose), nil
	}

	return nil, &StageError{
		Stage:   "extract",
		Class:   FailureValidation,
		RawText: lastRaw,
		Err:     fmt.Errorf("no valid thread state after %d attempts", e.maxRetries+1),
	}
}
