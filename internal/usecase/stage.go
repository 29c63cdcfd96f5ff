package usecase

import (
	"fmt"
	"strings"
)

// FailureClass separates the two expected ways a generation stage can fail.
// Unavailable means the provider could not be reached (or the circuit is
// open): nothing it produced can be trusted and the job stays retryable.
// Validation means the provider answered but the output never became usable
// within the retry budget.
type FailureClass string

const (
	FailureUnavailable FailureClass = "llm_unavailable"
	FailureValidation  FailureClass = "validation"
)

// StageError is the typed failure a stage returns instead of panicking or
// throwing. RawText carries the last raw LLM output for audit logging.
type StageError struct {
	Stage   string
	Class   FailureClass
	RawText string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Class, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// extractJSON pulls the JSON object out of an LLM reply. Models are told to
// answer with raw JSON only, but they still wrap it in code fences or prose
// often enough that we tolerate both.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
