package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// ErrLLMUnavailable covers transport failures, timeouts and open-circuit
	// rejections. Callers must not trust any output when they see it; jobs
	// failing with it remain retryable.
	ErrLLMUnavailable = errors.New("llm unavailable")

	// ErrRateLimited means the shared call budget for the LLM provider is
	// exhausted for the current window.
	ErrRateLimited = errors.New("llm rate limit exceeded")
)
