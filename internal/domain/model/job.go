package model

import "time"

type JobStatus string

const (
	JobStatusPending         JobStatus = "pending"
	JobStatusProcessing      JobStatus = "processing"
	JobStatusWaitingForInput JobStatus = "waiting_for_input"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusFailed          JobStatus = "failed"
	JobStatusCanceled        JobStatus = "canceled"
)

const DefaultMaxAttempts = 3

// PipelineJob is one durable unit of work: "analyze this thread now".
// The jobs table is the queue itself; a row moves pending -> processing via
// the atomic claim statement and from there to exactly one terminal or
// waiting state. ID is a ULID and doubles as the public identifier.
type PipelineJob struct {
	ID               string
	ThreadID         string
	TriggerMessageID string // empty when the job was enqueued without one
	Status           JobStatus
	Attempts         int
	MaxAttempts      int
	GatekeeperAction string
	ResultJSON       string
	ErrorMessage     string
	ClaimedAt        *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// JobStats is one row of the grouped status aggregate.
type JobStats struct {
	Status JobStatus
	Count  int
	Oldest time.Time
	Newest time.Time
}
