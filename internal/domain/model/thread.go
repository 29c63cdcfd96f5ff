package model

import "time"

type ThreadStatus string

const (
	ThreadStatusOpen          ThreadStatus = "open"
	ThreadStatusWaitingOnUser ThreadStatus = "waiting_on_user"
	ThreadStatusResolved      ThreadStatus = "resolved"
	ThreadStatusClosed        ThreadStatus = "closed"
)

// Thread is a customer feedback conversation. The pipeline only mutates
// status, thread_state and ai_processing_since; messages are appended
// separately.
type Thread struct {
	ID                string
	Status            ThreadStatus
	State             *ThreadState // nil until the first extraction ran
	AIProcessingSince *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type SenderType string

const (
	SenderUser     SenderType = "user"
	SenderInternal SenderType = "internal"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
)

// Message is immutable raw text on a thread. AI-authored messages carry
// SenderInternal; clarifying questions are public, ticket notes internal.
type Message struct {
	ID         string
	ThreadID   string
	SenderType SenderType
	Visibility Visibility
	Body       string
	CreatedAt  time.Time
}
