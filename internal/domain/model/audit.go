package model

import "time"

// AuditEntry is an append-only record of a significant pipeline event.
type AuditEntry struct {
	ID         string
	EntityType string // "pipeline_job" | "thread" | "work_item"
	EntityID   string
	Action     string
	Details    map[string]any
	CreatedAt  time.Time
}
