package model

import "time"

type WorkItemStatus string

const (
	WorkItemPendingApproval WorkItemStatus = "pending_approval"
	WorkItemApproved        WorkItemStatus = "approved"
	WorkItemRejected        WorkItemStatus = "rejected"
)

type WorkItemType string

const (
	WorkItemBug     WorkItemType = "Bug"
	WorkItemFeature WorkItemType = "Feature"
)

type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// PromptBundle is the structured hand-off attached to a generated ticket.
// Stored as JSON; field names are part of the external contract.
type PromptBundle struct {
	Goal               string   `json:"goal"`
	Context            string   `json:"context"`
	Constraints        []string `json:"constraints"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

func NewPromptBundle() PromptBundle {
	return PromptBundle{
		Constraints:        []string{},
		AcceptanceCriteria: []string{},
	}
}

type EstimatedEffort struct {
	TShirtSize string   `json:"tShirtSize"` // XS S M L XL
	Rationale  string   `json:"rationale"`
	Risks      []string `json:"risks"`
}

func NewEstimatedEffort() EstimatedEffort {
	return EstimatedEffort{
		TShirtSize: "M",
		Risks:      []string{},
	}
}

// WorkItem is a structured, approvable engineering ticket derived from a
// thread. Created only by the generation stage, always at PendingApproval.
type WorkItem struct {
	ID                 string
	ThreadID           string
	Status             WorkItemStatus
	Title              string
	Description        string
	Type               WorkItemType
	Priority           Priority
	Severity           int // 1..5
	RiskLevel          RiskLevel
	ConfidenceScore    float64
	AcceptanceCriteria []string
	Labels             []string
	PromptBundle       PromptBundle
	EstimatedEffort    EstimatedEffort
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
