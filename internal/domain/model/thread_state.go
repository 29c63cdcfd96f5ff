package model

// RecommendationAction is what the extraction stage thinks should happen next.
type RecommendationAction string

const (
	ActionNoTicket          RecommendationAction = "NoTicket"
	ActionAskQuestions      RecommendationAction = "AskQuestions"
	ActionCreateBugItem     RecommendationAction = "CreateBugWorkItem"
	ActionCreateFeatureItem RecommendationAction = "CreateFeatureWorkItem"
	ActionSplitIntoTwo      RecommendationAction = "SplitIntoTwo"
)

// Recommendation is the extractor's verdict on a thread.
type Recommendation struct {
	Action     RecommendationAction `json:"action"`
	Confidence float64              `json:"confidence"`
	Reason     string               `json:"reason"`
}

// WorkItemCandidate is a potential ticket spotted during extraction. When the
// recommendation is SplitIntoTwo, candidates are ordered best-first.
type WorkItemCandidate struct {
	Title      string  `json:"title"`
	Type       string  `json:"type"` // "Bug" | "Feature"
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// ThreadState is the structured intermediate document persisted on the thread
// after every pipeline run. Field names are part of the stored JSON contract
// consumed by the dashboard, so they must not change.
type ThreadState struct {
	Summary            string              `json:"summary"`
	Intent             string              `json:"intent"`
	ReproSteps         []string            `json:"reproSteps"`
	OpenQuestions      []string            `json:"openQuestions"`
	Recommendation     Recommendation      `json:"recommendation"`
	WorkItemCandidates []WorkItemCandidate `json:"workItemCandidates"`
}

// NewThreadState returns a state with every optional path populated, so a
// partially filled LLM response can be merged into it without nil checks.
func NewThreadState() *ThreadState {
	return &ThreadState{
		ReproSteps:    []string{},
		OpenQuestions: []string{},
		Recommendation: Recommendation{
			Action: ActionNoTicket,
		},
		WorkItemCandidates: []WorkItemCandidate{},
	}
}
