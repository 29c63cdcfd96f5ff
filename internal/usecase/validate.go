package usecase

import (
	"strings"

	"feedback-ai-triage/internal/domain/model"
)

// Coercion helpers. LLM output is never rejected for a malformed field: the
// field is replaced by its safe default and the rest of the document is kept.

func asString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func asFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// asStringSlice returns an empty slice for missing or non-array values and
// drops non-string elements.
func asStringSlice(m map[string]any, key string) []string {
	out := []string{}
	arr, ok := m[key].([]any)
	if !ok {
		return out
	}
	for _, e := range arr {
		if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func asMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// coerceThreadState builds a fully populated ThreadState from loose JSON.
func coerceThreadState(m map[string]any) *model.ThreadState {
	st := model.NewThreadState()
	st.Summary = asString(m, "summary")
	st.Intent = asString(m, "intent")
	st.ReproSteps = asStringSlice(m, "reproSteps")
	st.OpenQuestions = asStringSlice(m, "openQuestions")

	rec := asMap(m, "recommendation")
	st.Recommendation.Action = coerceAction(asString(rec, "action"))
	if c, ok := asFloat(rec, "confidence"); ok {
		st.Recommendation.Confidence = clampConfidence(c)
	}
	st.Recommendation.Reason = asString(rec, "reason")

	if arr, ok := m["workItemCandidates"].([]any); ok {
		for _, e := range arr {
			cm, ok := e.(map[string]any)
			if !ok {
				continue
			}
			cand := model.WorkItemCandidate{
				Title:   asString(cm, "title"),
				Type:    string(coerceWorkItemType(asString(cm, "type"))),
				Summary: asString(cm, "summary"),
			}
			if c, ok := asFloat(cm, "confidence"); ok {
				cand.Confidence = clampConfidence(c)
			}
			if cand.Title != "" {
				st.WorkItemCandidates = append(st.WorkItemCandidates, cand)
			}
		}
	}
	return st
}

func coerceAction(s string) model.RecommendationAction {
	switch model.RecommendationAction(s) {
	case model.ActionNoTicket, model.ActionAskQuestions, model.ActionCreateBugItem,
		model.ActionCreateFeatureItem, model.ActionSplitIntoTwo:
		return model.RecommendationAction(s)
	}
	return model.ActionNoTicket
}

func coerceWorkItemType(s string) model.WorkItemType {
	switch strings.ToLower(s) {
	case "feature":
		return model.WorkItemFeature
	default:
		return model.WorkItemBug
	}
}

func coercePriority(s string) model.Priority {
	switch model.Priority(strings.ToUpper(s)) {
	case model.PriorityP0, model.PriorityP1, model.PriorityP2, model.PriorityP3:
		return model.Priority(strings.ToUpper(s))
	}
	return model.PriorityP2
}

func coerceRiskLevel(s string) model.RiskLevel {
	switch strings.ToLower(s) {
	case "low":
		return model.RiskLow
	case "high":
		return model.RiskHigh
	default:
		return model.RiskMedium
	}
}

func coerceSeverity(m map[string]any) int {
	v, ok := asFloat(m, "severity")
	if !ok {
		return 3
	}
	sev := int(v)
	if sev < 1 || sev > 5 {
		return 3
	}
	return sev
}

func coerceTShirt(s string) string {
	switch strings.ToUpper(s) {
	case "XS", "S", "M", "L", "XL":
		return strings.ToUpper(s)
	}
	return "M"
}

// WorkItemDraft is the validated output of the generation stage, still
// unattached to a thread.
type WorkItemDraft struct {
	Title              string
	Description        string
	Type               model.WorkItemType
	Priority           model.Priority
	Severity           int
	RiskLevel          model.RiskLevel
	ConfidenceScore    float64
	AcceptanceCriteria []string
	Labels             []string
	PromptBundle       model.PromptBundle
	EstimatedEffort    model.EstimatedEffort
}

// coerceWorkItemDraft normalizes loose JSON into a draft. The only hard
// requirement is a non-empty title; everything else defaults.
func coerceWorkItemDraft(m map[string]any) (*WorkItemDraft, bool) {
	title := asString(m, "title")
	if title == "" {
		return nil, false
	}

	d := &WorkItemDraft{
		Title:              title,
		Description:        asString(m, "description"),
		Type:               coerceWorkItemType(asString(m, "type")),
		Priority:           coercePriority(asString(m, "priority")),
		Severity:           coerceSeverity(m),
		RiskLevel:          coerceRiskLevel(asString(m, "riskLevel")),
		AcceptanceCriteria: asStringSlice(m, "acceptanceCriteria"),
		Labels:             asStringSlice(m, "labels"),
		PromptBundle:       model.NewPromptBundle(),
		EstimatedEffort:    model.NewEstimatedEffort(),
	}
	if c, ok := asFloat(m, "confidenceScore"); ok {
		d.ConfidenceScore = clampConfidence(c)
	}

	pb := asMap(m, "promptBundle")
	d.PromptBundle.Goal = asString(pb, "goal")
	d.PromptBundle.Context = asString(pb, "context")
	d.PromptBundle.Constraints = asStringSlice(pb, "constraints")
	d.PromptBundle.AcceptanceCriteria = asStringSlice(pb, "acceptanceCriteria")

	ee := asMap(m, "estimatedEffort")
	d.EstimatedEffort.TShirtSize = coerceTShirt(asString(ee, "tShirtSize"))
	d.EstimatedEffort.Rationale = asString(ee, "rationale")
	d.EstimatedEffort.Risks = asStringSlice(ee, "risks")

	return d, true
}
