package usecase

import (
	"fmt"
	"strings"

	"feedback-ai-triage/internal/domain/model"
)

// Confidence a create-type recommendation needs before a ticket is opened.
// The bar drops when the user is answering questions we asked earlier: the
// thread already went through one clarification round.
const (
	confidenceThreshold         = 0.70
	followUpConfidenceThreshold = 0.50
)

// GatekeeperContext carries the thread facts the decision depends on.
// IsFollowUp must be computed from the thread status as it was before the
// current job ran, not from whatever the orchestrator set meanwhile.
type GatekeeperContext struct {
	CurrentThreadStatus model.ThreadStatus
	IsFollowUp          bool
}

// GatekeeperDecision is the complete instruction set for the orchestrator.
type GatekeeperDecision struct {
	ShouldCreateWorkItem bool
	WorkItemType         model.WorkItemType
	Candidate            *model.WorkItemCandidate // set when a split candidate passed
	ThreadStatus         model.ThreadStatus
	Reason               string
	AIResponseText       string // public message to post, when any
	InternalNote         string // internal note to post, when any
	EffectiveAction      string // recorded on the job row
}

func (c GatekeeperContext) threshold() float64 {
	if c.IsFollowUp {
		return followUpConfidenceThreshold
	}
	return confidenceThreshold
}

// Decide maps an extracted thread state to the next action. Pure: no I/O,
// no clock, identical output for identical input.
func Decide(state *model.ThreadState, gctx GatekeeperContext) GatekeeperDecision {
	rec := state.Recommendation

	switch rec.Action {
	case "", model.ActionNoTicket:
		reason := rec.Reason
		if reason == "" {
			reason = "no actionable recommendation"
		}
		return GatekeeperDecision{
			ThreadStatus:    model.ThreadStatusOpen,
			Reason:          reason,
			EffectiveAction: string(model.ActionNoTicket),
		}

	case model.ActionAskQuestions:
		return GatekeeperDecision{
			ThreadStatus:    model.ThreadStatusWaitingOnUser,
			Reason:          rec.Reason,
			AIResponseText:  buildQuestionsMessage(state.OpenQuestions, ""),
			EffectiveAction: string(model.ActionAskQuestions),
		}

	case model.ActionCreateBugItem, model.ActionCreateFeatureItem:
		itemType := model.WorkItemBug
		if rec.Action == model.ActionCreateFeatureItem {
			itemType = model.WorkItemFeature
		}
		if rec.Confidence >= gctx.threshold() {
			return GatekeeperDecision{
				ShouldCreateWorkItem: true,
				WorkItemType:         itemType,
				ThreadStatus:         model.ThreadStatusOpen,
				Reason:               rec.Reason,
				InternalNote:         fmt.Sprintf("AI triage created a %s ticket (confidence %.2f). Pending approval.", strings.ToLower(string(itemType)), rec.Confidence),
				EffectiveAction:      string(rec.Action),
			}
		}
		return demoteToQuestions(state, rec.Confidence, gctx.threshold())

	case model.ActionSplitIntoTwo:
		if len(state.WorkItemCandidates) == 0 {
			return demoteToQuestions(state, rec.Confidence, gctx.threshold())
		}
		top := state.WorkItemCandidates[0]
		if top.Confidence >= gctx.threshold() {
			remaining := len(state.WorkItemCandidates) - 1
			cand := top
			return GatekeeperDecision{
				ShouldCreateWorkItem: true,
				WorkItemType:         coerceWorkItemType(top.Type),
				Candidate:            &cand,
				ThreadStatus:         model.ThreadStatusOpen,
				Reason:               rec.Reason,
				InternalNote:         fmt.Sprintf("AI triage created a ticket for %q; %d additional candidate(s) left for follow-up.", top.Title, remaining),
				EffectiveAction:      string(model.ActionSplitIntoTwo),
			}
		}
		return demoteToQuestions(state, top.Confidence, gctx.threshold())
	}

	return GatekeeperDecision{
		ThreadStatus:    model.ThreadStatusOpen,
		Reason:          "insufficient confidence in any recommendation",
		EffectiveAction: string(model.ActionNoTicket),
	}
}

// demoteToQuestions converts a below-threshold create recommendation into a
// clarification round.
func demoteToQuestions(state *model.ThreadState, confidence, threshold float64) GatekeeperDecision {
	preamble := fmt.Sprintf(
		"We want to make sure we capture this correctly before opening a ticket (confidence %.2f of required %.2f).",
		confidence, threshold)
	return GatekeeperDecision{
		ThreadStatus:    model.ThreadStatusWaitingOnUser,
		Reason:          fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, threshold),
		AIResponseText:  buildQuestionsMessage(state.OpenQuestions, preamble),
		EffectiveAction: string(model.ActionAskQuestions),
	}
}

// buildQuestionsMessage renders a numbered list of open questions; with none
// available it falls back to a generic request for detail.
func buildQuestionsMessage(questions []string, preamble string) string {
	var b strings.Builder
	if preamble != "" {
		b.WriteString(preamble)
		b.WriteString("\n\n")
	}
	if len(questions) == 0 {
		b.WriteString("Could you share a bit more detail about what you were doing and what you expected to happen?")
		return b.String()
	}
	b.WriteString("To help us move forward, could you answer the following:\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return strings.TrimRight(b.String(), "\n")
}
