package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/adapter"
)

// transcriptTokenBudget bounds how much history we ship to the provider.
const transcriptTokenBudget = 6000

// tokenCounter adapts the provider tokenizer for transcript capping. Falls
// back to a bytes/4 estimate when counting fails.
func tokenCounter(ctx context.Context, ai adapter.AIServiceAdapter, model string) func(string) int {
	return func(text string) int {
		n, err := ai.CountTokens(ctx, model, []adapter.Message{{Role: "user", Content: text}})
		if err != nil || n <= 0 {
			return len(text) / 4
		}
		return n
	}
}

const extractorSystemPrompt = `You are a triage analyst for a customer feedback inbox.
Read the conversation and produce a structured assessment.

Respond with ONLY raw JSON, no prose, no code fences, matching exactly:
{
  "summary": "one-paragraph summary of the thread",
  "intent": "what the customer is trying to achieve",
  "reproSteps": ["step", ...],
  "openQuestions": ["question we still need answered", ...],
  "recommendation": {
    "action": "NoTicket" | "AskQuestions" | "CreateBugWorkItem" | "CreateFeatureWorkItem" | "SplitIntoTwo",
    "confidence": 0.0-1.0,
    "reason": "why"
  },
  "workItemCandidates": [
    {"title": "...", "type": "Bug" | "Feature", "summary": "...", "confidence": 0.0-1.0}
  ]
}

Use SplitIntoTwo when the thread clearly contains two separate issues, ordering
workItemCandidates best-first. Use AskQuestions when key facts are missing.`

const generatorSystemPrompt = `You are drafting an engineering ticket from a triaged customer thread.

Respond with ONLY raw JSON, no prose, no code fences, matching exactly:
{
  "title": "imperative, specific",
  "description": "full ticket body in markdown",
  "type": "Bug" | "Feature",
  "priority": "P0" | "P1" | "P2" | "P3",
  "severity": 1-5,
  "riskLevel": "Low" | "Medium" | "High",
  "confidenceScore": 0.0-1.0,
  "acceptanceCriteria": ["...", ...],
  "labels": ["...", ...],
  "promptBundle": {
    "goal": "...",
    "context": "...",
    "constraints": ["...", ...],
    "acceptanceCriteria": ["...", ...]
  },
  "estimatedEffort": {
    "tShirtSize": "XS" | "S" | "M" | "L" | "XL",
    "rationale": "...",
    "risks": ["...", ...]
  }
}`

// buildTranscript renders messages oldest-first, dropping the oldest while
// the rendered transcript is over the token budget. The newest message always
// survives. Internal notes are included so the model sees prior AI actions.
func buildTranscript(msgs []*model.Message, countTokens func(string) int) string {
	text := renderTranscript(msgs)
	for len(msgs) > 1 && countTokens(text) > transcriptTokenBudget {
		msgs = msgs[1:]
		text = renderTranscript(msgs)
	}
	return text
}

func renderTranscript(msgs []*model.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		tag := string(m.SenderType)
		if m.Visibility == model.VisibilityInternal {
			tag += ", internal"
		}
		fmt.Fprintf(&b, "[%s] %s\n", tag, m.Body)
	}
	return b.String()
}

func extractorUserPrompt(thread *model.Thread, msgs []*model.Message, countTokens func(string) int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thread status: %s\n", thread.Status)
	if thread.State != nil {
		prev, _ := json.Marshal(thread.State)
		fmt.Fprintf(&b, "Previous assessment:\n%s\n", prev)
	}
	b.WriteString("\nConversation:\n")
	b.WriteString(buildTranscript(msgs, countTokens))
	b.WriteString("\nProduce the JSON assessment.")
	return b.String()
}

func generatorUserPrompt(thread *model.Thread, msgs []*model.Message, state *model.ThreadState, decision GatekeeperDecision, countTokens func(string) int) string {
	var b strings.Builder
	assessment, _ := json.Marshal(state)
	fmt.Fprintf(&b, "Triage assessment:\n%s\n", assessment)
	fmt.Fprintf(&b, "\nRequested ticket type: %s\n", decision.WorkItemType)
	if decision.Candidate != nil {
		cand, _ := json.Marshal(decision.Candidate)
		fmt.Fprintf(&b, "Draft the ticket for this candidate only:\n%s\n", cand)
	}
	b.WriteString("\nConversation:\n")
	b.WriteString(buildTranscript(msgs, countTokens))
	b.WriteString("\nProduce the JSON ticket.")
	return b.String()
}
