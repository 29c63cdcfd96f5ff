package usecase

import (
	"context"
	"errors"
	"testing"

	"feedback-ai-triage/internal/domain/model"
)

const validDraftJSON = `{
	"title": "Fix CSV export timeout",
	"description": "Export hits the 2 minute gateway limit",
	"type": "Bug",
	"priority": "P1",
	"severity": 2,
	"acceptanceCriteria": ["export of 500k rows finishes"]
}`

func approvedDecision() GatekeeperDecision {
	return GatekeeperDecision{
		ShouldCreateWorkItem: true,
		WorkItemType:         model.WorkItemBug,
		EffectiveAction:      string(model.ActionCreateBugItem),
	}
}

func TestGenerateHappyPath(t *testing.T) {
	ai := newFakeAI(fakeAIResponse{text: validDraftJSON})
	gen := NewWorkItemGenerator(ai, "m", 2, testLogger())

	st := stateWith(model.ActionCreateBugItem, 0.8)
	d, serr := gen.Generate(context.Background(), testThread(), testMessages(), st, approvedDecision())
	if serr != nil {
		t.Fatalf("unexpected stage error: %v", serr)
	}
	if d.Title != "Fix CSV export timeout" || d.Priority != model.PriorityP1 || d.Severity != 2 {
		t.Fatalf("draft mangled: %+v", d)
	}
}

func TestGenerateMissingTitleRetriesThenFails(t *testing.T) {
	ai := newFakeAI(
		fakeAIResponse{text: `{"description": "no title here"}`},
		fakeAIResponse{text: `{"title": ""}`},
		fakeAIResponse{text: `{"title": "  "}`},
	)
	gen := NewWorkItemGenerator(ai, "m", 2, testLogger())

	st := stateWith(model.ActionCreateBugItem, 0.8)
	_, serr := gen.Generate(context.Background(), testThread(), testMessages(), st, approvedDecision())
	if serr == nil {
		t.Fatal("expected stage error")
	}
	if serr.Class != FailureValidation {
		t.Fatalf("class = %s, want validation", serr.Class)
	}
	if serr.RawText != `{"title": "  "}` {
		t.Fatalf("RawText = %q, want last raw output", serr.RawText)
	}
	if ai.callCount() != 3 {
		t.Fatalf("calls = %d, want 3", ai.callCount())
	}
}

func TestGenerateTransportFailureAborts(t *testing.T) {
	ai := newFakeAI(
		fakeAIResponse{text: "garbage"},
		fakeAIResponse{err: errors.New("circuit open")},
	)
	gen := NewWorkItemGenerator(ai, "m", 2, testLogger())

	st := stateWith(model.ActionCreateBugItem, 0.8)
	_, serr := gen.Generate(context.Background(), testThread(), testMessages(), st, approvedDecision())
	if serr == nil {
		t.Fatal("expected stage error")
	}
	if serr.Class != FailureUnavailable {
		t.Fatalf("class = %s, want llm_unavailable", serr.Class)
	}
	if ai.callCount() != 2 {
		t.Fatalf("calls = %d, want 2 (one validation retry, then abort)", ai.callCount())
	}
}
