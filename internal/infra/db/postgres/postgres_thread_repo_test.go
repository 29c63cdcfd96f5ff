//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
)

func TestThreadRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewThreadRepo(testPool)

	t.Run("save and find round-trips the state document", func(t *testing.T) {
		cleanup(t)
		id := uuid.NewString()
		st := model.NewThreadState()
		st.Summary = "export breaks"
		st.OpenQuestions = []string{"which project?"}
		st.Recommendation = model.Recommendation{Action: model.ActionAskQuestions, Confidence: 0.9, Reason: "thin"}

		if err := repo.Save(ctx, nil, &model.Thread{
			ID: id, Status: model.ThreadStatusOpen, State: st,
		}); err != nil {
			t.Fatal(err)
		}

		got, err := repo.FindByID(ctx, nil, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.State == nil || got.State.Summary != "export breaks" {
			t.Fatalf("state = %+v", got.State)
		}
		if got.State.Recommendation.Action != model.ActionAskQuestions {
			t.Fatalf("action = %s", got.State.Recommendation.Action)
		}
	})

	t.Run("update state and status together", func(t *testing.T) {
		cleanup(t)
		id := uuid.NewString()
		if err := repo.Save(ctx, nil, &model.Thread{ID: id, Status: model.ThreadStatusOpen}); err != nil {
			t.Fatal(err)
		}

		st := model.NewThreadState()
		st.Summary = "now waiting"
		if err := repo.UpdateStateStatus(ctx, nil, id, model.ThreadStatusWaitingOnUser, st); err != nil {
			t.Fatal(err)
		}

		got, _ := repo.FindByID(ctx, nil, id)
		if got.Status != model.ThreadStatusWaitingOnUser || got.State.Summary != "now waiting" {
			t.Fatalf("got = %+v, state = %+v", got, got.State)
		}
	})

	t.Run("processing since set and clear", func(t *testing.T) {
		cleanup(t)
		id := uuid.NewString()
		if err := repo.Save(ctx, nil, &model.Thread{ID: id, Status: model.ThreadStatusOpen}); err != nil {
			t.Fatal(err)
		}

		since := time.Now()
		if err := repo.SetProcessingSince(ctx, nil, id, since); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.FindByID(ctx, nil, id)
		if got.AIProcessingSince == nil {
			t.Fatal("ai_processing_since not set")
		}

		if err := repo.ClearProcessingSince(ctx, nil, id); err != nil {
			t.Fatal(err)
		}
		got, _ = repo.FindByID(ctx, nil, id)
		if got.AIProcessingSince != nil {
			t.Fatal("ai_processing_since not cleared")
		}

		// Clear is idempotent.
		if err := repo.ClearProcessingSince(ctx, nil, id); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("missing thread returns not found", func(t *testing.T) {
		cleanup(t)
		if _, err := repo.FindByID(ctx, nil, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestWorkItemRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewWorkItemRepo(testPool)

	t.Run("save and find round-trips nested documents", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)

		bundle := model.NewPromptBundle()
		bundle.Goal = "fix the export"
		bundle.Constraints = []string{"no schema change"}
		effort := model.NewEstimatedEffort()
		effort.TShirtSize = "L"
		effort.Risks = []string{"large tables"}

		item := &model.WorkItem{
			ID:                 uuid.NewString(),
			ThreadID:           threadID,
			Status:             model.WorkItemPendingApproval,
			Title:              "Fix CSV export timeout",
			Description:        "export hits gateway limit",
			Type:               model.WorkItemBug,
			Priority:           model.PriorityP1,
			Severity:           2,
			RiskLevel:          model.RiskMedium,
			ConfidenceScore:    0.85,
			AcceptanceCriteria: []string{"500k rows export"},
			Labels:             []string{"backend"},
			PromptBundle:       bundle,
			EstimatedEffort:    effort,
		}
		if err := repo.Save(ctx, nil, item); err != nil {
			t.Fatal(err)
		}

		items, err := repo.FindByThread(ctx, nil, threadID)
		if err != nil {
			t.Fatal(err)
		}
		if len(items) != 1 {
			t.Fatalf("items = %d, want 1", len(items))
		}
		got := items[0]
		if got.Title != item.Title || got.Priority != model.PriorityP1 || got.Severity != 2 {
			t.Fatalf("got = %+v", got)
		}
		if got.PromptBundle.Goal != "fix the export" || len(got.PromptBundle.Constraints) != 1 {
			t.Fatalf("prompt bundle = %+v", got.PromptBundle)
		}
		if got.EstimatedEffort.TShirtSize != "L" {
			t.Fatalf("effort = %+v", got.EstimatedEffort)
		}
	})

	t.Run("saving an existing item updates its status", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)

		item := &model.WorkItem{
			ID:              uuid.NewString(),
			ThreadID:        threadID,
			Status:          model.WorkItemPendingApproval,
			Title:           "Ticket",
			Type:            model.WorkItemBug,
			Priority:        model.PriorityP2,
			Severity:        3,
			RiskLevel:       model.RiskMedium,
			PromptBundle:    model.NewPromptBundle(),
			EstimatedEffort: model.NewEstimatedEffort(),
		}
		if err := repo.Save(ctx, nil, item); err != nil {
			t.Fatal(err)
		}
		item.Status = model.WorkItemApproved
		if err := repo.Save(ctx, nil, item); err != nil {
			t.Fatal(err)
		}

		items, _ := repo.FindByThread(ctx, nil, threadID)
		if len(items) != 1 || items[0].Status != model.WorkItemApproved {
			t.Fatalf("items = %+v", items)
		}
	})
}
