//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
)

func seedThread(t *testing.T) string {
	t.Helper()
	threadRepo := NewThreadRepo(testPool)
	id := uuid.NewString()
	now := time.Now()
	if err := threadRepo.Save(context.Background(), nil, &model.Thread{
		ID: id, Status: model.ThreadStatusOpen, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("failed to save thread: %v", err)
	}
	return id
}

func seedJob(t *testing.T, threadID string, createdAt time.Time) *model.PipelineJob {
	t.Helper()
	repo := NewJobRepo(testPool)
	job := &model.PipelineJob{
		ID:          ulid.Make().String(),
		ThreadID:    threadID,
		Status:      model.JobStatusPending,
		MaxAttempts: 3,
		CreatedAt:   createdAt,
	}
	if err := repo.Create(context.Background(), nil, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	return job
}

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewJobRepo(testPool)

	t.Run("claim flips pending to processing and stamps the claim", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		seeded := seedJob(t, threadID, time.Now())

		claimed, err := repo.ClaimNext(ctx, 5)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if len(claimed) != 1 {
			t.Fatalf("claimed %d jobs, want 1", len(claimed))
		}
		j := claimed[0]
		if j.ID != seeded.ID || j.Status != model.JobStatusProcessing || j.Attempts != 1 || j.ClaimedAt == nil {
			t.Fatalf("claimed row = %+v", j)
		}

		// Nothing left to claim.
		again, err := repo.ClaimNext(ctx, 5)
		if err != nil {
			t.Fatalf("second claim: %v", err)
		}
		if len(again) != 0 {
			t.Fatalf("second claim returned %d jobs, want 0", len(again))
		}
	})

	t.Run("concurrent claimers receive disjoint jobs", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		const jobs = 20
		for i := 0; i < jobs; i++ {
			seedJob(t, threadID, time.Now().Add(time.Duration(i)*time.Millisecond))
		}

		const claimers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := make(map[string]int)

		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					claimed, err := repo.ClaimNext(ctx, 3)
					if err != nil {
						t.Errorf("claim: %v", err)
						return
					}
					if len(claimed) == 0 {
						return
					}
					mu.Lock()
					for _, j := range claimed {
						seen[j.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != jobs {
			t.Fatalf("claimed %d distinct jobs, want %d", len(seen), jobs)
		}
		for id, n := range seen {
			if n != 1 {
				t.Fatalf("job %s claimed %d times", id, n)
			}
		}
	})

	t.Run("failed retryable returns to pending until attempts exhausted", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		job := seedJob(t, threadID, time.Now())

		for attempt := 1; attempt <= 3; attempt++ {
			claimed, err := repo.ClaimNext(ctx, 1)
			if err != nil || len(claimed) != 1 {
				t.Fatalf("attempt %d claim: %v (%d rows)", attempt, err, len(claimed))
			}
			if err := repo.MarkFailed(ctx, nil, job.ID, "provider down", true); err != nil {
				t.Fatalf("mark failed: %v", err)
			}
			got, err := repo.FindByID(ctx, nil, job.ID)
			if err != nil {
				t.Fatal(err)
			}
			want := model.JobStatusPending
			if attempt == 3 {
				want = model.JobStatusFailed
			}
			if got.Status != want {
				t.Fatalf("after attempt %d: status = %s, want %s", attempt, got.Status, want)
			}
		}
	})

	t.Run("retryable failure with a newer live job cancels instead of requeuing", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		older := seedJob(t, threadID, time.Now().Add(-time.Minute))

		claimed, err := repo.ClaimNext(ctx, 1)
		if err != nil || len(claimed) != 1 || claimed[0].ID != older.ID {
			t.Fatalf("claim: %v (%d rows)", err, len(claimed))
		}

		// Enqueued while the first job was processing; CancelStaleForThread
		// does not touch processing rows, so both exist.
		newer := seedJob(t, threadID, time.Now())

		if err := repo.MarkFailed(ctx, nil, older.ID, "provider down", true); err != nil {
			t.Fatal(err)
		}

		gotOlder, _ := repo.FindByID(ctx, nil, older.ID)
		if gotOlder.Status != model.JobStatusCanceled {
			t.Fatalf("older job status = %s, want canceled", gotOlder.Status)
		}
		if gotOlder.ErrorMessage != "superseded by newer job" {
			t.Fatalf("older job error = %q", gotOlder.ErrorMessage)
		}

		next, err := repo.ClaimNext(ctx, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(next) != 1 || next[0].ID != newer.ID {
			t.Fatalf("claimed %d jobs, want only the newer one", len(next))
		}
	})

	t.Run("validation failure is terminal regardless of attempts", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		job := seedJob(t, threadID, time.Now())

		if _, err := repo.ClaimNext(ctx, 1); err != nil {
			t.Fatal(err)
		}
		if err := repo.MarkFailed(ctx, nil, job.ID, "unusable output", false); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.FindByID(ctx, nil, job.ID)
		if got.Status != model.JobStatusFailed {
			t.Fatalf("status = %s, want failed", got.Status)
		}
	})

	t.Run("cancel stale supersedes older pending jobs only", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		otherThread := seedThread(t)

		older := seedJob(t, threadID, time.Now().Add(-time.Minute))
		unrelated := seedJob(t, otherThread, time.Now().Add(-time.Minute))
		newest := seedJob(t, threadID, time.Now())

		n, err := repo.CancelStaleForThread(ctx, nil, threadID, newest.ID)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("canceled %d jobs, want 1", n)
		}

		gotOlder, _ := repo.FindByID(ctx, nil, older.ID)
		if gotOlder.Status != model.JobStatusCanceled {
			t.Fatalf("older job status = %s, want canceled", gotOlder.Status)
		}
		gotNewest, _ := repo.FindByID(ctx, nil, newest.ID)
		if gotNewest.Status != model.JobStatusPending {
			t.Fatalf("newest job status = %s, want pending", gotNewest.Status)
		}
		gotUnrelated, _ := repo.FindByID(ctx, nil, unrelated.ID)
		if gotUnrelated.Status != model.JobStatusPending {
			t.Fatalf("unrelated job status = %s, want pending", gotUnrelated.Status)
		}
	})

	t.Run("reclaim returns expired leases to pending", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		job := seedJob(t, threadID, time.Now())

		if _, err := repo.ClaimNext(ctx, 1); err != nil {
			t.Fatal(err)
		}
		// Backdate the claim past the lease.
		if _, err := testPool.Exec(ctx,
			`UPDATE pipeline_jobs SET claimed_at = now() - interval '1 hour' WHERE id = $1`, job.ID); err != nil {
			t.Fatal(err)
		}

		threadIDs, err := repo.ReclaimStuck(ctx, 10*time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if len(threadIDs) != 1 || threadIDs[0] != threadID {
			t.Fatalf("reclaimed threads = %v, want [%s]", threadIDs, threadID)
		}

		got, _ := repo.FindByID(ctx, nil, job.ID)
		if got.Status != model.JobStatusPending {
			t.Fatalf("status = %s, want pending", got.Status)
		}
		if got.ClaimedAt != nil {
			t.Fatal("claimed_at should be cleared on reclaim")
		}
	})

	t.Run("reclaim cancels an expired lease when a newer job is queued", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		older := seedJob(t, threadID, time.Now().Add(-time.Minute))

		if _, err := repo.ClaimNext(ctx, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := testPool.Exec(ctx,
			`UPDATE pipeline_jobs SET claimed_at = now() - interval '1 hour' WHERE id = $1`, older.ID); err != nil {
			t.Fatal(err)
		}
		newer := seedJob(t, threadID, time.Now())

		if _, err := repo.ReclaimStuck(ctx, 10*time.Minute); err != nil {
			t.Fatal(err)
		}

		gotOlder, _ := repo.FindByID(ctx, nil, older.ID)
		if gotOlder.Status != model.JobStatusCanceled {
			t.Fatalf("older job status = %s, want canceled", gotOlder.Status)
		}

		next, err := repo.ClaimNext(ctx, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(next) != 1 || next[0].ID != newer.ID {
			t.Fatalf("claimed %d jobs, want only the newer one", len(next))
		}
	})

	t.Run("reclaim ignores live leases", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		seedJob(t, threadID, time.Now())

		if _, err := repo.ClaimNext(ctx, 1); err != nil {
			t.Fatal(err)
		}
		threadIDs, err := repo.ReclaimStuck(ctx, 10*time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if len(threadIDs) != 0 {
			t.Fatalf("reclaimed %d jobs with live leases", len(threadIDs))
		}
	})

	t.Run("find by id and stats", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		seedJob(t, threadID, time.Now())
		seedJob(t, threadID, time.Now())

		if _, err := repo.FindByID(ctx, nil, "no-such-job"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}

		stats, err := repo.CountByStatus(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(stats) != 1 || stats[0].Status != model.JobStatusPending || stats[0].Count != 2 {
			t.Fatalf("stats = %+v", stats)
		}
	})

	t.Run("completed job round-trips result json", func(t *testing.T) {
		cleanup(t)
		threadID := seedThread(t)
		job := seedJob(t, threadID, time.Now())

		if _, err := repo.ClaimNext(ctx, 1); err != nil {
			t.Fatal(err)
		}
		result := `{"gatekeeperAction": "NoTicket", "shouldCreateWorkItem": false}`
		if err := repo.MarkCompleted(ctx, nil, job.ID, "NoTicket", result); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.FindByID(ctx, nil, job.ID)
		if got.Status != model.JobStatusCompleted || got.GatekeeperAction != "NoTicket" {
			t.Fatalf("got = %+v", got)
		}
		if got.CompletedAt == nil || got.ResultJSON == "" {
			t.Fatal("completed_at / result_json not set")
		}
	})
}
