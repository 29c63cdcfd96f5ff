package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/adapter"
	"feedback-ai-triage/internal/domain/ports/repository"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memThreadRepo is a small in-memory implementation used by unit tests.
type memThreadRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.Thread
	findErr error
}

func newMemThreadRepo() *memThreadRepo {
	return &memThreadRepo{store: make(map[string]*model.Thread)}
}

func (m *memThreadRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Thread, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memThreadRepo) Save(ctx context.Context, _ repository.Tx, thread *model.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *thread
	m.store[thread.ID] = &cp
	return nil
}

func (m *memThreadRepo) UpdateStateStatus(ctx context.Context, _ repository.Tx, id string, status model.ThreadStatus, state *model.ThreadState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	t.State = state
	t.UpdatedAt = time.Now()
	return nil
}

func (m *memThreadRepo) SetProcessingSince(ctx context.Context, _ repository.Tx, id string, since time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.store[id]; ok {
		s := since
		t.AIProcessingSince = &s
	}
	return nil
}

func (m *memThreadRepo) ClearProcessingSince(ctx context.Context, _ repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.store[id]; ok {
		t.AIProcessingSince = nil
	}
	return nil
}

func (m *memThreadRepo) get(id string) *model.Thread {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.store[id]; ok {
		cp := *t
		return &cp
	}
	return nil
}

type memMessageRepo struct {
	mu    sync.RWMutex
	store []*model.Message
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{}
}

func (m *memMessageRepo) ListByThread(ctx context.Context, _ repository.Tx, threadID string) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Message
	for _, msg := range m.store {
		if msg.ThreadID == threadID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memMessageRepo) Save(ctx context.Context, _ repository.Tx, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.store = append(m.store, &cp)
	return nil
}

func (m *memMessageRepo) byVisibility(threadID string, vis model.Visibility) []*model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Message
	for _, msg := range m.store {
		if msg.ThreadID == threadID && msg.Visibility == vis {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out
}

type memJobRepo struct {
	mu    sync.RWMutex
	store map[string]*model.PipelineJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.PipelineJob)}
}

func (m *memJobRepo) Create(ctx context.Context, _ repository.Tx, job *model.PipelineJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) ClaimNext(ctx context.Context, limit int) ([]*model.PipelineJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var eligible []*model.PipelineJob
	for _, j := range m.store {
		if j.Status == model.JobStatusPending && j.Attempts < j.MaxAttempts {
			eligible = append(eligible, j)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAt.Before(eligible[j].CreatedAt) })
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	now := time.Now()
	out := make([]*model.PipelineJob, 0, len(eligible))
	for _, j := range eligible {
		j.Status = model.JobStatusProcessing
		j.Attempts++
		c := now
		j.ClaimedAt = &c
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memJobRepo) MarkCompleted(ctx context.Context, _ repository.Tx, jobID, gatekeeperAction, resultJSON string) error {
	return m.finish(jobID, model.JobStatusCompleted, gatekeeperAction, resultJSON)
}

func (m *memJobRepo) MarkWaitingForInput(ctx context.Context, _ repository.Tx, jobID, gatekeeperAction, resultJSON string) error {
	return m.finish(jobID, model.JobStatusWaitingForInput, gatekeeperAction, resultJSON)
}

func (m *memJobRepo) finish(jobID string, status model.JobStatus, action, resultJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	j.Status = status
	j.GatekeeperAction = action
	j.ResultJSON = resultJSON
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *memJobRepo) MarkFailed(ctx context.Context, _ repository.Tx, jobID, errMsg string, retryable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	switch {
	case !retryable || j.Attempts >= j.MaxAttempts:
		j.Status = model.JobStatusFailed
		j.ErrorMessage = errMsg
	case m.hasNewerLiveSibling(j):
		j.Status = model.JobStatusCanceled
		j.ErrorMessage = "superseded by newer job"
	default:
		j.Status = model.JobStatusPending
		j.ErrorMessage = errMsg
	}
	j.UpdatedAt = time.Now()
	return nil
}

// hasNewerLiveSibling mirrors the repo's supersession check: a pending or
// processing job for the same thread created after this one.
func (m *memJobRepo) hasNewerLiveSibling(j *model.PipelineJob) bool {
	for _, n := range m.store {
		if n.ThreadID != j.ThreadID {
			continue
		}
		if n.Status != model.JobStatusPending && n.Status != model.JobStatusProcessing {
			continue
		}
		if n.CreatedAt.After(j.CreatedAt) || (n.CreatedAt.Equal(j.CreatedAt) && n.ID > j.ID) {
			return true
		}
	}
	return false
}

func (m *memJobRepo) MarkCanceled(ctx context.Context, _ repository.Tx, jobID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status == model.JobStatusCompleted || j.Status == model.JobStatusFailed {
		return nil
	}
	j.Status = model.JobStatusCanceled
	j.ErrorMessage = reason
	j.UpdatedAt = time.Now()
	return nil
}

func (m *memJobRepo) CancelStaleForThread(ctx context.Context, _ repository.Tx, threadID, newerThanJobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	newer, ok := m.store[newerThanJobID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	n := 0
	for _, j := range m.store {
		if j.ThreadID == threadID && j.ID != newerThanJobID &&
			j.Status == model.JobStatusPending && !j.CreatedAt.After(newer.CreatedAt) {
			j.Status = model.JobStatusCanceled
			j.ErrorMessage = "superseded"
			n++
		}
	}
	return n, nil
}

func (m *memJobRepo) ReclaimStuck(ctx context.Context, lease time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-lease)
	var threadIDs []string
	for _, j := range m.store {
		if j.Status == model.JobStatusProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(cutoff) {
			switch {
			case j.Attempts >= j.MaxAttempts:
				j.Status = model.JobStatusFailed
				j.ErrorMessage = "lease expired"
			case m.hasNewerLiveSibling(j):
				j.Status = model.JobStatusCanceled
				j.ErrorMessage = "superseded by newer job"
			default:
				j.Status = model.JobStatusPending
			}
			j.ClaimedAt = nil
			threadIDs = append(threadIDs, j.ThreadID)
		}
	}
	return threadIDs, nil
}

func (m *memJobRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.PipelineJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) CountByStatus(ctx context.Context) ([]model.JobStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byStatus := make(map[model.JobStatus]*model.JobStats)
	for _, j := range m.store {
		s, ok := byStatus[j.Status]
		if !ok {
			s = &model.JobStats{Status: j.Status, Oldest: j.CreatedAt, Newest: j.CreatedAt}
			byStatus[j.Status] = s
		}
		s.Count++
		if j.CreatedAt.Before(s.Oldest) {
			s.Oldest = j.CreatedAt
		}
		if j.CreatedAt.After(s.Newest) {
			s.Newest = j.CreatedAt
		}
	}
	out := make([]model.JobStats, 0, len(byStatus))
	for _, s := range byStatus {
		out = append(out, *s)
	}
	return out, nil
}

func (m *memJobRepo) get(id string) *model.PipelineJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if j, ok := m.store[id]; ok {
		cp := *j
		return &cp
	}
	return nil
}

type memWorkItemRepo struct {
	mu    sync.RWMutex
	store map[string]*model.WorkItem
}

func newMemWorkItemRepo() *memWorkItemRepo {
	return &memWorkItemRepo{store: make(map[string]*model.WorkItem)}
}

func (m *memWorkItemRepo) Save(ctx context.Context, _ repository.Tx, item *model.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.store[item.ID] = &cp
	return nil
}

func (m *memWorkItemRepo) FindByThread(ctx context.Context, _ repository.Tx, threadID string) ([]*model.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.WorkItem
	for _, w := range m.store {
		if w.ThreadID == threadID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memAuditRepo struct {
	mu      sync.RWMutex
	entries []*model.AuditEntry
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{}
}

func (m *memAuditRepo) Append(ctx context.Context, _ repository.Tx, entry *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memAuditRepo) byAction(action string) []*model.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.AuditEntry
	for _, e := range m.entries {
		if e.Action == action {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// memTxManager runs fn directly; unit tests don't exercise rollback.
type memTxManager struct{}

func (memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// fakeAI replays scripted responses in order. A response with a non-nil err
// simulates a transport failure.
type fakeAI struct {
	mu        sync.Mutex
	responses []fakeAIResponse
	calls     int
}

type fakeAIResponse struct {
	text string
	err  error
}

func newFakeAI(responses ...fakeAIResponse) *fakeAI {
	return &fakeAI{responses: responses}
}

func (f *fakeAI) Provider() string { return "fake" }

func (f *fakeAI) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += len(m.Content) / 4
	}
	return n, nil
}

func (f *fakeAI) Chat(ctx context.Context, model string, messages []adapter.Message) (string, error) {
	text, _, err := f.ChatWithUsage(ctx, model, messages)
	return text, err
}

func (f *fakeAI) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		return "", adapter.Usage{}, domain.ErrLLMUnavailable
	}
	r := f.responses[i]
	if r.err != nil {
		return "", adapter.Usage{}, r.err
	}
	return r.text, adapter.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}, nil
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
