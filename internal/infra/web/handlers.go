package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"feedback-ai-triage/internal/domain"
	"feedback-ai-triage/internal/domain/model"
	"feedback-ai-triage/internal/domain/ports/adapter"
	"feedback-ai-triage/internal/infra/logging"
	"feedback-ai-triage/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type jobResponse struct {
	ID               string          `json:"id"`
	ThreadID         string          `json:"thread_id"`
	Status           string          `json:"status"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"max_attempts"`
	GatekeeperAction string          `json:"gatekeeper_action,omitempty"`
	ResultJSON       json.RawMessage `json:"result_json,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ClaimedAt        *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

func toJobResponse(j *model.PipelineJob) jobResponse {
	return jobResponse{
		ID:               j.ID,
		ThreadID:         j.ThreadID,
		Status:           string(j.Status),
		Attempts:         j.Attempts,
		MaxAttempts:      j.MaxAttempts,
		GatekeeperAction: j.GatekeeperAction,
		ResultJSON:       json.RawMessage(j.ResultJSON),
		LastError:        j.ErrorMessage,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		ClaimedAt:        j.ClaimedAt,
		CompletedAt:      j.CompletedAt,
	}
}

func jobStatusHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := jobUC.Status(r.Context(), id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "Job not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to load job", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func jobStatsHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := jobUC.Stats(r.Context())
		if err != nil {
			http.Error(w, "Failed to get stats", http.StatusInternalServerError)
			return
		}

		type bucket struct {
			Count  int       `json:"count"`
			Oldest time.Time `json:"oldest"`
			Newest time.Time `json:"newest"`
		}
		out := make(map[string]bucket, len(stats))
		for _, s := range stats {
			out[string(s.Status)] = bucket{Count: s.Count, Oldest: s.Oldest, Newest: s.Newest}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type ingestRequest struct {
	SenderType string `json:"sender_type"`
	Visibility string `json:"visibility"`
	Body       string `json:"body"`
}

// Handler for appending a message to a thread. User-authored public messages
// also enqueue a triage job.
func ingestMessageHandler(ingestUC usecase.IngestUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		msg, job, err := ingestUC.AppendMessage(r.Context(), usecase.IngestInput{
			ThreadID:   threadID,
			SenderType: model.SenderType(req.SenderType),
			Visibility: model.Visibility(req.Visibility),
			Body:       req.Body,
		})
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "Thread not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, domain.ErrInvalidArgument) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "Failed to ingest message", http.StatusInternalServerError)
			return
		}

		resp := struct {
			MessageID string `json:"message_id"`
			JobID     string `json:"job_id,omitempty"`
		}{MessageID: msg.ID}
		if job != nil {
			resp.JobID = job.ID
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func breakerResetHandler(breaker adapter.Breaker, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prev := breaker.State()
		breaker.Reset()
		logging.With(r.Context(), log).Warn().Str("previous_state", string(prev)).Msg("circuit breaker manually reset")
		writeJSON(w, http.StatusOK, map[string]string{
			"previous_state": string(prev),
			"state":          string(adapter.BreakerClosed),
		})
	}
}

// healthHandler reports dependency status; 503 when the database is down.
// Redis and the breaker are advisory: the pipeline degrades but still runs.
func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		dbOK := s.db.Ping(ctx) == nil
		cacheOK := s.cache == nil || s.cache.Ping(ctx) == nil

		pending := 0
		if stats, err := s.jobUC.Stats(ctx); err == nil {
			for _, st := range stats {
				if st.Status == model.JobStatusPending {
					pending = st.Count
				}
			}
		}

		status := http.StatusOK
		if !dbOK {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, map[string]any{
			"database":      dbOK,
			"redis":         cacheOK,
			"breaker_state": string(s.breaker.State()),
			"pending_jobs":  pending,
		})
	}
}
