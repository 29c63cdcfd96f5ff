package web

import (
	"context"
	"net/http"
	"strings"

	"feedback-ai-triage/internal/domain/ports/adapter"
	"feedback-ai-triage/internal/infra/logging"
	"feedback-ai-triage/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Pinger covers the db pool and the redis client for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	jobUC    usecase.JobUseCase
	ingestUC usecase.IngestUseCase
	breaker  adapter.Breaker
	db       Pinger
	cache    Pinger
	apiKey   string
	log      *zerolog.Logger
}

func NewServer(
	jobUC usecase.JobUseCase,
	ingestUC usecase.IngestUseCase,
	breaker adapter.Breaker,
	db Pinger,
	cache Pinger,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		jobUC:    jobUC,
		ingestUC: ingestUC,
		breaker:  breaker,
		db:       db,
		cache:    cache,
		apiKey:   apiKey,
		log:      logger,
	}
}

// Router builds the ops API. Reads are open; mutating routes sit behind the
// shared-secret Bearer token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(traceMiddleware)

	r.Get("/healthz", s.healthHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs/stats", jobStatsHandler(s.jobUC))
		r.Get("/jobs/{id}", jobStatusHandler(s.jobUC))

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/threads/{id}/messages", ingestMessageHandler(s.ingestUC))
			r.Post("/breaker/reset", breakerResetHandler(s.breaker, s.log))
		})
	})

	return r
}

// traceMiddleware stamps each request with a trace id for log correlation.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), uuid.NewString())))
	})
}

// authMiddleware provides simple Bearer token authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("admin API token is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
