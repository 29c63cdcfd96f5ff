package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedback-ai-triage/internal/config"
	"feedback-ai-triage/internal/domain/ports/adapter"
	aiAdapters "feedback-ai-triage/internal/infra/adapters/ai"
	pg "feedback-ai-triage/internal/infra/db/postgres"
	"feedback-ai-triage/internal/infra/logging"
	"feedback-ai-triage/internal/infra/metrics"
	red "feedback-ai-triage/internal/infra/redis"
	"feedback-ai-triage/internal/infra/sched"
	"feedback-ai-triage/internal/infra/web"
	"feedback-ai-triage/internal/infra/worker"
	"feedback-ai-triage/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop AI, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis (optional: rate limiting degrades without it) ----
	var redisClient red.RedisClient
	var rateLimiter *red.RateLimiter
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		rateLimiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set; cross-worker AI rate limiting disabled")
	}

	// ---- Repositories ----
	jobRepo := pg.NewJobRepo(pool)
	threadRepo := pg.NewThreadRepo(pool)
	messageRepo := pg.NewMessageRepo(pool)
	workItemRepo := pg.NewWorkItemRepo(pool)
	auditRepo := pg.NewAuditRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- AI adapter chain: provider -> breaker -> concurrency -> rate ----
	var base adapter.AIServiceAdapter
	switch {
	case cfg.Runtime.Dev && cfg.AI.OpenAIKey == "" && cfg.AI.GeminiKey == "":
		base = aiAdapters.NewNoopAIAdapter()
		logger.Info().Msg("AI adapter: noop (dev)")
	case cfg.AI.OpenAIKey != "":
		base, err = aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.Model, cfg.AI.MaxOutTokens)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai adapter")
		}
		logger.Info().Str("model", cfg.AI.Model).Msg("AI adapter: OpenAI")
	case cfg.AI.GeminiKey != "":
		base, err = aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.Model, cfg.AI.MaxOutTokens)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini adapter")
		}
		logger.Info().Str("model", cfg.AI.Model).Msg("AI adapter: Gemini")
	default:
		logger.Fatal().Msgf("no AI provider configured: set ai.openai_key or ai.gemini_key in %s", *cfgPath)
	}

	breaker := aiAdapters.NewBreakerAI(base, cfg.AI.BreakerThreshold, cfg.AI.BreakerCooldown, cfg.AI.RequestTimeout)
	var ai adapter.AIServiceAdapter = breaker
	ai = aiAdapters.NewLimitedAI(ai, cfg.AI.ConcurrentLimit)
	ai = aiAdapters.NewRateLimitedAI(ai, rateLimiter, cfg.AI.RateLimit, cfg.AI.RateWindow)

	// ---- Use cases ----
	extractor := usecase.NewThreadStateExtractor(ai, cfg.AI.Model, cfg.Worker.ValidationRetries, logger)
	generator := usecase.NewWorkItemGenerator(ai, cfg.AI.Model, cfg.Worker.ValidationRetries, logger)
	pipelineUC := usecase.NewPipelineUseCase(jobRepo, threadRepo, messageRepo, workItemRepo, auditRepo, extractor, generator, tm, logger)
	jobUC := usecase.NewJobUseCase(jobRepo, auditRepo, cfg.Worker.MaxAttempts, logger)
	ingestUC := usecase.NewIngestUseCase(threadRepo, messageRepo, jobUC, logger)

	// ---- Worker pool + poller ----
	workerPool := worker.NewPool(cfg.Worker.PoolSize, logger)
	workerPool.Start(ctx)
	poller := worker.NewPoller(jobRepo, pipelineUC, cfg.Worker.PollInterval, cfg.Worker.BatchSize, logger)
	go poller.Start(ctx, workerPool)

	// ---- Reclaim sweeper ----
	reclaimer := sched.NewReclaimWorker(cfg.Worker.ReclaimInterval, cfg.Worker.ProcessingLease, jobRepo, threadRepo, logger)
	go func() { _ = reclaimer.Run(ctx) }()

	// ---- Ops HTTP server ----
	var cachePinger web.Pinger
	if redisClient != nil {
		cachePinger = redisClient
	}
	srv := web.NewServer(jobUC, ingestUC, breaker, pool, cachePinger, cfg.Ops.AdminToken, logger)
	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Ops.Port), Handler: srv.Router()}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("ops API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("ops server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	cancel()
	workerPool.Stop()
}
