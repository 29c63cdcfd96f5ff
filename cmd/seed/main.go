package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"feedback-ai-triage/internal/config"
	"feedback-ai-triage/internal/domain/model"
	pg "feedback-ai-triage/internal/infra/db/postgres"
	"feedback-ai-triage/internal/infra/logging"
	"feedback-ai-triage/internal/usecase"

	"github.com/google/uuid"
)

// Applies the schema and seeds one demo thread with a pending triage job so
// a locally running worker has something to chew on.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schemaPath := flag.String("schema", "migrations/schema.sql", "path to schema file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		log.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	fmt.Println("schema applied")

	logger := logging.New(cfg.Log, true)
	threadRepo := pg.NewThreadRepo(pool)
	messageRepo := pg.NewMessageRepo(pool)
	jobRepo := pg.NewJobRepo(pool)
	auditRepo := pg.NewAuditRepo(pool)
	jobUC := usecase.NewJobUseCase(jobRepo, auditRepo, cfg.Worker.MaxAttempts, logger)
	ingestUC := usecase.NewIngestUseCase(threadRepo, messageRepo, jobUC, logger)

	now := time.Now()
	thread := &model.Thread{
		ID:        uuid.NewString(),
		Status:    model.ThreadStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := threadRepo.Save(ctx, nil, thread); err != nil {
		log.Fatalf("save thread: %v", err)
	}

	bodies := []string{
		"Export to CSV times out every time on our biggest project.",
		"It worked last month. Now the page spins for about two minutes and then shows a 504.",
	}
	var lastJobID string
	for _, body := range bodies {
		msg, job, err := ingestUC.AppendMessage(ctx, usecase.IngestInput{
			ThreadID:   thread.ID,
			SenderType: model.SenderUser,
			Visibility: model.VisibilityPublic,
			Body:       body,
		})
		if err != nil {
			log.Fatalf("ingest: %v", err)
		}
		fmt.Printf("seeded message %s\n", msg.ID)
		if job != nil {
			lastJobID = job.ID
		}
	}

	fmt.Printf("thread %s ready, live job %s\n", thread.ID, lastJobID)
}
