// Package main is the entry point for the queue populator Lambda, the
// scheduled worker that projects automation rules into concrete pending
// notification rows. EventBridge invokes it on a fixed cadence; outside
// Lambda it runs a single projection and exits, for local testing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"duepoint/internal/config"
	"duepoint/internal/db"
	"duepoint/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		logger.Error("configuration load failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("database pool creation failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	projector := scheduler.NewProjector(scheduler.ProjectorConfig{
		Automations: db.NewAutomationRepository(pool),
		Targets:     db.NewTargetRepository(pool),
		Queue:       db.NewQueueRepository(pool),
		Locks:       db.NewJobLockRepository(pool),
		Jobs:        db.NewJobHistoryRepository(pool),
		Logger:      logger,
		WorkerID:    workerID(),
		Horizon:     cfg.Scheduler.ProjectionHorizon,
		LockTTL:     cfg.Scheduler.JobLockTTL,
	})

	handler := func(ctx context.Context, input scheduler.ProjectorInput) (string, error) {
		inserted, err := projector.Run(ctx, input)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("projected %d notifications", inserted), nil
	}

	if isLambda() {
		lambda.Start(handler)
		return
	}

	msg, err := handler(ctx, scheduler.ProjectorInput{})
	if err != nil {
		logger.Error("projection failed", "error", err)
		os.Exit(1)
	}
	logger.Info(msg)
}

func isLambda() bool {
	_, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return ok
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()[:8]
}
