// Package main is the entry point for the retry sweeper Lambda, the
// maintenance worker that requeues retrying notifications whose backoff has
// elapsed and closes out rows stuck in processing. EventBridge invokes it on
// a fixed cadence; outside Lambda it performs one sweep and exits.
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

	sweeper := scheduler.NewSweeper(scheduler.SweeperConfig{
		Queue:      db.NewQueueRepository(pool),
		Locks:      db.NewJobLockRepository(pool),
		Jobs:       db.NewJobHistoryRepository(pool),
		Logger:     logger,
		WorkerID:   workerID(),
		StuckAfter: cfg.Scheduler.StuckAfter,
		LockTTL:    cfg.Scheduler.JobLockTTL,
	})

	handler := func(ctx context.Context) (string, error) {
		touched, err := sweeper.Run(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("swept %d notifications", touched), nil
	}

	if isLambda() {
		lambda.Start(handler)
		return
	}

	msg, err := handler(ctx)
	if err != nil {
		logger.Error("sweep failed", "error", err)
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
