// Package main is the entry point for the queue drainer Lambda, the
// scheduled worker that claims due notifications and delivers them through
// the WhatsApp webhook channel. EventBridge invokes it every minute; outside
// Lambda it drains a single batch and exits, for local testing.
//
// Cold start wiring:
//  1. Structured JSON logger.
//  2. Configuration with SSM secret resolution.
//  3. pgx pool and repositories.
//  4. CloudWatch metrics (no-op when metrics are disabled).
//  5. WhatsApp channel over the resilience client.
//  6. Dispatcher and drainer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"duepoint/internal/config"
	"duepoint/internal/db"
	"duepoint/internal/notifications/core"
	"duepoint/internal/notifications/dispatch"
	"duepoint/internal/notifications/whatsapp"
	"duepoint/internal/scheduler"
	"duepoint/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn but its With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

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

	adapted := &slogAdapter{logger: logger}
	metrics := newMetrics(ctx, cfg, adapted)

	queue := db.NewQueueRepository(pool)
	dispatcher := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Accounts:     db.NewAccountRepository(pool),
		Targets:      db.NewTargetRepository(pool),
		Templates:    db.NewTemplateRepository(pool),
		Endpoints:    db.NewEndpointRepository(pool),
		History:      db.NewHistoryRepository(pool),
		Queue:        queue,
		Channel:      whatsapp.NewChannel(&cfg.Delivery, adapted),
		Metrics:      metrics,
		Logger:       adapted,
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
	})

	drainer := scheduler.NewDrainer(scheduler.DrainerConfig{
		Queue:      queue,
		Dispatcher: dispatcher,
		Locks:      db.NewJobLockRepository(pool),
		Jobs:       db.NewJobHistoryRepository(pool),
		Metrics:    metrics,
		Logger:     logger,
		WorkerID:   workerID(),
		BatchSize:  cfg.Scheduler.DrainBatchSize,
		LockTTL:    cfg.Scheduler.JobLockTTL,
	})

	handler := func(ctx context.Context, input scheduler.DrainerInput) (string, error) {
		processed, err := drainer.Run(ctx, input)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("processed %d notifications", processed), nil
	}

	if isLambda() {
		lambda.Start(handler)
		return
	}

	msg, err := handler(ctx, scheduler.DrainerInput{})
	if err != nil {
		logger.Error("drain failed", "error", err)
		os.Exit(1)
	}
	logger.Info(msg)
}

// newMetrics builds the pipeline metrics sink: CloudWatch when enabled, no-op
// otherwise. A CloudWatch client failure downgrades to no-op rather than
// blocking delivery.
func newMetrics(ctx context.Context, cfg *config.Config, logger types.Logger) core.PipelineMetrics {
	if !cfg.Observability.EnableMetrics {
		return core.NoopMetrics{}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Warn("cloudwatch unavailable, metrics disabled", "error", err.Error())
		return core.NoopMetrics{}
	}
	return core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), logger)
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
