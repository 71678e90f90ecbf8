package scheduler

import (
	"context"
	"log/slog"
	"time"

	"duepoint/internal/notifications/core"
	"duepoint/internal/types"
)

// drainerJobType is the job lock and history identifier for the drainer.
const drainerJobType = "queue_drainer"

// DrainerInput defines the input for manual worker invocation. BatchSize
// overrides the configured claim limit; zero means use the default.
type DrainerInput struct {
	BatchSize int `json:"batch_size,omitempty"`
}

// ClaimSource claims due work and reports remaining depth.
type ClaimSource interface {
	ClaimDue(ctx context.Context, limit int) ([]*types.ScheduledNotification, error)
	CountPending(ctx context.Context) (int, error)
}

// DeliveryUnit processes one claimed notification end to end.
type DeliveryUnit interface {
	Dispatch(ctx context.Context, n *types.ScheduledNotification) error
}

// Drainer claims a bounded batch of due notifications and dispatches them
// sequentially. Claiming moves rows to processing atomically, so concurrent
// drainer runs partition the queue rather than duplicating sends. One
// notification's failure never affects the rest of the batch: the dispatcher
// resolves each row on its own and the drainer just counts outcomes.
type Drainer struct {
	queue      ClaimSource
	dispatcher DeliveryUnit
	locks      JobLocker
	jobs       JobRecorder
	metrics    core.PipelineMetrics
	logger     *slog.Logger

	workerID  string
	batchSize int
	lockTTL   time.Duration
}

// DrainerConfig holds the configuration for creating a Drainer.
type DrainerConfig struct {
	Queue      ClaimSource
	Dispatcher DeliveryUnit
	Locks      JobLocker
	Jobs       JobRecorder
	Metrics    core.PipelineMetrics
	Logger     *slog.Logger

	WorkerID  string
	BatchSize int
	LockTTL   time.Duration
}

// NewDrainer creates a new Drainer with the given configuration.
func NewDrainer(cfg DrainerConfig) *Drainer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Drainer{
		queue:      cfg.Queue,
		dispatcher: cfg.Dispatcher,
		locks:      cfg.Locks,
		jobs:       cfg.Jobs,
		metrics:    metrics,
		logger:     logger,
		workerID:   cfg.WorkerID,
		batchSize:  batchSize,
		lockTTL:    lockTTL,
	}
}

// Run claims one batch and dispatches it. Returns the number of
// notifications processed (delivered or resolved to retry/failure). If
// another worker holds the lock, Run returns (0, nil) immediately.
func (d *Drainer) Run(ctx context.Context, input DrainerInput) (int, error) {
	acquired, err := d.locks.Acquire(ctx, drainerJobType, d.workerID, d.lockTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		d.logger.Info("drainer lock held by another worker, skipping")
		return 0, nil
	}
	defer func() {
		if err := d.locks.Release(context.WithoutCancel(ctx), drainerJobType, d.workerID); err != nil {
			d.logger.Warn("failed to release drainer lock", "error", err)
		}
	}()

	jobID, err := d.jobs.Start(ctx, drainerJobType)
	if err != nil {
		return 0, err
	}

	processed, runErr := d.drain(ctx, input)

	status := "success"
	if runErr != nil {
		status = "failed"
	}
	if err := d.jobs.Finish(context.WithoutCancel(ctx), jobID, status, processed, runErr); err != nil {
		d.logger.Warn("failed to finish job history entry", "error", err)
	}
	return processed, runErr
}

func (d *Drainer) drain(ctx context.Context, input DrainerInput) (int, error) {
	batchSize := d.batchSize
	if input.BatchSize > 0 {
		batchSize = input.BatchSize
	}

	claimed, err := d.queue.ClaimDue(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		d.logger.Info("queue empty, nothing to drain")
		d.reportDepth(ctx)
		return 0, nil
	}

	delivered := 0
	for _, n := range claimed {
		if err := d.dispatcher.Dispatch(ctx, n); err != nil {
			// Row-level failure: the dispatcher already resolved the row to
			// retrying or failed. Log and move on to the next one.
			d.logger.Warn("notification dispatch failed",
				"notification_id", n.ID,
				"target_id", n.TargetID,
				"error", err.Error(),
			)
			continue
		}
		delivered++
	}

	d.logger.Info("drain complete",
		"claimed", len(claimed),
		"delivered", delivered,
		"failed", len(claimed)-delivered,
	)
	d.reportDepth(ctx)
	return len(claimed), nil
}

func (d *Drainer) reportDepth(ctx context.Context) {
	depth, err := d.queue.CountPending(ctx)
	if err != nil {
		d.logger.Warn("failed to count pending notifications", "error", err)
		return
	}
	d.metrics.RecordQueueDepth(ctx, depth)
}
