package scheduler

import (
	"context"
	"log/slog"
	"time"

	"duepoint/internal/types"
)

// sweeperJobType is the job lock and history identifier for the retry sweeper.
const sweeperJobType = "retry_sweeper"

// RetrySource is the queue maintenance surface the sweeper drives.
type RetrySource interface {
	RequeueDueRetries(ctx context.Context) (int, error)
	ReclaimStuck(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper is the maintenance worker for the notification queue. It moves
// retrying rows whose backoff elapsed back to pending, and closes out rows
// stuck in processing after a worker died mid-delivery.
type Sweeper struct {
	queue  RetrySource
	locks  JobLocker
	jobs   JobRecorder
	clock  types.Clock
	logger *slog.Logger

	workerID   string
	stuckAfter time.Duration
	lockTTL    time.Duration
}

// SweeperConfig holds the configuration for creating a Sweeper.
type SweeperConfig struct {
	Queue  RetrySource
	Locks  JobLocker
	Jobs   JobRecorder
	Clock  types.Clock
	Logger *slog.Logger

	WorkerID   string
	StuckAfter time.Duration
	LockTTL    time.Duration
}

// NewSweeper creates a new Sweeper with the given configuration.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	stuckAfter := cfg.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Sweeper{
		queue:      cfg.Queue,
		locks:      cfg.Locks,
		jobs:       cfg.Jobs,
		clock:      clock,
		logger:     logger,
		workerID:   cfg.WorkerID,
		stuckAfter: stuckAfter,
		lockTTL:    lockTTL,
	}
}

// Run performs one sweep and returns the number of rows touched. If another
// worker holds the lock, Run returns (0, nil) immediately.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	acquired, err := s.locks.Acquire(ctx, sweeperJobType, s.workerID, s.lockTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		s.logger.Info("sweeper lock held by another worker, skipping")
		return 0, nil
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), sweeperJobType, s.workerID); err != nil {
			s.logger.Warn("failed to release sweeper lock", "error", err)
		}
	}()

	jobID, err := s.jobs.Start(ctx, sweeperJobType)
	if err != nil {
		return 0, err
	}

	touched, runErr := s.sweep(ctx)

	status := "success"
	if runErr != nil {
		status = "failed"
	}
	if err := s.jobs.Finish(context.WithoutCancel(ctx), jobID, status, touched, runErr); err != nil {
		s.logger.Warn("failed to finish job history entry", "error", err)
	}
	return touched, runErr
}

func (s *Sweeper) sweep(ctx context.Context) (int, error) {
	requeued, err := s.queue.RequeueDueRetries(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.clock.Now().Add(-s.stuckAfter)
	reclaimed, err := s.queue.ReclaimStuck(ctx, cutoff)
	if err != nil {
		return requeued, err
	}

	s.logger.Info("sweep complete",
		"requeued", requeued,
		"reclaimed_stuck", reclaimed,
	)
	return requeued + reclaimed, nil
}
