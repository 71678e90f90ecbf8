// Package scheduler implements the scheduled workers of the notification
// pipeline: the due-date projector, the queue drainer, and the retry sweeper.
// Each worker acquires a job lock before running so overlapping invocations
// do not double-process, and records its execution in job history.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"duepoint/internal/types"
)

// projectorJobType is the job lock and history identifier for the projector.
const projectorJobType = "due_date_projector"

// targetReadConcurrency bounds how many rules have their target lists read
// from the database at once.
const targetReadConcurrency = 8

// ProjectorInput defines the input for manual worker invocation. Horizon
// overrides the configured projection window; zero means use the default.
type ProjectorInput struct {
	Horizon time.Duration `json:"horizon,omitempty"`
}

// AutomationSource lists the rules the projector expands.
type AutomationSource interface {
	ListActive(ctx context.Context) ([]*types.AutomationRule, error)
}

// TargetSource reads a rule's eligible recipients, scoped to the rule's
// owning account.
type TargetSource interface {
	ListEligibleByIDs(ctx context.Context, kind types.TargetKind, accountID string, ids []string) ([]*types.Target, error)
}

// QueueSink materializes projected notifications.
type QueueSink interface {
	UpsertPendingBatch(ctx context.Context, items []*types.ScheduledNotification) (int, error)
}

// JobLocker is the distributed lock used by all workers.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobRecorder tracks worker executions.
type JobRecorder interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// Projector materializes automation rules into concrete scheduled
// notification rows. For every active rule and every eligible target, it
// computes send_at = due date + rule offset at the rule's time of day, and
// inserts a pending row unless an equivalent non-terminal row already exists.
// Re-running the projector over the same horizon inserts nothing.
type Projector struct {
	automations AutomationSource
	targets     TargetSource
	queue       QueueSink
	locks       JobLocker
	jobs        JobRecorder
	clock       types.Clock
	logger      *slog.Logger

	workerID string
	horizon  time.Duration
	lockTTL  time.Duration
}

// ProjectorConfig holds the configuration for creating a Projector.
type ProjectorConfig struct {
	Automations AutomationSource
	Targets     TargetSource
	Queue       QueueSink
	Locks       JobLocker
	Jobs        JobRecorder
	Clock       types.Clock
	Logger      *slog.Logger

	WorkerID string
	Horizon  time.Duration
	LockTTL  time.Duration
}

// NewProjector creates a new Projector with the given configuration.
func NewProjector(cfg ProjectorConfig) *Projector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = 30 * 24 * time.Hour
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Projector{
		automations: cfg.Automations,
		targets:     cfg.Targets,
		queue:       cfg.Queue,
		locks:       cfg.Locks,
		jobs:        cfg.Jobs,
		clock:       clock,
		logger:      logger,
		workerID:    cfg.WorkerID,
		horizon:     horizon,
		lockTTL:     lockTTL,
	}
}

// Run projects all active rules and returns the number of rows inserted.
// If another worker holds the lock, Run returns (0, nil) immediately.
func (p *Projector) Run(ctx context.Context, input ProjectorInput) (int, error) {
	acquired, err := p.locks.Acquire(ctx, projectorJobType, p.workerID, p.lockTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		p.logger.Info("projector lock held by another worker, skipping")
		return 0, nil
	}
	defer func() {
		if err := p.locks.Release(context.WithoutCancel(ctx), projectorJobType, p.workerID); err != nil {
			p.logger.Warn("failed to release projector lock", "error", err)
		}
	}()

	jobID, err := p.jobs.Start(ctx, projectorJobType)
	if err != nil {
		return 0, err
	}

	inserted, runErr := p.project(ctx, input)

	status := "success"
	if runErr != nil {
		status = "failed"
	}
	if err := p.jobs.Finish(context.WithoutCancel(ctx), jobID, status, inserted, runErr); err != nil {
		p.logger.Warn("failed to finish job history entry", "error", err)
	}
	return inserted, runErr
}

func (p *Projector) project(ctx context.Context, input ProjectorInput) (int, error) {
	horizon := p.horizon
	if input.Horizon > 0 {
		horizon = input.Horizon
	}

	now := p.clock.Now()
	// The projector never materializes a send instant in the past. The floor
	// is the start of the current UTC day: rules whose time of day already
	// passed today still project today's row, and the drainer picks it up on
	// its next run.
	floor := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	ceiling := now.Add(horizon)

	rules, err := p.automations.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	var projected []*types.ScheduledNotification

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(targetReadConcurrency)

	for _, rule := range rules {
		rule := rule
		g.Go(func() error {
			hour, minute, err := parseClock(rule.ScheduledTime)
			if err != nil {
				// A malformed rule must not sink the whole run.
				p.logger.Warn("skipping rule with invalid scheduled time",
					"automation_id", rule.ID,
					"scheduled_time", rule.ScheduledTime,
				)
				return nil
			}

			// The read is scoped to the rule's owner: a target id that slipped
			// into the rule but belongs to another account is dropped here,
			// never materialized.
			targets, err := p.targets.ListEligibleByIDs(gctx, rule.Audience, rule.AccountID, rule.TargetIDs)
			if err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}

			var rows []*types.ScheduledNotification
			for _, t := range targets {
				sendAt := sendInstant(t.DueDate, rule.DaysOffset, hour, minute)
				if sendAt.Before(floor) || sendAt.After(ceiling) {
					continue
				}
				rows = append(rows, &types.ScheduledNotification{
					AccountID:    rule.AccountID,
					TargetID:     t.ID,
					TargetKind:   rule.Audience,
					AutomationID: rule.ID,
					TemplateID:   rule.TemplateID,
					SendAt:       sendAt,
					Status:       types.NotificationPending,
				})
			}

			mu.Lock()
			projected = append(projected, rows...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	inserted, err := p.queue.UpsertPendingBatch(ctx, projected)
	if err != nil {
		return inserted, err
	}

	p.logger.Info("projection complete",
		"rules", len(rules),
		"candidates", len(projected),
		"inserted", inserted,
	)
	return inserted, nil
}

// sendInstant computes the UTC send time for a target due date, an offset in
// days, and a time of day.
func sendInstant(dueDate time.Time, daysOffset, hour, minute int) time.Time {
	d := dueDate.UTC()
	return time.Date(d.Year(), d.Month(), d.Day()+daysOffset, hour, minute, 0, 0, time.UTC)
}

// parseClock parses an "HH:MM" string into its components.
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", s)
	}
	return hour, minute, nil
}
