package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"duepoint/internal/types"
)

// QueueRepository provides data access for the scheduled_notifications table,
// the work queue of the delivery pipeline. A partial unique index on
// (automation_id, target_id, send date) over non-terminal rows keeps the
// projector idempotent; the drainer claims rows with FOR UPDATE SKIP LOCKED
// so concurrent runs never pick up the same notification twice.
type QueueRepository struct {
	db DBTX
}

// NewQueueRepository creates a new QueueRepository backed by the given
// database connection (pool or transaction).
func NewQueueRepository(db DBTX) *QueueRepository {
	return &QueueRepository{db: db}
}

const queueColumns = `id, account_id, target_id, target_kind, automation_id, template_id,
	        send_at, status, attempt_count, next_retry_at, failure_reason,
	        created_at, updated_at`

// UpsertPendingBatch inserts pending notification rows, skipping any that
// collide with an existing non-terminal row for the same rule, target, and
// send date. Returns the number of rows actually inserted. Used by the
// projector; re-running it over the same horizon is a no-op.
func (r *QueueRepository) UpsertPendingBatch(ctx context.Context, items []*types.ScheduledNotification) (int, error) {
	inserted := 0
	for _, n := range items {
		tag, err := r.db.Exec(ctx,
			`INSERT INTO scheduled_notifications
			 (account_id, target_id, target_kind, automation_id, template_id, send_at, status)
			 VALUES ($1, $2, $3, $4, $5, $6, 'pending')
			 ON CONFLICT (automation_id, target_id, (send_at::date))
			 WHERE status IN ('pending', 'processing', 'retrying')
			 DO NOTHING`,
			n.AccountID,
			n.TargetID,
			string(n.TargetKind),
			n.AutomationID,
			n.TemplateID,
			n.SendAt,
		)
		if err != nil {
			return inserted, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert scheduled notification", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ReplacePending atomically swaps an automation's pending rows for the given
// entries: every pending row for the rule is deleted, then one pending row
// per entry is inserted. Rows in any other status are untouched, and the
// dedup index covers them too: an entry that collides with a surviving
// processing or retrying row for the same rule, target, and send date is
// skipped rather than aborting the whole replace. Returns the number of rows
// actually inserted. The caller must run this inside a transaction so readers
// never observe the gap between delete and insert.
func (r *QueueRepository) ReplacePending(ctx context.Context, accountID, automationID string, entries []types.ScheduleEntry) (int, error) {
	_, err := r.db.Exec(ctx,
		`DELETE FROM scheduled_notifications
		 WHERE automation_id = $1 AND account_id = $2 AND status = 'pending'`,
		automationID, accountID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to clear pending notifications", err)
	}

	inserted := 0
	for _, e := range entries {
		tag, err := r.db.Exec(ctx,
			`INSERT INTO scheduled_notifications
			 (account_id, target_id, target_kind, automation_id, template_id, send_at, status)
			 VALUES ($1, $2, $3, $4, $5, $6, 'pending')
			 ON CONFLICT (automation_id, target_id, (send_at::date))
			 WHERE status IN ('pending', 'processing', 'retrying')
			 DO NOTHING`,
			accountID,
			e.TargetID,
			string(e.TargetKind),
			automationID,
			e.TemplateID,
			e.SendAt,
		)
		if err != nil {
			return inserted, types.NewAppError(types.ErrCodeInternalDB, "failed to insert schedule entry", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// TxBeginner starts a transaction, satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// QueueTxWriter runs queue mutations that must be transactional, wrapping
// each call in its own transaction against the pool.
type QueueTxWriter struct {
	pool TxBeginner
}

// NewQueueTxWriter creates a QueueTxWriter over the given pool.
func NewQueueTxWriter(pool TxBeginner) *QueueTxWriter {
	return &QueueTxWriter{pool: pool}
}

// ReplacePending swaps an automation's pending rows inside a single
// transaction, so readers see either the old schedule or the new one.
func (w *QueueTxWriter) ReplacePending(ctx context.Context, accountID, automationID string, entries []types.ScheduleEntry) (int, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	n, err := NewQueueRepository(tx).ReplacePending(ctx, accountID, automationID, entries)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to commit schedule replacement", err)
	}
	return n, nil
}

// ClaimDue atomically claims up to limit due pending notifications, moving
// them to processing and incrementing attempt_count in the same statement.
// SKIP LOCKED lets overlapping drainer runs partition the queue instead of
// double-claiming; a claimed row is invisible to every other claimer.
func (r *QueueRepository) ClaimDue(ctx context.Context, limit int) ([]*types.ScheduledNotification, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'processing', attempt_count = attempt_count + 1, updated_at = NOW()
		 WHERE id IN (
		     SELECT id FROM scheduled_notifications
		     WHERE status = 'pending' AND send_at <= NOW()
		     ORDER BY send_at, id
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+queueColumns,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim due notifications", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// MarkSent transitions a processing row to its terminal sent state.
func (r *QueueRepository) MarkSent(ctx context.Context, id string) error {
	return r.finish(ctx, id,
		`UPDATE scheduled_notifications
		 SET status = 'sent', failure_reason = NULL, next_retry_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`)
}

// MarkRetrying parks a processing row for the retry sweeper. The row becomes
// eligible again once next_retry_at passes.
func (r *QueueRepository) MarkRetrying(ctx context.Context, id string, reason string, nextRetryAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'retrying', failure_reason = $2, next_retry_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, reason, nextRetryAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark notification retrying", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "notification not in processing state", nil)
	}
	return nil
}

// MarkFailed transitions a processing row to its terminal failed state.
func (r *QueueRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'failed', failure_reason = $2, next_retry_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark notification failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "notification not in processing state", nil)
	}
	return nil
}

func (r *QueueRepository) finish(ctx context.Context, id, sql string) error {
	tag, err := r.db.Exec(ctx, sql, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update notification status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "notification not in processing state", nil)
	}
	return nil
}

// RequeueDueRetries moves retrying rows whose backoff has elapsed back to
// pending so the next drainer run picks them up. Returns the number of rows
// requeued.
func (r *QueueRepository) RequeueDueRetries(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'pending', next_retry_at = NULL, updated_at = NOW()
		 WHERE status = 'retrying' AND next_retry_at <= NOW()`,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to requeue retrying notifications", err)
	}
	return int(tag.RowsAffected()), nil
}

// ReclaimStuck fails processing rows that have not progressed since the
// cutoff. A row stuck in processing means a worker died mid-delivery; the
// outcome of its webhook call is unknown, so the row is closed out rather
// than redelivered.
func (r *QueueRepository) ReclaimStuck(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'failed', failure_reason = 'delivery worker timed out', updated_at = NOW()
		 WHERE status = 'processing' AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reclaim stuck notifications", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountPending returns the number of due pending rows, emitted as the queue
// depth metric.
func (r *QueueRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM scheduled_notifications
		 WHERE status = 'pending' AND send_at <= NOW()`,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count pending notifications", err)
	}
	return n, nil
}

// GetByID retrieves a single notification scoped to an account.
func (r *QueueRepository) GetByID(ctx context.Context, accountID, id string) (*types.ScheduledNotification, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+queueColumns+`
		 FROM scheduled_notifications
		 WHERE id = $1 AND account_id = $2`,
		id, accountID,
	)
	n, err := scanNotification(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get notification", err)
	}
	return n, nil
}

// ListByAutomation returns an automation's notifications, optionally filtered
// by status, newest send_at first.
func (r *QueueRepository) ListByAutomation(ctx context.Context, accountID, automationID string, status types.NotificationStatus, limit int) ([]*types.ScheduledNotification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + queueColumns + `
		 FROM scheduled_notifications
		 WHERE account_id = $1 AND automation_id = $2`
	args := []any{accountID, automationID}
	if status != "" {
		query += ` AND status = $3`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY send_at DESC, id LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

func scanNotification(row pgx.Row) (*types.ScheduledNotification, error) {
	var n types.ScheduledNotification
	var kind, status string
	var reason *string
	if err := row.Scan(
		&n.ID,
		&n.AccountID,
		&n.TargetID,
		&kind,
		&n.AutomationID,
		&n.TemplateID,
		&n.SendAt,
		&status,
		&n.AttemptCount,
		&n.NextRetryAt,
		&reason,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return nil, err
	}
	n.TargetKind = types.TargetKind(kind)
	n.Status = types.NotificationStatus(status)
	if reason != nil {
		n.FailureReason = *reason
	}
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*types.ScheduledNotification, error) {
	var results []*types.ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification row", err)
		}
		results = append(results, n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification rows", err)
	}
	return results, nil
}
