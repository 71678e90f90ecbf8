package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"duepoint/internal/types"
)

// TargetRepository provides data access for the clients and subscribers
// tables. The two audiences share a schema and flow through the notification
// pipeline identically, so a single repository serves both; the audience kind
// selects the table.
type TargetRepository struct {
	db DBTX
}

// NewTargetRepository creates a new TargetRepository backed by the given
// database connection (pool or transaction).
func NewTargetRepository(db DBTX) *TargetRepository {
	return &TargetRepository{db: db}
}

// targetTable maps an audience kind to its table name. The kind is validated
// before use so it never reaches SQL interpolation unchecked.
func targetTable(kind types.TargetKind) (string, error) {
	switch kind {
	case types.KindClient:
		return "clients", nil
	case types.KindSubscriber:
		return "subscribers", nil
	default:
		return "", types.NewAppError(types.ErrCodeValidationInvalidKind,
			fmt.Sprintf("unknown target kind %q", kind), nil)
	}
}

const targetColumns = `id, account_id, name, phone, email, plan_name,
	        amount_cents, due_date, status, created_at, updated_at`

// Create inserts a new target row. If the ID is empty the database generates
// it via the DEFAULT expression and the struct is updated in place.
func (r *TargetRepository) Create(ctx context.Context, t *types.Target) error {
	table, err := targetTable(t.Kind)
	if err != nil {
		return err
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO `+table+`
		 (account_id, name, phone, email, plan_name, amount_cents, due_date, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		t.AccountID,
		t.Name,
		t.Phone,
		nilIfEmpty(t.Email),
		t.PlanName,
		t.AmountCents,
		t.DueDate,
		string(t.Status),
	)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create target", err)
	}
	return nil
}

// GetByID retrieves a single non-deleted target scoped to an account.
func (r *TargetRepository) GetByID(ctx context.Context, kind types.TargetKind, accountID, id string) (*types.Target, error) {
	table, err := targetTable(kind)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRow(ctx,
		`SELECT `+targetColumns+`
		 FROM `+table+`
		 WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL`,
		id, accountID,
	)
	t, err := scanTarget(row, kind)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundTarget, "target not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get target", err)
	}
	return t, nil
}

// ListByAccount returns all non-deleted targets of a kind for one account,
// ordered by due date so the dashboard shows the nearest renewals first.
func (r *TargetRepository) ListByAccount(ctx context.Context, kind types.TargetKind, accountID string) ([]*types.Target, error) {
	table, err := targetTable(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+targetColumns+`
		 FROM `+table+`
		 WHERE account_id = $1 AND deleted_at IS NULL
		 ORDER BY due_date, id`,
		accountID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list targets", err)
	}
	defer rows.Close()

	return collectTargets(rows, kind)
}

// ListEligibleByIDs returns the subset of the given targets that are eligible
// for notifications: owned by the account, not deleted, and with status
// active or overdue. Used by the due-date projector to expand an automation
// rule's target list. Missing, ineligible, or foreign-owned IDs are silently
// dropped, not errors; a rule can never project a notification onto another
// account's target.
func (r *TargetRepository) ListEligibleByIDs(ctx context.Context, kind types.TargetKind, accountID string, ids []string) ([]*types.Target, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	table, err := targetTable(kind)
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, accountID)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+targetColumns+`
		 FROM `+table+`
		 WHERE account_id = $1
		   AND id IN (`+strings.Join(placeholders, ", ")+`)
		   AND deleted_at IS NULL
		   AND status IN ('active', 'overdue')
		 ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list eligible targets", err)
	}
	defer rows.Close()

	return collectTargets(rows, kind)
}

// Update persists the mutable fields of a target. Due-date changes flow into
// future projector runs; already materialized pending notifications are not
// rewritten here.
func (r *TargetRepository) Update(ctx context.Context, t *types.Target) error {
	table, err := targetTable(t.Kind)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE `+table+` SET
			name = $1, phone = $2, email = $3, plan_name = $4,
			amount_cents = $5, due_date = $6, status = $7, updated_at = NOW()
		 WHERE id = $8 AND account_id = $9 AND deleted_at IS NULL`,
		t.Name,
		t.Phone,
		nilIfEmpty(t.Email),
		t.PlanName,
		t.AmountCents,
		t.DueDate,
		string(t.Status),
		t.ID,
		t.AccountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update target", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTarget, "target not found", nil)
	}
	return nil
}

// SoftDelete marks a target deleted and cancels its pending notifications.
// History rows are untouched; they carry name/phone snapshots for exactly
// this case.
func (r *TargetRepository) SoftDelete(ctx context.Context, kind types.TargetKind, accountID, id string) error {
	table, err := targetTable(kind)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE `+table+`
		 SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL`,
		id, accountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete target", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTarget, "target not found", nil)
	}

	_, err = r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'failed', failure_reason = 'target deleted', updated_at = NOW()
		 WHERE target_id = $1 AND target_kind = $2 AND status = 'pending'`,
		id, string(kind),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel pending notifications", err)
	}
	return nil
}

func scanTarget(row pgx.Row, kind types.TargetKind) (*types.Target, error) {
	var t types.Target
	var email *string
	if err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.Name,
		&t.Phone,
		&email,
		&t.PlanName,
		&t.AmountCents,
		&t.DueDate,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if email != nil {
		t.Email = *email
	}
	t.Kind = kind
	return &t, nil
}

func collectTargets(rows pgx.Rows, kind types.TargetKind) ([]*types.Target, error) {
	var results []*types.Target
	for rows.Next() {
		t, err := scanTarget(rows, kind)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan target row", err)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating target rows", err)
	}
	return results, nil
}
