package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"duepoint/internal/types"
)

// AutomationRepository provides data access for the automation_rules table.
// The target_ids column is a text[] holding the rule's full recipient list;
// edits replace the array wholesale.
type AutomationRepository struct {
	db DBTX
}

// NewAutomationRepository creates a new AutomationRepository backed by the
// given database connection (pool or transaction).
func NewAutomationRepository(db DBTX) *AutomationRepository {
	return &AutomationRepository{db: db}
}

const automationColumns = `id, account_id, name, days_offset, scheduled_time,
	        template_id, audience, target_ids, active, created_at, updated_at`

// Create inserts a new automation rule. The database generates the ID and the
// struct is updated in place.
func (r *AutomationRepository) Create(ctx context.Context, a *types.AutomationRule) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO automation_rules
		 (account_id, name, days_offset, scheduled_time, template_id, audience, target_ids, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		a.AccountID,
		a.Name,
		a.DaysOffset,
		a.ScheduledTime,
		a.TemplateID,
		string(a.Audience),
		a.TargetIDs,
		a.Active,
	)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create automation rule", err)
	}
	return nil
}

// GetByID retrieves a single automation rule scoped to an account.
func (r *AutomationRepository) GetByID(ctx context.Context, accountID, id string) (*types.AutomationRule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+automationColumns+`
		 FROM automation_rules
		 WHERE id = $1 AND account_id = $2`,
		id, accountID,
	)
	a, err := scanAutomation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundAutomation, "automation rule not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get automation rule", err)
	}
	return a, nil
}

// ListByAccount returns all automation rules for one account.
func (r *AutomationRepository) ListByAccount(ctx context.Context, accountID string) ([]*types.AutomationRule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+automationColumns+`
		 FROM automation_rules
		 WHERE account_id = $1
		 ORDER BY created_at, id`,
		accountID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list automation rules", err)
	}
	defer rows.Close()

	return collectAutomations(rows)
}

// ListActive returns every active rule across all accounts. This is the
// projector's work list; it runs unscoped under the cron actor.
func (r *AutomationRepository) ListActive(ctx context.Context) ([]*types.AutomationRule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+automationColumns+`
		 FROM automation_rules
		 WHERE active = TRUE
		 ORDER BY account_id, id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active automation rules", err)
	}
	defer rows.Close()

	return collectAutomations(rows)
}

// Update persists all mutable fields of a rule, replacing the target list
// wholesale.
func (r *AutomationRepository) Update(ctx context.Context, a *types.AutomationRule) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE automation_rules SET
			name = $1, days_offset = $2, scheduled_time = $3, template_id = $4,
			audience = $5, target_ids = $6, active = $7, updated_at = NOW()
		 WHERE id = $8 AND account_id = $9`,
		a.Name,
		a.DaysOffset,
		a.ScheduledTime,
		a.TemplateID,
		string(a.Audience),
		a.TargetIDs,
		a.Active,
		a.ID,
		a.AccountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update automation rule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAutomation, "automation rule not found", nil)
	}
	return nil
}

// Delete removes a rule and fails its still-pending notifications. Sent and
// failed history is preserved.
func (r *AutomationRepository) Delete(ctx context.Context, accountID, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		 SET status = 'failed', failure_reason = 'automation deleted', updated_at = NOW()
		 WHERE automation_id = $1 AND account_id = $2 AND status = 'pending'`,
		id, accountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel pending notifications", err)
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM automation_rules WHERE id = $1 AND account_id = $2`,
		id, accountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete automation rule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAutomation, "automation rule not found", nil)
	}
	return nil
}

func scanAutomation(row pgx.Row) (*types.AutomationRule, error) {
	var a types.AutomationRule
	var audience string
	if err := row.Scan(
		&a.ID,
		&a.AccountID,
		&a.Name,
		&a.DaysOffset,
		&a.ScheduledTime,
		&a.TemplateID,
		&audience,
		&a.TargetIDs,
		&a.Active,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Audience = types.TargetKind(audience)
	return &a, nil
}

func collectAutomations(rows pgx.Rows) ([]*types.AutomationRule, error) {
	var results []*types.AutomationRule
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan automation rule row", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating automation rule rows", err)
	}
	return results, nil
}
