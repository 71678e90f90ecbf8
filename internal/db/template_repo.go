package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"duepoint/internal/types"
)

// TemplateRepository provides data access for the message_templates table.
type TemplateRepository struct {
	db DBTX
}

// NewTemplateRepository creates a new TemplateRepository backed by the given
// database connection (pool or transaction).
func NewTemplateRepository(db DBTX) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, account_id, name, content, type, created_at, updated_at`

// Create inserts a new template. The database generates the ID.
func (r *TemplateRepository) Create(ctx context.Context, t *types.MessageTemplate) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO message_templates (account_id, name, content, type)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		t.AccountID, t.Name, t.Content, string(t.Type),
	)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create template", err)
	}
	return nil
}

// GetByID retrieves a template scoped to an account.
func (r *TemplateRepository) GetByID(ctx context.Context, accountID, id string) (*types.MessageTemplate, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+templateColumns+`
		 FROM message_templates
		 WHERE id = $1 AND account_id = $2`,
		id, accountID,
	)
	t, err := scanTemplate(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundTemplate, "template not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get template", err)
	}
	return t, nil
}

// ListByAccount returns all templates for one account.
func (r *TemplateRepository) ListByAccount(ctx context.Context, accountID string) ([]*types.MessageTemplate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+templateColumns+`
		 FROM message_templates
		 WHERE account_id = $1
		 ORDER BY name, id`,
		accountID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list templates", err)
	}
	defer rows.Close()

	var results []*types.MessageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan template row", err)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating template rows", err)
	}
	return results, nil
}

// Update persists the mutable fields of a template. Already materialized
// notifications keep referencing the template by ID; content changes apply to
// every delivery rendered after the update.
func (r *TemplateRepository) Update(ctx context.Context, t *types.MessageTemplate) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE message_templates
		 SET name = $1, content = $2, type = $3, updated_at = NOW()
		 WHERE id = $4 AND account_id = $5`,
		t.Name, t.Content, string(t.Type), t.ID, t.AccountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update template", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTemplate, "template not found", nil)
	}
	return nil
}

// Delete removes a template. Deletion is rejected while automation rules
// still reference it.
func (r *TemplateRepository) Delete(ctx context.Context, accountID, id string) error {
	var inUse bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM automation_rules WHERE template_id = $1)`,
		id,
	).Scan(&inUse)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to check template usage", err)
	}
	if inUse {
		return types.NewAppError(types.ErrCodeConflictTemplateInUse, "template is referenced by an automation rule", nil)
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM message_templates WHERE id = $1 AND account_id = $2`,
		id, accountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete template", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTemplate, "template not found", nil)
	}
	return nil
}

func scanTemplate(row pgx.Row) (*types.MessageTemplate, error) {
	var t types.MessageTemplate
	var typ string
	if err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.Name,
		&t.Content,
		&typ,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Type = types.TemplateType(typ)
	return &t, nil
}
