package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"duepoint/internal/types"
)

// EndpointRepository provides data access for the webhook_endpoints table.
// Endpoint configuration is append-only: changing the destination URL inserts
// a new version and deactivates the previous one, so every delivery can be
// traced to the endpoint config in force when it ran.
type EndpointRepository struct {
	db DBTX
}

// NewEndpointRepository creates a new EndpointRepository backed by the given
// database connection (pool or transaction).
func NewEndpointRepository(db DBTX) *EndpointRepository {
	return &EndpointRepository{db: db}
}

const endpointColumns = `id, kind, url, version, active, updated_by, created_at`

// Publish inserts a new endpoint version for the kind and deactivates the
// current one. Run inside a transaction so at most one version per kind is
// ever active. The new row's ID and version are written back into the struct.
func (r *EndpointRepository) Publish(ctx context.Context, e *types.WebhookEndpoint) error {
	_, err := r.db.Exec(ctx,
		`UPDATE webhook_endpoints SET active = FALSE
		 WHERE kind = $1 AND active = TRUE`,
		e.Kind,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate previous endpoint", err)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO webhook_endpoints (kind, url, version, active, updated_by)
		 VALUES ($1, $2,
		         COALESCE((SELECT MAX(version) FROM webhook_endpoints WHERE kind = $1), 0) + 1,
		         TRUE, $3)
		 RETURNING id, version, created_at`,
		e.Kind,
		e.URL,
		e.UpdatedBy,
	)
	if err := row.Scan(&e.ID, &e.Version, &e.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to publish endpoint version", err)
	}
	e.Active = true
	return nil
}

// GetActive returns the active endpoint for a kind. Returns a precondition
// error when no endpoint has ever been configured; the pipeline treats that
// as a retryable outage, not a per-notification failure.
func (r *EndpointRepository) GetActive(ctx context.Context, kind string) (*types.WebhookEndpoint, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+endpointColumns+`
		 FROM webhook_endpoints
		 WHERE kind = $1 AND active = TRUE`,
		kind,
	)
	e, err := scanEndpoint(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodePreconditionNoEndpoint,
				"no active webhook endpoint configured for kind "+kind, nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get active endpoint", err)
	}
	return e, nil
}

// ListVersions returns the full version history for a kind, newest first.
func (r *EndpointRepository) ListVersions(ctx context.Context, kind string) ([]*types.WebhookEndpoint, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+endpointColumns+`
		 FROM webhook_endpoints
		 WHERE kind = $1
		 ORDER BY version DESC`,
		kind,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list endpoint versions", err)
	}
	defer rows.Close()

	var results []*types.WebhookEndpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan endpoint row", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating endpoint rows", err)
	}
	return results, nil
}

func scanEndpoint(row pgx.Row) (*types.WebhookEndpoint, error) {
	var e types.WebhookEndpoint
	if err := row.Scan(
		&e.ID,
		&e.Kind,
		&e.URL,
		&e.Version,
		&e.Active,
		&e.UpdatedBy,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
