package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"duepoint/internal/types"
)

// AccountRepository provides data access for the accounts table. API tokens
// are stored as a searchable prefix plus a bcrypt hash of the secret half;
// plaintext tokens are never persisted.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository backed by the given
// database connection (pool or transaction).
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, name, email, role, instance_name, pix_key, balance_cents,
	        api_key_prefix, api_key_hash, created_at, updated_at`

// Create inserts a new account. The caller supplies the token prefix and
// bcrypt hash; the database generates the ID.
func (r *AccountRepository) Create(ctx context.Context, a *types.Account) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO accounts
		 (name, email, role, instance_name, pix_key, api_key_prefix, api_key_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, balance_cents, created_at, updated_at`,
		a.Name,
		a.Email,
		string(a.Role),
		nilIfEmpty(a.InstanceName),
		nilIfEmpty(a.PixKey),
		a.APIKeyPrefix,
		a.APIKeyHash,
	)
	if err := row.Scan(&a.ID, &a.BalanceCents, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create account", err)
	}
	return nil
}

// GetByID retrieves a single non-deleted account.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return r.scanOne(row)
}

// GetByTokenPrefix looks up an account by the searchable half of its API
// token. The caller then bcrypt-compares the secret half against APIKeyHash.
func (r *AccountRepository) GetByTokenPrefix(ctx context.Context, prefix string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE api_key_prefix = $1 AND deleted_at IS NULL`,
		prefix,
	)
	return r.scanOne(row)
}

// List returns all non-deleted accounts. Admin only.
func (r *AccountRepository) List(ctx context.Context) ([]*types.Account, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE deleted_at IS NULL
		 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list accounts", err)
	}
	defer rows.Close()

	var results []*types.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan account row", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating account rows", err)
	}
	return results, nil
}

// UpdateProfile persists the account's editable settings: display name,
// outbound instance identifier, and PIX key.
func (r *AccountRepository) UpdateProfile(ctx context.Context, a *types.Account) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET name = $1, instance_name = $2, pix_key = $3, updated_at = NOW()
		 WHERE id = $4 AND deleted_at IS NULL`,
		a.Name,
		nilIfEmpty(a.InstanceName),
		nilIfEmpty(a.PixKey),
		a.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update account", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return nil
}

// RotateToken replaces the account's API token credentials.
func (r *AccountRepository) RotateToken(ctx context.Context, id, prefix, hash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET api_key_prefix = $1, api_key_hash = $2, updated_at = NOW()
		 WHERE id = $3 AND deleted_at IS NULL`,
		prefix, hash, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to rotate account token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return nil
}

// CreditBalance atomically adds to the account balance. Called when a PIX
// charge is confirmed paid; amountCents may be negative for adjustments.
func (r *AccountRepository) CreditBalance(ctx context.Context, id string, amountCents int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET balance_cents = balance_cents + $1, updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		amountCents, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to credit account balance", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return nil
}

func (r *AccountRepository) scanOne(row pgx.Row) (*types.Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get account", err)
	}
	return a, nil
}

func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	var role string
	var instanceName, pixKey *string
	if err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Email,
		&role,
		&instanceName,
		&pixKey,
		&a.BalanceCents,
		&a.APIKeyPrefix,
		&a.APIKeyHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Role = types.AccountRole(role)
	if instanceName != nil {
		a.InstanceName = *instanceName
	}
	if pixKey != nil {
		a.PixKey = *pixKey
	}
	return &a, nil
}
