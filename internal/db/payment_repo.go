package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"duepoint/internal/types"
)

// PaymentRepository provides data access for the pix_charges table. Provider
// payloads are stored as opaque JSONB alongside the lifted display fields.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a new PaymentRepository backed by the given
// database connection (pool or transaction).
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const chargeColumns = `id, account_id, target_id, provider, provider_charge_id,
	        amount_cents, status, qr_code, provider_payload, created_at, paid_at`

// Create inserts a new charge. The database generates the ID.
func (r *PaymentRepository) Create(ctx context.Context, c *types.PixCharge) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO pix_charges
		 (account_id, target_id, provider, provider_charge_id, amount_cents,
		  status, qr_code, provider_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		c.AccountID,
		nilIfEmpty(c.TargetID),
		c.Provider,
		c.ProviderChargeID,
		c.AmountCents,
		string(c.Status),
		nilIfEmpty(c.QRCode),
		c.ProviderPayload,
	)
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create pix charge", err)
	}
	return nil
}

// GetByID retrieves a charge scoped to an account.
func (r *PaymentRepository) GetByID(ctx context.Context, accountID, id string) (*types.PixCharge, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+chargeColumns+`
		 FROM pix_charges
		 WHERE id = $1 AND account_id = $2`,
		id, accountID,
	)
	return scanChargeRow(row)
}

// GetByProviderChargeID resolves the provider's identifier from a payment
// confirmation callback to our charge row.
func (r *PaymentRepository) GetByProviderChargeID(ctx context.Context, provider, providerChargeID string) (*types.PixCharge, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+chargeColumns+`
		 FROM pix_charges
		 WHERE provider = $1 AND provider_charge_id = $2`,
		provider, providerChargeID,
	)
	return scanChargeRow(row)
}

// ListByAccount returns an account's charges, newest first.
func (r *PaymentRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*types.PixCharge, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+chargeColumns+`
		 FROM pix_charges
		 WHERE account_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pix charges", err)
	}
	defer rows.Close()

	var results []*types.PixCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan pix charge row", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating pix charge rows", err)
	}
	return results, nil
}

// MarkPaid transitions a pending charge to paid. Returns false when the
// charge was already paid, letting the payment webhook stay idempotent
// without double-crediting the balance.
func (r *PaymentRepository) MarkPaid(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pix_charges
		 SET status = 'paid', paid_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark pix charge paid", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStatus records a non-payment lifecycle transition (expired, canceled).
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status types.ChargeStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pix_charges SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update pix charge status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCharge, "pix charge not found", nil)
	}
	return nil
}

func scanChargeRow(row pgx.Row) (*types.PixCharge, error) {
	c, err := scanCharge(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundCharge, "pix charge not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get pix charge", err)
	}
	return c, nil
}

func scanCharge(row pgx.Row) (*types.PixCharge, error) {
	var c types.PixCharge
	var status string
	var targetID, qrCode *string
	if err := row.Scan(
		&c.ID,
		&c.AccountID,
		&targetID,
		&c.Provider,
		&c.ProviderChargeID,
		&c.AmountCents,
		&status,
		&qrCode,
		&c.ProviderPayload,
		&c.CreatedAt,
		&c.PaidAt,
	); err != nil {
		return nil, err
	}
	c.Status = types.ChargeStatus(status)
	if targetID != nil {
		c.TargetID = *targetID
	}
	if qrCode != nil {
		c.QRCode = *qrCode
	}
	return &c, nil
}
