package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"duepoint/internal/types"
)

// minChargeCents is the smallest top-up the platform accepts.
const minChargeCents = 100

// ChargeStore is the persistence surface PaymentService needs, satisfied by
// db.PaymentRepository.
type ChargeStore interface {
	Create(ctx context.Context, c *types.PixCharge) error
	GetByID(ctx context.Context, accountID, id string) (*types.PixCharge, error)
	GetByProviderChargeID(ctx context.Context, provider, providerChargeID string) (*types.PixCharge, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*types.PixCharge, error)
	MarkPaid(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status types.ChargeStatus) error
}

// AccountCreditor credits an account's prepaid balance, satisfied by
// db.AccountRepository.
type AccountCreditor interface {
	CreditBalance(ctx context.Context, id string, amountCents int64) error
}

// PaymentServiceConfig holds the dependencies for a PaymentService.
type PaymentServiceConfig struct {
	Charges  ChargeStore
	Accounts AccountCreditor
	Gateway  Gateway
	Logger   *slog.Logger
}

// PaymentService owns the PIX top-up lifecycle: charge creation against the
// provider and balance crediting on payment confirmation.
type PaymentService struct {
	charges  ChargeStore
	accounts AccountCreditor
	gateway  Gateway
	logger   *slog.Logger
}

// NewPaymentService creates a PaymentService from its configuration.
func NewPaymentService(cfg PaymentServiceConfig) *PaymentService {
	return &PaymentService{
		charges:  cfg.Charges,
		accounts: cfg.Accounts,
		gateway:  cfg.Gateway,
		logger:   cfg.Logger,
	}
}

// CreateCharge creates a pending PIX charge for the account. The provider
// call happens before the insert so a provider failure leaves no orphan row;
// the correlation ID keeps the provider side idempotent if the insert fails
// and the caller retries.
func (s *PaymentService) CreateCharge(ctx context.Context, accountID string, amountCents int64, targetID string) (*types.PixCharge, error) {
	if amountCents < minChargeCents {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidAmount,
			fmt.Sprintf("charge amount must be at least %d cents", minChargeCents),
			nil,
			map[string]any{"amount_cents": amountCents},
		)
	}

	correlationID := uuid.NewString()
	gwCharge, err := s.gateway.CreateCharge(ctx, correlationID, amountCents, "DuePoint balance top-up")
	if err != nil {
		return nil, err
	}

	charge := &types.PixCharge{
		AccountID:        accountID,
		TargetID:         targetID,
		Provider:         s.gateway.Provider(),
		ProviderChargeID: gwCharge.ProviderChargeID,
		AmountCents:      amountCents,
		Status:           types.ChargePending,
		QRCode:           gwCharge.QRCode,
		ProviderPayload:  gwCharge.RawPayload,
	}
	if err := s.charges.Create(ctx, charge); err != nil {
		return nil, err
	}

	s.logger.Info("pix charge created",
		slog.String("charge_id", charge.ID),
		slog.String("account_id", accountID),
		slog.Int64("amount_cents", amountCents),
	)
	return charge, nil
}

// GetCharge returns a single charge scoped to the account.
func (s *PaymentService) GetCharge(ctx context.Context, accountID, id string) (*types.PixCharge, error) {
	return s.charges.GetByID(ctx, accountID, id)
}

// ListCharges returns the account's charges, newest first.
func (s *PaymentService) ListCharges(ctx context.Context, accountID string, limit int) ([]*types.PixCharge, error) {
	return s.charges.ListByAccount(ctx, accountID, limit)
}

// ConfirmPayment processes a provider payment callback. The charge row is the
// idempotency guard: only the transition from pending to paid credits the
// balance, so redelivered callbacks are acknowledged without double-crediting.
func (s *PaymentService) ConfirmPayment(ctx context.Context, providerChargeID string) error {
	charge, err := s.charges.GetByProviderChargeID(ctx, s.gateway.Provider(), providerChargeID)
	if err != nil {
		return err
	}

	transitioned, err := s.charges.MarkPaid(ctx, charge.ID)
	if err != nil {
		return err
	}
	if !transitioned {
		s.logger.Info("pix payment callback replayed, charge already settled",
			slog.String("charge_id", charge.ID),
			slog.String("provider_charge_id", providerChargeID),
		)
		return nil
	}

	if err := s.accounts.CreditBalance(ctx, charge.AccountID, charge.AmountCents); err != nil {
		// Reopen the charge so the provider's redelivery retries the credit.
		if revertErr := s.charges.UpdateStatus(ctx, charge.ID, types.ChargePending); revertErr != nil {
			s.logger.Error("failed to reopen charge after credit failure",
				slog.String("charge_id", charge.ID),
				slog.String("error", revertErr.Error()),
			)
		}
		s.logger.Error("balance credit failed after charge settled",
			slog.String("charge_id", charge.ID),
			slog.String("account_id", charge.AccountID),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.logger.Info("pix payment confirmed",
		slog.String("charge_id", charge.ID),
		slog.String("account_id", charge.AccountID),
		slog.Int64("amount_cents", charge.AmountCents),
	)
	return nil
}
