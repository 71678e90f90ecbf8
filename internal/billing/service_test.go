package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"duepoint/internal/types"
)

// --- Mocks ---

type mockChargeStore struct {
	mock.Mock
}

func (m *mockChargeStore) Create(ctx context.Context, c *types.PixCharge) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockChargeStore) GetByID(ctx context.Context, accountID, id string) (*types.PixCharge, error) {
	args := m.Called(ctx, accountID, id)
	if c := args.Get(0); c != nil {
		return c.(*types.PixCharge), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChargeStore) GetByProviderChargeID(ctx context.Context, provider, providerChargeID string) (*types.PixCharge, error) {
	args := m.Called(ctx, provider, providerChargeID)
	if c := args.Get(0); c != nil {
		return c.(*types.PixCharge), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChargeStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*types.PixCharge, error) {
	args := m.Called(ctx, accountID, limit)
	if c := args.Get(0); c != nil {
		return c.([]*types.PixCharge), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChargeStore) MarkPaid(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockChargeStore) UpdateStatus(ctx context.Context, id string, status types.ChargeStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type mockCreditor struct {
	mock.Mock
}

func (m *mockCreditor) CreditBalance(ctx context.Context, id string, amountCents int64) error {
	args := m.Called(ctx, id, amountCents)
	return args.Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Provider() string { return "openpix" }

func (m *mockGateway) CreateCharge(ctx context.Context, correlationID string, amountCents int64, comment string) (*GatewayCharge, error) {
	args := m.Called(ctx, correlationID, amountCents, comment)
	if c := args.Get(0); c != nil {
		return c.(*GatewayCharge), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestService(charges *mockChargeStore, accounts *mockCreditor, gateway *mockGateway) *PaymentService {
	return NewPaymentService(PaymentServiceConfig{
		Charges:  charges,
		Accounts: accounts,
		Gateway:  gateway,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func settledCharge() *types.PixCharge {
	return &types.PixCharge{
		ID:               "chg_1",
		AccountID:        "acct_1",
		Provider:         "openpix",
		ProviderChargeID: "corr_1",
		AmountCents:      5000,
		Status:           types.ChargePending,
	}
}

// --- CreateCharge ---

func TestCreateCharge_Success(t *testing.T) {
	charges := new(mockChargeStore)
	gateway := new(mockGateway)
	svc := newTestService(charges, new(mockCreditor), gateway)

	gateway.On("CreateCharge", mock.Anything, mock.Anything, int64(5000), "DuePoint balance top-up").
		Return(&GatewayCharge{
			ProviderChargeID: "corr_1",
			QRCode:           "00020126...",
			RawPayload:       json.RawMessage(`{"charge":{}}`),
		}, nil)

	var created *types.PixCharge
	charges.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { created = args.Get(1).(*types.PixCharge) }).
		Return(nil)

	charge, err := svc.CreateCharge(context.Background(), "acct_1", 5000, "")
	require.NoError(t, err)

	require.NotNil(t, created)
	assert.Equal(t, "acct_1", charge.AccountID)
	assert.Equal(t, "openpix", charge.Provider)
	assert.Equal(t, "corr_1", charge.ProviderChargeID)
	assert.Equal(t, types.ChargePending, charge.Status)
	assert.Equal(t, "00020126...", charge.QRCode)
}

func TestCreateCharge_BelowMinimum(t *testing.T) {
	gateway := new(mockGateway)
	svc := newTestService(new(mockChargeStore), new(mockCreditor), gateway)

	_, err := svc.CreateCharge(context.Background(), "acct_1", 99, "")
	require.Error(t, err)

	appErr, ok := types.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeValidationInvalidAmount, appErr.Code)
	gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateCharge_GatewayFailureLeavesNoRow(t *testing.T) {
	charges := new(mockChargeStore)
	gateway := new(mockGateway)
	svc := newTestService(charges, new(mockCreditor), gateway)

	gateway.On("CreateCharge", mock.Anything, mock.Anything, int64(5000), mock.Anything).
		Return(nil, types.NewAppError(types.ErrCodeUpstreamPixGateway, "provider down", nil))

	_, err := svc.CreateCharge(context.Background(), "acct_1", 5000, "")
	require.Error(t, err)
	charges.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// --- ConfirmPayment ---

func TestConfirmPayment_CreditsBalanceOnce(t *testing.T) {
	charges := new(mockChargeStore)
	accounts := new(mockCreditor)
	svc := newTestService(charges, accounts, new(mockGateway))

	charges.On("GetByProviderChargeID", mock.Anything, "openpix", "corr_1").Return(settledCharge(), nil)
	charges.On("MarkPaid", mock.Anything, "chg_1").Return(true, nil)
	accounts.On("CreditBalance", mock.Anything, "acct_1", int64(5000)).Return(nil)

	require.NoError(t, svc.ConfirmPayment(context.Background(), "corr_1"))
	accounts.AssertExpectations(t)
}

func TestConfirmPayment_ReplayIsIdempotent(t *testing.T) {
	charges := new(mockChargeStore)
	accounts := new(mockCreditor)
	svc := newTestService(charges, accounts, new(mockGateway))

	charges.On("GetByProviderChargeID", mock.Anything, "openpix", "corr_1").Return(settledCharge(), nil)
	// The pending-to-paid transition already happened on a previous delivery.
	charges.On("MarkPaid", mock.Anything, "chg_1").Return(false, nil)

	require.NoError(t, svc.ConfirmPayment(context.Background(), "corr_1"))
	accounts.AssertNotCalled(t, "CreditBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmPayment_CreditFailureReopensCharge(t *testing.T) {
	charges := new(mockChargeStore)
	accounts := new(mockCreditor)
	svc := newTestService(charges, accounts, new(mockGateway))

	charges.On("GetByProviderChargeID", mock.Anything, "openpix", "corr_1").Return(settledCharge(), nil)
	charges.On("MarkPaid", mock.Anything, "chg_1").Return(true, nil)
	accounts.On("CreditBalance", mock.Anything, "acct_1", int64(5000)).Return(errors.New("db down"))
	charges.On("UpdateStatus", mock.Anything, "chg_1", types.ChargePending).Return(nil)

	err := svc.ConfirmPayment(context.Background(), "corr_1")
	require.Error(t, err)
	// The charge is reopened so the provider's redelivery retries the credit.
	charges.AssertExpectations(t)
}

func TestConfirmPayment_UnknownCharge(t *testing.T) {
	charges := new(mockChargeStore)
	svc := newTestService(charges, new(mockCreditor), new(mockGateway))

	charges.On("GetByProviderChargeID", mock.Anything, "openpix", "corr_x").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundCharge, "charge not found", nil))

	err := svc.ConfirmPayment(context.Background(), "corr_x")
	require.Error(t, err)
	charges.AssertNotCalled(t, "MarkPaid", mock.Anything, mock.Anything)
}
