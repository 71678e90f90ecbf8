package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"duepoint/internal/types"
)

type mockAccountSource struct {
	mock.Mock
}

func (m *mockAccountSource) GetByTokenPrefix(ctx context.Context, prefix string) (*types.Account, error) {
	args := m.Called(ctx, prefix)
	if a := args.Get(0); a != nil {
		return a.(*types.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestTokenService(accounts AccountSource) *TokenService {
	return NewTokenService(TokenServiceConfig{
		Accounts:    accounts,
		CronSecret:  types.SecretString("cron-secret-value"),
		AdminAPIKey: types.SecretString("admin-key-value"),
		BcryptCost:  bcrypt.MinCost,
	})
}

func assertAuthCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	appErr, ok := types.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, code, appErr.Code)
}

func TestGenerateToken_Shape(t *testing.T) {
	svc := newTestTokenService(new(mockAccountSource))

	generated, err := svc.GenerateToken()
	require.NoError(t, err)

	parts := strings.SplitN(generated.Token, "_", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "dp", parts[0])
	assert.Equal(t, generated.Prefix, parts[1])

	// The plaintext secret never appears in the persisted fields.
	assert.NotContains(t, generated.Hash, parts[2])
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(generated.Hash), []byte(parts[2])))
}

func TestGenerateToken_Unique(t *testing.T) {
	svc := newTestTokenService(new(mockAccountSource))

	a, err := svc.GenerateToken()
	require.NoError(t, err)
	b, err := svc.GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
	assert.NotEqual(t, a.Prefix, b.Prefix)
}

func TestResolveToken_AccountRoundtrip(t *testing.T) {
	accounts := new(mockAccountSource)
	svc := newTestTokenService(accounts)

	generated, err := svc.GenerateToken()
	require.NoError(t, err)

	accounts.On("GetByTokenPrefix", mock.Anything, generated.Prefix).Return(&types.Account{
		ID:           "acct_1",
		Role:         types.RoleUser,
		APIKeyPrefix: generated.Prefix,
		APIKeyHash:   generated.Hash,
	}, nil)

	actor, err := svc.ResolveToken(context.Background(), generated.Token)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", actor.ID)
	assert.Equal(t, "acct_1", actor.AccountID)
	assert.Equal(t, types.ActorTypeAccount, actor.Type)
	assert.Equal(t, types.RoleUser, actor.Role)
}

func TestResolveToken_WrongSecret(t *testing.T) {
	accounts := new(mockAccountSource)
	svc := newTestTokenService(accounts)

	generated, err := svc.GenerateToken()
	require.NoError(t, err)

	accounts.On("GetByTokenPrefix", mock.Anything, generated.Prefix).Return(&types.Account{
		ID:         "acct_1",
		APIKeyHash: generated.Hash,
	}, nil)

	_, err = svc.ResolveToken(context.Background(), "dp_"+generated.Prefix+"_not-the-secret")
	assertAuthCode(t, err, types.ErrCodeAuthTokenInvalid)
}

func TestResolveToken_UnknownPrefix(t *testing.T) {
	accounts := new(mockAccountSource)
	accounts.On("GetByTokenPrefix", mock.Anything, "deadbeef0000").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil))
	svc := newTestTokenService(accounts)

	_, err := svc.ResolveToken(context.Background(), "dp_deadbeef0000_somesecret")
	assertAuthCode(t, err, types.ErrCodeAuthTokenInvalid)
}

func TestResolveToken_EmptyToken(t *testing.T) {
	svc := newTestTokenService(new(mockAccountSource))

	_, err := svc.ResolveToken(context.Background(), "")
	assertAuthCode(t, err, types.ErrCodeAuthTokenMissing)
}

func TestResolveToken_Malformed(t *testing.T) {
	svc := newTestTokenService(new(mockAccountSource))

	for _, token := range []string{"dp", "dp_", "dp_onlyprefix", "dp__secret", "dp_prefix_", "xx_prefix_secret"} {
		_, err := svc.ResolveToken(context.Background(), token)
		assertAuthCode(t, err, types.ErrCodeAuthTokenInvalid)
	}
}

func TestResolveToken_CronSecret(t *testing.T) {
	svc := newTestTokenService(new(mockAccountSource))

	actor, err := svc.ResolveToken(context.Background(), "cron-secret-value")
	require.NoError(t, err)
	assert.Equal(t, "cron", actor.ID)
	assert.Equal(t, types.ActorTypeCron, actor.Type)
	assert.True(t, actor.IsAdmin())
}

func TestResolveToken_AdminAPIKey(t *testing.T) {
	svc := newTestTokenService(new(mockAccountSource))

	actor, err := svc.ResolveToken(context.Background(), "admin-key-value")
	require.NoError(t, err)
	assert.Equal(t, "admin", actor.ID)
	assert.Equal(t, types.RoleAdmin, actor.Role)
	assert.True(t, actor.IsAdmin())
}

func TestResolveToken_EmptyServiceCredentialsDisabled(t *testing.T) {
	// With no service credentials configured, nothing short-circuits: every
	// token goes through account verification.
	accounts := new(mockAccountSource)
	svc := NewTokenService(TokenServiceConfig{Accounts: accounts, BcryptCost: bcrypt.MinCost})

	_, err := svc.ResolveToken(context.Background(), "not-a-token")
	assertAuthCode(t, err, types.ErrCodeAuthTokenInvalid)
}
