// Package auth issues and verifies DuePoint API tokens. A token has the
// shape "dp_<prefix>_<secret>": the prefix is stored in plaintext as the
// database lookup key and the secret half is stored as a bcrypt hash, so a
// leaked database dump cannot be replayed against the API.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"duepoint/internal/types"
)

const (
	tokenScheme  = "dp"
	prefixBytes  = 6
	secretBytes  = 24
	cronActorID  = "cron"
	adminActorID = "admin"
)

// AccountSource is the subset of the account repository the token service
// needs for verification.
type AccountSource interface {
	GetByTokenPrefix(ctx context.Context, prefix string) (*types.Account, error)
}

// TokenServiceConfig holds the dependencies for a TokenService.
type TokenServiceConfig struct {
	Accounts    AccountSource
	CronSecret  types.SecretString
	AdminAPIKey types.SecretString
	BcryptCost  int
}

// TokenService mints account API tokens and resolves presented tokens to
// actors. It implements core.Authenticator.
type TokenService struct {
	accounts    AccountSource
	cronSecret  string
	adminAPIKey string
	bcryptCost  int
}

// NewTokenService creates a TokenService. A zero BcryptCost falls back to
// the library default.
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	cost := cfg.BcryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &TokenService{
		accounts:    cfg.Accounts,
		cronSecret:  cfg.CronSecret.Unmask(),
		adminAPIKey: cfg.AdminAPIKey.Unmask(),
		bcryptCost:  cost,
	}
}

// GeneratedToken is the result of minting a new API token. Token is shown to
// the caller exactly once; only Prefix and Hash are persisted.
type GeneratedToken struct {
	Token  string
	Prefix string
	Hash   string
}

// GenerateToken mints a fresh API token. The caller stores Prefix and Hash
// on the account and returns Token to the user.
func (s *TokenService) GenerateToken() (*GeneratedToken, error) {
	prefix, err := randomHex(prefixBytes)
	if err != nil {
		return nil, fmt.Errorf("generating token prefix: %w", err)
	}
	secret, err := randomHex(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("generating token secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing token secret: %w", err)
	}

	return &GeneratedToken{
		Token:  tokenScheme + "_" + prefix + "_" + secret,
		Prefix: prefix,
		Hash:   string(hash),
	}, nil
}

// ResolveToken verifies a presented bearer token and returns the Actor it
// authenticates. Service credentials (cron secret, admin API key) are checked
// first with constant-time comparison; anything else is treated as an account
// token and verified against the stored bcrypt hash.
func (s *TokenService) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "empty token", nil)
	}

	if s.cronSecret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) == 1 {
		return &types.Actor{ID: cronActorID, Type: types.ActorTypeCron}, nil
	}
	if s.adminAPIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.adminAPIKey)) == 1 {
		return &types.Actor{ID: adminActorID, Type: types.ActorTypeAccount, Role: types.RoleAdmin}, nil
	}

	prefix, secret, err := splitToken(token)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByTokenPrefix(ctx, prefix)
	if err != nil {
		appErr, ok := types.AsAppError(err)
		if ok && appErr.Code == types.ErrCodeNotFoundAccount {
			// Equalize timing between unknown prefixes and wrong secrets.
			_ = bcrypt.CompareHashAndPassword(timingDummyHash, []byte(secret))
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown token", err)
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(account.APIKeyHash), []byte(secret)) != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token verification failed", nil)
	}

	return &types.Actor{
		ID:        account.ID,
		Type:      types.ActorTypeAccount,
		AccountID: account.ID,
		Role:      account.Role,
	}, nil
}

// timingDummyHash is a bcrypt hash of an unguessable value, compared against
// when the token prefix matches no account.
var timingDummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("duepoint-dummy-comparison-value"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()

func splitToken(token string) (prefix, secret string, err error) {
	parts := strings.SplitN(token, "_", 3)
	if len(parts) != 3 || parts[0] != tokenScheme || parts[1] == "" || parts[2] == "" {
		return "", "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed token", nil)
	}
	return parts[1], parts[2], nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
