package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"duepoint/internal/auth"
	"duepoint/internal/core"
	"duepoint/internal/types"
)

// AccountStore mirrors the db.AccountRepository methods used by this handler.
type AccountStore interface {
	Create(ctx context.Context, a *types.Account) error
	GetByID(ctx context.Context, id string) (*types.Account, error)
	List(ctx context.Context) ([]*types.Account, error)
	UpdateProfile(ctx context.Context, a *types.Account) error
	RotateToken(ctx context.Context, id, prefix, hash string) error
}

// TokenMinter mints new API tokens, satisfied by auth.TokenService.
type TokenMinter interface {
	GenerateToken() (*auth.GeneratedToken, error)
}

// CreateAccountRequest is the request body for POST /v1/admin/accounts.
type CreateAccountRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Email        string `json:"email" validate:"required,email"`
	Role         string `json:"role,omitempty" validate:"omitempty,oneof=user admin"`
	InstanceName string `json:"instance_name,omitempty" validate:"max=200"`
	PixKey       string `json:"pix_key,omitempty" validate:"max=200"`
}

// UpdateAccountRequest is the request body for PATCH /v1/account.
type UpdateAccountRequest struct {
	Name         *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Email        *string `json:"email,omitempty" validate:"omitempty,email"`
	InstanceName *string `json:"instance_name,omitempty" validate:"omitempty,max=200"`
	PixKey       *string `json:"pix_key,omitempty" validate:"omitempty,max=200"`
}

// AccountWithToken is returned from account creation and token rotation.
// Token carries the plaintext API token, shown exactly once.
type AccountWithToken struct {
	Account *types.Account `json:"account"`
	Token   string         `json:"token"`
}

// AccountHandler manages the tenant's own profile plus the admin account
// surface.
type AccountHandler struct {
	store     AccountStore
	tokens    TokenMinter
	validator *core.Validator
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the provided dependencies.
func NewAccountHandler(store AccountStore, tokens TokenMinter, v *core.Validator, l *slog.Logger) *AccountHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AccountHandler{store: store, tokens: tokens, validator: v, logger: l}
}

// RegisterRoutes mounts the self-service account routes and the admin group.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Route("/account", func(r chi.Router) {
		r.Get("/", h.GetProfile)
		r.Patch("/", h.UpdateProfile)
		r.Post("/rotate-token", h.RotateToken)
	})
	r.Route("/admin/accounts", func(r chi.Router) {
		r.Use(core.RequireAdmin)
		r.Post("/", h.Create)
		r.Get("/", h.List)
	})
}

// GetProfile handles GET /v1/account.
func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	account, err := h.store.GetByID(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: account})
}

// UpdateProfile handles PATCH /v1/account.
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	var req UpdateAccountRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	account, err := h.store.GetByID(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		account.Name = *req.Name
	}
	if req.Email != nil {
		account.Email = *req.Email
	}
	if req.InstanceName != nil {
		account.InstanceName = *req.InstanceName
	}
	if req.PixKey != nil {
		account.PixKey = *req.PixKey
	}

	if err := h.store.UpdateProfile(r.Context(), account); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: account})
}

// RotateToken handles POST /v1/account/rotate-token. The previous token stops
// working immediately; the new one is returned exactly once.
func (h *AccountHandler) RotateToken(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	generated, err := h.tokens.GenerateToken()
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.store.RotateToken(r.Context(), accountID, generated.Prefix, generated.Hash); err != nil {
		core.Error(w, r, err)
		return
	}

	account, err := h.store.GetByID(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "api token rotated", "account_id", accountID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AccountWithToken{
		Account: account,
		Token:   generated.Token,
	}})
}

// Create handles POST /v1/admin/accounts, provisioning a tenant and its
// initial API token.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	role := types.AccountRole(req.Role)
	if role == "" {
		role = types.RoleUser
	}

	generated, err := h.tokens.GenerateToken()
	if err != nil {
		core.Error(w, r, err)
		return
	}

	account := &types.Account{
		Name:         req.Name,
		Email:        req.Email,
		Role:         role,
		InstanceName: req.InstanceName,
		PixKey:       req.PixKey,
		APIKeyPrefix: generated.Prefix,
		APIKeyHash:   generated.Hash,
	}
	if err := h.store.Create(r.Context(), account); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "account created",
		"account_id", account.ID,
		"role", string(role),
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: AccountWithToken{
		Account: account,
		Token:   generated.Token,
	}})
}

// List handles GET /v1/admin/accounts.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []*types.Account{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: accounts})
}
