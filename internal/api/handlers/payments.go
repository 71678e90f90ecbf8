package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"duepoint/internal/core"
	"duepoint/internal/types"
)

// callbackSecretHeader carries the shared secret on provider payment
// callbacks.
const callbackSecretHeader = "X-Webhook-Secret"

// PaymentService is the billing surface used by this handler, satisfied by
// billing.PaymentService.
type PaymentService interface {
	CreateCharge(ctx context.Context, accountID string, amountCents int64, targetID string) (*types.PixCharge, error)
	GetCharge(ctx context.Context, accountID, id string) (*types.PixCharge, error)
	ListCharges(ctx context.Context, accountID string, limit int) ([]*types.PixCharge, error)
	ConfirmPayment(ctx context.Context, providerChargeID string) error
}

// CreateChargeRequest is the request body for POST /v1/payments/charges.
type CreateChargeRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,min=1"`
	TargetID    string `json:"target_id,omitempty"`
}

// paymentCallbackRequest is the subset of the provider's callback body the
// handler reads. The rest of the payload is provider-specific and ignored.
type paymentCallbackRequest struct {
	Event  string `json:"event,omitempty"`
	Charge struct {
		CorrelationID string `json:"correlationID"`
		Status        string `json:"status,omitempty"`
	} `json:"charge"`
}

// PaymentHandler manages PIX balance top-ups: charge creation, listing, and
// the provider's payment confirmation callback.
type PaymentHandler struct {
	service       PaymentService
	validator     *core.Validator
	logger        *slog.Logger
	webhookSecret string
}

// NewPaymentHandler creates a PaymentHandler with the provided dependencies.
func NewPaymentHandler(service PaymentService, v *core.Validator, l *slog.Logger, webhookSecret types.SecretString) *PaymentHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PaymentHandler{
		service:       service,
		validator:     v,
		logger:        l,
		webhookSecret: webhookSecret.Unmask(),
	}
}

// RegisterRoutes mounts payment routes. The callback route is exempt from
// bearer authentication; it authenticates with the shared webhook secret
// instead.
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/charges", h.CreateCharge)
		r.Get("/charges", h.ListCharges)
		r.Get("/charges/{id}", h.GetCharge)
		r.Post("/callback", h.Callback)
	})
}

// CreateCharge handles POST /v1/payments/charges.
func (h *PaymentHandler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	var req CreateChargeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	charge, err := h.service.CreateCharge(r.Context(), accountID, req.AmountCents, req.TargetID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: charge})
}

// ListCharges handles GET /v1/payments/charges.
func (h *PaymentHandler) ListCharges(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	limit, appErr := queryLimit(r, 50, 200)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	charges, err := h.service.ListCharges(r.Context(), accountID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if charges == nil {
		charges = []*types.PixCharge{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: charges})
}

// GetCharge handles GET /v1/payments/charges/{id}.
func (h *PaymentHandler) GetCharge(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	charge, err := h.service.GetCharge(r.Context(), accountID, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: charge})
}

// Callback handles POST /v1/payments/callback, the provider's payment
// confirmation. Unknown events are acknowledged with 200 so the provider
// stops redelivering them; only a failed credit returns an error status.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(callbackSecretHeader)
	if h.webhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"invalid callback credentials",
			nil,
		))
		return
	}

	var req paymentCallbackRequest
	if err := core.DecodeJSONLenient(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Charge.CorrelationID == "" {
		h.logger.WarnContext(r.Context(), "payment callback without charge identifier",
			"event", req.Event,
		)
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": "ignored"}})
		return
	}

	if err := h.service.ConfirmPayment(r.Context(), req.Charge.CorrelationID); err != nil {
		appErr, ok := types.AsAppError(err)
		if ok && appErr.Code == types.ErrCodeNotFoundCharge {
			// A charge we never created; acknowledge so the provider stops
			// retrying.
			h.logger.WarnContext(r.Context(), "payment callback for unknown charge",
				"provider_charge_id", req.Charge.CorrelationID,
			)
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": "ignored"}})
			return
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": "processed"}})
}
