package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"duepoint/internal/core"
	"duepoint/internal/types"
)

// TargetStore mirrors the db.TargetRepository methods used by this handler.
type TargetStore interface {
	Create(ctx context.Context, t *types.Target) error
	GetByID(ctx context.Context, kind types.TargetKind, accountID, id string) (*types.Target, error)
	ListByAccount(ctx context.Context, kind types.TargetKind, accountID string) ([]*types.Target, error)
	Update(ctx context.Context, t *types.Target) error
	SoftDelete(ctx context.Context, kind types.TargetKind, accountID, id string) error
}

// CreateTargetRequest is the request body for POST /v1/clients and
// POST /v1/subscribers.
type CreateTargetRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Phone       string `json:"phone" validate:"required,phone_e164"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	PlanName    string `json:"plan_name,omitempty" validate:"max=200"`
	AmountCents int64  `json:"amount_cents" validate:"min=0"`
	DueDate     string `json:"due_date" validate:"required"`
	Status      string `json:"status,omitempty" validate:"omitempty,oneof=active inactive overdue"`
}

// UpdateTargetRequest is the request body for PATCH /v1/clients/{id} and
// PATCH /v1/subscribers/{id}. Pointer fields allow partial updates.
type UpdateTargetRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Phone       *string `json:"phone,omitempty" validate:"omitempty,phone_e164"`
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
	PlanName    *string `json:"plan_name,omitempty" validate:"omitempty,max=200"`
	AmountCents *int64  `json:"amount_cents,omitempty" validate:"omitempty,min=0"`
	DueDate     *string `json:"due_date,omitempty"`
	Status      *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive overdue"`
}

// TargetHandler manages the two recipient audiences. The same handler serves
// /clients and /subscribers; the audience kind is bound at route
// registration.
type TargetHandler struct {
	store     TargetStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewTargetHandler creates a TargetHandler with the provided dependencies.
func NewTargetHandler(store TargetStore, v *core.Validator, l *slog.Logger) *TargetHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TargetHandler{store: store, validator: v, logger: l}
}

// RegisterRoutes mounts the parallel audience routes.
func (h *TargetHandler) RegisterRoutes(r chi.Router) {
	mount := func(kind types.TargetKind) func(chi.Router) {
		return func(r chi.Router) {
			r.Post("/", h.create(kind))
			r.Get("/", h.list(kind))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.get(kind))
				r.Patch("/", h.update(kind))
				r.Delete("/", h.delete(kind))
			})
		}
	}
	r.Route("/clients", mount(types.KindClient))
	r.Route("/subscribers", mount(types.KindSubscriber))
}

func (h *TargetHandler) create(kind types.TargetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, appErr := requestAccount(r)
		if appErr != nil {
			core.Error(w, r, appErr)
			return
		}

		var req CreateTargetRequest
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}

		dueDate, err := parseDueDate(req.DueDate)
		if err != nil {
			core.Error(w, r, err)
			return
		}

		status := types.TargetStatus(req.Status)
		if status == "" {
			status = types.TargetActive
		}

		target := &types.Target{
			AccountID:   accountID,
			Kind:        kind,
			Name:        req.Name,
			Phone:       req.Phone,
			Email:       req.Email,
			PlanName:    req.PlanName,
			AmountCents: req.AmountCents,
			DueDate:     dueDate,
			Status:      status,
		}
		if err := h.store.Create(r.Context(), target); err != nil {
			core.Error(w, r, err)
			return
		}

		h.logger.InfoContext(r.Context(), "target created",
			"target_id", target.ID,
			"kind", string(kind),
			"account_id", accountID,
		)
		core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: target})
	}
}

func (h *TargetHandler) list(kind types.TargetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, appErr := requestAccount(r)
		if appErr != nil {
			core.Error(w, r, appErr)
			return
		}

		targets, err := h.store.ListByAccount(r.Context(), kind, accountID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		if targets == nil {
			targets = []*types.Target{}
		}
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: targets})
	}
}

func (h *TargetHandler) get(kind types.TargetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, appErr := requestAccount(r)
		if appErr != nil {
			core.Error(w, r, appErr)
			return
		}
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}

		target, err := h.store.GetByID(r.Context(), kind, accountID, id)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: target})
	}
}

func (h *TargetHandler) update(kind types.TargetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, appErr := requestAccount(r)
		if appErr != nil {
			core.Error(w, r, appErr)
			return
		}
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}

		var req UpdateTargetRequest
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}

		target, err := h.store.GetByID(r.Context(), kind, accountID, id)
		if err != nil {
			core.Error(w, r, err)
			return
		}

		if req.Name != nil {
			target.Name = *req.Name
		}
		if req.Phone != nil {
			target.Phone = *req.Phone
		}
		if req.Email != nil {
			target.Email = *req.Email
		}
		if req.PlanName != nil {
			target.PlanName = *req.PlanName
		}
		if req.AmountCents != nil {
			target.AmountCents = *req.AmountCents
		}
		if req.DueDate != nil {
			dueDate, err := parseDueDate(*req.DueDate)
			if err != nil {
				core.Error(w, r, err)
				return
			}
			target.DueDate = dueDate
		}
		if req.Status != nil {
			target.Status = types.TargetStatus(*req.Status)
		}

		if err := h.store.Update(r.Context(), target); err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: target})
	}
}

func (h *TargetHandler) delete(kind types.TargetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, appErr := requestAccount(r)
		if appErr != nil {
			core.Error(w, r, appErr)
			return
		}
		id, ok := urlID(w, r, "id")
		if !ok {
			return
		}

		if err := h.store.SoftDelete(r.Context(), kind, accountID, id); err != nil {
			core.Error(w, r, err)
			return
		}

		h.logger.InfoContext(r.Context(), "target deleted",
			"target_id", id,
			"kind", string(kind),
			"account_id", accountID,
		)
		w.WriteHeader(http.StatusNoContent)
	}
}

// parseDueDate accepts a calendar date ("2006-01-02") or a full RFC 3339
// timestamp.
func parseDueDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.NewAppError(
			types.ErrCodeValidationInvalidTime,
			"due_date must be YYYY-MM-DD or RFC 3339",
			err,
		)
	}
	return t.UTC(), nil
}
