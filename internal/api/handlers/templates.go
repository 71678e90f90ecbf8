package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"duepoint/internal/core"
	"duepoint/internal/notifications/template"
	"duepoint/internal/types"
)

// TemplateStore mirrors the db.TemplateRepository methods used by this
// handler.
type TemplateStore interface {
	Create(ctx context.Context, t *types.MessageTemplate) error
	GetByID(ctx context.Context, accountID, id string) (*types.MessageTemplate, error)
	ListByAccount(ctx context.Context, accountID string) ([]*types.MessageTemplate, error)
	Update(ctx context.Context, t *types.MessageTemplate) error
	Delete(ctx context.Context, accountID, id string) error
}

// CreateTemplateRequest is the request body for POST /v1/templates.
type CreateTemplateRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Content string `json:"content" validate:"required,max=4096"`
	Type    string `json:"type,omitempty" validate:"omitempty,oneof=reminder overdue confirmation custom"`
}

// UpdateTemplateRequest is the request body for PATCH /v1/templates/{id}.
type UpdateTemplateRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Content *string `json:"content,omitempty" validate:"omitempty,max=4096"`
	Type    *string `json:"type,omitempty" validate:"omitempty,oneof=reminder overdue confirmation custom"`
}

// TemplatePreview shows a template rendered against sample data, so the
// dashboard can display what a recipient would receive.
type TemplatePreview struct {
	Template *types.MessageTemplate `json:"template"`
	Rendered string                 `json:"rendered"`
}

// TemplateHandler manages message template CRUD and preview.
type TemplateHandler struct {
	store     TemplateStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewTemplateHandler creates a TemplateHandler with the provided dependencies.
func NewTemplateHandler(store TemplateStore, v *core.Validator, l *slog.Logger) *TemplateHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TemplateHandler{store: store, validator: v, logger: l}
}

// RegisterRoutes mounts template routes on the provided chi.Router.
func (h *TemplateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
			r.Get("/preview", h.Preview)
		})
	})
}

// Create handles POST /v1/templates.
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	var req CreateTemplateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tplType := types.TemplateType(req.Type)
	if tplType == "" {
		tplType = types.TemplateCustom
	}

	tpl := &types.MessageTemplate{
		AccountID: accountID,
		Name:      req.Name,
		Content:   req.Content,
		Type:      tplType,
	}
	if err := h.store.Create(r.Context(), tpl); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: tpl})
}

// List handles GET /v1/templates.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	templates, err := h.store.ListByAccount(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if templates == nil {
		templates = []*types.MessageTemplate{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: templates})
}

// Get handles GET /v1/templates/{id}.
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	tpl, err := h.store.GetByID(r.Context(), accountID, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: tpl})
}

// Update handles PATCH /v1/templates/{id}.
func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateTemplateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tpl, err := h.store.GetByID(r.Context(), accountID, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		tpl.Name = *req.Name
	}
	if req.Content != nil {
		tpl.Content = *req.Content
	}
	if req.Type != nil {
		tpl.Type = types.TemplateType(*req.Type)
	}

	if err := h.store.Update(r.Context(), tpl); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: tpl})
}

// Delete handles DELETE /v1/templates/{id}. Deleting a template still
// referenced by an automation rule returns 409.
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), accountID, id); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Preview handles GET /v1/templates/{id}/preview, rendering the template
// against fixed sample data.
func (h *TemplateHandler) Preview(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	tpl, err := h.store.GetByID(r.Context(), accountID, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	rendered := template.Render(tpl.Content, template.SampleData())
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: TemplatePreview{
		Template: tpl,
		Rendered: rendered,
	}})
}
