package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"duepoint/internal/core"
	"duepoint/internal/types"
)

// EndpointStore mirrors the db.EndpointRepository methods used by this
// handler.
type EndpointStore interface {
	Publish(ctx context.Context, e *types.WebhookEndpoint) error
	GetActive(ctx context.Context, kind string) (*types.WebhookEndpoint, error)
	ListVersions(ctx context.Context, kind string) ([]*types.WebhookEndpoint, error)
}

// PublishEndpointRequest is the request body for
// POST /v1/admin/endpoints/{kind}.
type PublishEndpointRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// EndpointHandler manages the versioned outbound webhook endpoint
// configuration. Publishing a new URL creates a new version and deactivates
// the previous one; old versions stay readable for audit. Admin only.
type EndpointHandler struct {
	store     EndpointStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewEndpointHandler creates an EndpointHandler with the provided
// dependencies.
func NewEndpointHandler(store EndpointStore, v *core.Validator, l *slog.Logger) *EndpointHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EndpointHandler{store: store, validator: v, logger: l}
}

// RegisterRoutes mounts the admin endpoint routes behind the admin guard.
func (h *EndpointHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/endpoints/{kind}", func(r chi.Router) {
		r.Use(core.RequireAdmin)
		r.Post("/", h.Publish)
		r.Get("/", h.GetActive)
		r.Get("/versions", h.ListVersions)
	})
}

// Publish handles POST /v1/admin/endpoints/{kind}.
func (h *EndpointHandler) Publish(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	kind, ok := urlID(w, r, "kind")
	if !ok {
		return
	}

	var req PublishEndpointRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	endpoint := &types.WebhookEndpoint{
		Kind:      kind,
		URL:       req.URL,
		UpdatedBy: actor.ID,
	}
	if err := h.store.Publish(r.Context(), endpoint); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "webhook endpoint published",
		"kind", kind,
		"version", endpoint.Version,
		"updated_by", actor.ID,
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: endpoint})
}

// GetActive handles GET /v1/admin/endpoints/{kind}.
func (h *EndpointHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	kind, ok := urlID(w, r, "kind")
	if !ok {
		return
	}

	endpoint, err := h.store.GetActive(r.Context(), kind)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: endpoint})
}

// ListVersions handles GET /v1/admin/endpoints/{kind}/versions, newest first.
func (h *EndpointHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	kind, ok := urlID(w, r, "kind")
	if !ok {
		return
	}

	versions, err := h.store.ListVersions(r.Context(), kind)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if versions == nil {
		versions = []*types.WebhookEndpoint{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: versions})
}
