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

// maxScheduleEntries bounds one schedule-replace request.
const maxScheduleEntries = 1000

// AutomationStore mirrors the db.AutomationRepository methods used by this
// handler.
type AutomationStore interface {
	Create(ctx context.Context, a *types.AutomationRule) error
	GetByID(ctx context.Context, accountID, id string) (*types.AutomationRule, error)
	ListByAccount(ctx context.Context, accountID string) ([]*types.AutomationRule, error)
	Update(ctx context.Context, a *types.AutomationRule) error
	Delete(ctx context.Context, accountID, id string) error
}

// ScheduleReplacer swaps an automation's pending queue rows transactionally,
// satisfied by db.QueueTxWriter.
type ScheduleReplacer interface {
	ReplacePending(ctx context.Context, accountID, automationID string, entries []types.ScheduleEntry) (int, error)
}

// QueueReader exposes an automation's queue rows for inspection.
type QueueReader interface {
	ListByAutomation(ctx context.Context, accountID, automationID string, status types.NotificationStatus, limit int) ([]*types.ScheduledNotification, error)
}

// CreateAutomationRequest is the request body for POST /v1/automations.
type CreateAutomationRequest struct {
	Name          string   `json:"name" validate:"required,max=200"`
	DaysOffset    int      `json:"days_offset" validate:"min=-90,max=90"`
	ScheduledTime string   `json:"scheduled_time" validate:"required,clock_hhmm"`
	TemplateID    string   `json:"template_id" validate:"required"`
	Audience      string   `json:"audience" validate:"required,target_kind"`
	TargetIDs     []string `json:"target_ids" validate:"max=10000"`
	Active        *bool    `json:"active,omitempty"`
}

// UpdateAutomationRequest is the request body for PATCH /v1/automations/{id}.
// The target list is replaced wholesale when present, never merged.
type UpdateAutomationRequest struct {
	Name          *string   `json:"name,omitempty" validate:"omitempty,max=200"`
	DaysOffset    *int      `json:"days_offset,omitempty" validate:"omitempty,min=-90,max=90"`
	ScheduledTime *string   `json:"scheduled_time,omitempty" validate:"omitempty,clock_hhmm"`
	TemplateID    *string   `json:"template_id,omitempty"`
	TargetIDs     *[]string `json:"target_ids,omitempty" validate:"omitempty,max=10000"`
	Active        *bool     `json:"active,omitempty"`
}

// ScheduleEntryRequest is one submitted instant in a schedule-replace
// request.
type ScheduleEntryRequest struct {
	TargetID   string `json:"target_id"`
	TargetKind string `json:"target_kind"`
	TemplateID string `json:"template_id,omitempty"`
	SendAt     string `json:"send_at"`
}

// ReplaceScheduleRequest is the request body for
// POST /v1/automations/{id}/schedule.
type ReplaceScheduleRequest struct {
	Entries []ScheduleEntryRequest `json:"entries" validate:"required"`
}

// ReplaceScheduleResponse reports the partial-success outcome of a
// schedule replacement: how many entries were accepted and which were
// skipped, with a per-entry reason.
type ReplaceScheduleResponse struct {
	Accepted int                  `json:"accepted"`
	Skipped  []types.SkippedEntry `json:"skipped"`
}

// AutomationHandler manages automation rule CRUD, manual schedule
// replacement, and queue inspection.
type AutomationHandler struct {
	store     AutomationStore
	templates TemplateStore
	schedule  ScheduleReplacer
	queue     QueueReader
	validator *core.Validator
	logger    *slog.Logger

	// graceWindow is how far in the past a submitted send_at may be before
	// the entry is rejected as stale.
	graceWindow time.Duration
	clock       types.Clock
}

// AutomationHandlerConfig holds the dependencies for an AutomationHandler.
type AutomationHandlerConfig struct {
	Store       AutomationStore
	Templates   TemplateStore
	Schedule    ScheduleReplacer
	Queue       QueueReader
	Validator   *core.Validator
	Logger      *slog.Logger
	GraceWindow time.Duration
	Clock       types.Clock
}

// NewAutomationHandler creates an AutomationHandler from its configuration.
func NewAutomationHandler(cfg AutomationHandlerConfig) *AutomationHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.GraceWindow
	if grace <= 0 {
		grace = time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &AutomationHandler{
		store:       cfg.Store,
		templates:   cfg.Templates,
		schedule:    cfg.Schedule,
		queue:       cfg.Queue,
		validator:   cfg.Validator,
		logger:      logger,
		graceWindow: grace,
		clock:       clock,
	}
}

// RegisterRoutes mounts automation routes on the provided chi.Router.
func (h *AutomationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/automations", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/schedule", h.ReplaceSchedule)
			r.Get("/queue", h.ListQueue)
		})
	})
}

// Create handles POST /v1/automations.
func (h *AutomationHandler) Create(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	var req CreateAutomationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	// The referenced template must belong to the same account.
	if _, err := h.templates.GetByID(r.Context(), accountID, req.TemplateID); err != nil {
		core.Error(w, r, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rule := &types.AutomationRule{
		AccountID:     accountID,
		Name:          req.Name,
		DaysOffset:    req.DaysOffset,
		ScheduledTime: req.ScheduledTime,
		TemplateID:    req.TemplateID,
		Audience:      types.TargetKind(req.Audience),
		TargetIDs:     req.TargetIDs,
		Active:        active,
	}
	if err := h.store.Create(r.Context(), rule); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "automation created",
		"automation_id", rule.ID,
		"account_id", accountID,
		"days_offset", rule.DaysOffset,
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: rule})
}

// List handles GET /v1/automations.
func (h *AutomationHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	rules, err := h.store.ListByAccount(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if rules == nil {
		rules = []*types.AutomationRule{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rules})
}

// Get handles GET /v1/automations/{id}.
func (h *AutomationHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	rule, err := h.store.GetByID(r.Context(), accountID, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rule})
}

// Update handles PATCH /v1/automations/{id}.
func (h *AutomationHandler) Update(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateAutomationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	rule, err := h.store.GetByID(r.Context(), accountID, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.DaysOffset != nil {
		rule.DaysOffset = *req.DaysOffset
	}
	if req.ScheduledTime != nil {
		rule.ScheduledTime = *req.ScheduledTime
	}
	if req.TemplateID != nil {
		if _, err := h.templates.GetByID(r.Context(), accountID, *req.TemplateID); err != nil {
			core.Error(w, r, err)
			return
		}
		rule.TemplateID = *req.TemplateID
	}
	if req.TargetIDs != nil {
		rule.TargetIDs = *req.TargetIDs
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := h.store.Update(r.Context(), rule); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rule})
}

// Delete handles DELETE /v1/automations/{id}. Pending notifications for the
// rule are failed before the row is removed.
func (h *AutomationHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

	h.logger.InfoContext(r.Context(), "automation deleted",
		"automation_id", id,
		"account_id", accountID,
	)
	w.WriteHeader(http.StatusNoContent)
}

// ReplaceSchedule handles POST /v1/automations/{id}/schedule. The submitted
// entries replace the rule's pending queue rows wholesale. Entries that fail
// validation, including any send_at older than the grace window, are skipped
// with a per-entry reason rather than failing the whole request; the valid
// remainder is applied atomically.
func (h *AutomationHandler) ReplaceSchedule(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	var req ReplaceScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.Entries) > maxScheduleEntries {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchSize,
			"too many schedule entries",
			nil,
			map[string]any{"max": maxScheduleEntries, "got": len(req.Entries)},
		))
		return
	}

	rule, err := h.store.GetByID(r.Context(), accountID, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	accepted, skipped := h.validateEntries(rule, req.Entries)

	if _, err := h.schedule.ReplacePending(r.Context(), accountID, id, accepted); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "schedule replaced",
		"automation_id", id,
		"account_id", accountID,
		"accepted", len(accepted),
		"skipped", len(skipped),
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ReplaceScheduleResponse{
		Accepted: len(accepted),
		Skipped:  skipped,
	}})
}

// validateEntries splits submitted entries into the accepted schedule and
// per-entry rejections. Stale instants are measured against the grace window
// so clients a few seconds behind the server clock are not rejected.
func (h *AutomationHandler) validateEntries(rule *types.AutomationRule, entries []ScheduleEntryRequest) ([]types.ScheduleEntry, []types.SkippedEntry) {
	cutoff := h.clock.Now().UTC().Add(-h.graceWindow)

	accepted := make([]types.ScheduleEntry, 0, len(entries))
	skipped := []types.SkippedEntry{}
	for i, e := range entries {
		if e.TargetID == "" {
			skipped = append(skipped, types.SkippedEntry{Index: i, Reason: "target_id is required"})
			continue
		}

		kind := types.TargetKind(e.TargetKind)
		if e.TargetKind == "" {
			kind = rule.Audience
		}
		if !kind.Valid() {
			skipped = append(skipped, types.SkippedEntry{Index: i, Reason: "unknown target_kind"})
			continue
		}

		sendAt, err := time.Parse(time.RFC3339, e.SendAt)
		if err != nil {
			skipped = append(skipped, types.SkippedEntry{Index: i, SendAt: e.SendAt, Reason: "send_at must be RFC 3339"})
			continue
		}
		if sendAt.Before(cutoff) {
			skipped = append(skipped, types.SkippedEntry{Index: i, SendAt: e.SendAt, Reason: "send_at is in the past"})
			continue
		}

		templateID := e.TemplateID
		if templateID == "" {
			templateID = rule.TemplateID
		}

		accepted = append(accepted, types.ScheduleEntry{
			TargetID:   e.TargetID,
			TargetKind: kind,
			TemplateID: templateID,
			SendAt:     sendAt.UTC(),
		})
	}
	return accepted, skipped
}

// ListQueue handles GET /v1/automations/{id}/queue, exposing the rule's
// scheduled notifications with an optional status filter.
func (h *AutomationHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	limit, appErr := queryLimit(r, 50, 200)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	status := types.NotificationStatus(r.URL.Query().Get("status"))

	items, err := h.queue.ListByAutomation(r.Context(), accountID, id, status, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*types.ScheduledNotification{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: items})
}
