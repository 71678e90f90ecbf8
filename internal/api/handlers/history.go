package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"duepoint/internal/core"
	"duepoint/internal/types"
)

// exportPageSize is how many rows each export iteration fetches.
const exportPageSize = 100

// maxExportPages caps one export download.
const maxExportPages = 500

// HistoryStore mirrors the db.HistoryRepository read methods.
type HistoryStore interface {
	List(ctx context.Context, kind types.TargetKind, filter types.DeliveryHistoryFilter) ([]*types.DeliveryRecord, types.PageInfo, error)
}

// HistoryHandler exposes the append-only delivery history: paginated listing
// and a gzip streaming export for offline analysis.
type HistoryHandler struct {
	store  HistoryStore
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler with the provided dependencies.
func NewHistoryHandler(store HistoryStore, l *slog.Logger) *HistoryHandler {
	if l == nil {
		l = slog.Default()
	}
	return &HistoryHandler{store: store, logger: l}
}

// RegisterRoutes mounts history routes. The audience kind is part of the
// path, mirroring the parallel history tables.
func (h *HistoryHandler) RegisterRoutes(r chi.Router) {
	r.Route("/history/{kind}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/export", h.Export)
	})
}

func historyKind(w http.ResponseWriter, r *http.Request) (types.TargetKind, bool) {
	raw := chi.URLParam(r, "kind")
	var kind types.TargetKind
	switch raw {
	case "clients":
		kind = types.KindClient
	case "subscribers":
		kind = types.KindSubscriber
	default:
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidKind,
			"history kind must be clients or subscribers",
			nil,
		))
		return "", false
	}
	return kind, true
}

// buildFilter assembles the history filter from query parameters.
func buildFilter(r *http.Request, accountID string, limit int) (types.DeliveryHistoryFilter, *types.AppError) {
	filter := types.DeliveryHistoryFilter{
		AccountID: accountID,
		TargetID:  r.URL.Query().Get("target_id"),
		Cursor:    r.URL.Query().Get("cursor"),
		Limit:     limit,
	}

	switch r.URL.Query().Get("success") {
	case "":
	case "true":
		v := true
		filter.Success = &v
	case "false":
		v := false
		filter.Success = &v
	default:
		return filter, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"success must be true or false",
			nil,
		)
	}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, types.NewAppError(
				types.ErrCodeValidationInvalidTime,
				"since must be RFC 3339",
				err,
			)
		}
		filter.Since = t
	}

	return filter, nil
}

// List handles GET /v1/history/{kind}.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	kind, ok := historyKind(w, r)
	if !ok {
		return
	}

	limit, appErr := queryLimit(r, 20, 100)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	filter, appErr := buildFilter(r, accountID, limit)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	records, pageInfo, err := h.store.List(r.Context(), kind, filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if records == nil {
		records = []*types.DeliveryRecord{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: types.ListResponse[*types.DeliveryRecord]{Items: records, Page: pageInfo},
	})
}

// Export handles GET /v1/history/{kind}/export, streaming the full filtered
// history as gzip-compressed JSON Lines. Rows are paged out of the store and
// written incrementally, so exports never hold the whole history in memory.
func (h *HistoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	accountID, appErr := requestAccount(r)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}
	kind, ok := historyKind(w, r)
	if !ok {
		return
	}

	filter, appErr := buildFilter(r, accountID, exportPageSize)
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="delivery-history.jsonl.gz"`)

	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)

	exported := 0
	for page := 0; page < maxExportPages; page++ {
		records, pageInfo, err := h.store.List(r.Context(), kind, filter)
		if err != nil {
			// Headers are committed once the first page is written; all we
			// can do mid-stream is truncate the output and log.
			h.logger.ErrorContext(r.Context(), "history export aborted",
				"kind", string(kind),
				"account_id", accountID,
				"exported", exported,
				"error", err,
			)
			break
		}

		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				h.logger.WarnContext(r.Context(), "history export write failed",
					"exported", exported,
					"error", err,
				)
				_ = gz.Close()
				return
			}
			exported++
		}

		if !pageInfo.HasMore {
			break
		}
		filter.Cursor = pageInfo.NextCursor
	}

	if err := gz.Close(); err != nil {
		h.logger.WarnContext(r.Context(), "history export close failed", "error", err)
	}
}
