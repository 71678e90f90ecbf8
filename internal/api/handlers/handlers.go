// Package handlers contains the HTTP handler implementations for the
// DuePoint API. Each handler depends on locally defined interfaces mirroring
// the repository methods it uses, keeping the handlers testable with
// hand-rolled fakes.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"duepoint/internal/core"
	"duepoint/internal/types"
)

// requestAccount resolves the account the request operates on. Account actors
// are scoped to themselves; admins and the cron credential may address any
// account via the account_id query parameter.
func requestAccount(r *http.Request) (string, *types.AppError) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil)
	}

	if override := r.URL.Query().Get("account_id"); override != "" {
		if !actor.IsAdmin() {
			return "", types.NewAppError(
				types.ErrCodePermissionAccountMismatch,
				"cannot act on another account",
				nil,
			)
		}
		return override, nil
	}

	if actor.AccountID == "" {
		return "", types.NewAppError(
			types.ErrCodePermissionAccountMismatch,
			"service credentials must specify account_id",
			nil,
		)
	}
	return actor.AccountID, nil
}

// urlID extracts a required path parameter, writing a 400 when absent.
func urlID(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	v := chi.URLParam(r, param)
	if v == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			param+" is required",
			nil,
		))
		return "", false
	}
	return v, true
}

// queryLimit parses the limit query parameter, clamped to [1, max].
func queryLimit(r *http.Request, def, max int) (int, *types.AppError) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"limit must be a number between 1 and "+strconv.Itoa(max),
			nil,
		)
	}
	return n, nil
}
