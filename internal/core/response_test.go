package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duepoint/internal/types"
)

type decodeTarget struct {
	Name string `json:"name"`
}

func postJSON(body string) (*httptest.ResponseRecorder, *http.Request) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return httptest.NewRecorder(), req
}

func TestDecodeJSON_Valid(t *testing.T) {
	w, r := postJSON(`{"name":"ana"}`)

	var dst decodeTarget
	require.NoError(t, DecodeJSON(w, r, &dst))
	assert.Equal(t, "ana", dst.Name)
}

func TestDecodeJSON_RejectsUnknownField(t *testing.T) {
	w, r := postJSON(`{"name":"ana","surprise":true}`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	require.Error(t, err)
	appErr, ok := types.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errCodeValidationInvalidJSON, appErr.Code)
	assert.Contains(t, appErr.Message, "unknown field")
}

func TestDecodeJSON_RejectsEmptyBody(t *testing.T) {
	w, r := postJSON("")

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	require.Error(t, err)
	appErr, _ := types.AsAppError(err)
	assert.Contains(t, appErr.Message, "empty")
}

func TestDecodeJSON_RejectsTrailingValues(t *testing.T) {
	w, r := postJSON(`{"name":"ana"}{"name":"bruno"}`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	require.Error(t, err)
	appErr, _ := types.AsAppError(err)
	assert.Contains(t, appErr.Message, "single JSON object")
}

func TestDecodeJSON_RejectsMalformed(t *testing.T) {
	w, r := postJSON(`{"name":`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	require.Error(t, err)
}

func TestDecodeJSON_WrongFieldType(t *testing.T) {
	w, r := postJSON(`{"name":42}`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	require.Error(t, err)
	appErr, ok := types.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "name", appErr.Details["field"])
}

func TestDecodeJSONLenient_AcceptsUnknownFields(t *testing.T) {
	w, r := postJSON(`{"name":"ana","provider_extra":{"nested":true}}`)

	var dst decodeTarget
	require.NoError(t, DecodeJSONLenient(w, r, &dst))
	assert.Equal(t, "ana", dst.Name)
}

func TestError_AppErrorStatusMapping(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeValidationMissingField, http.StatusBadRequest},
		{types.ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{types.ErrCodePermissionRole, http.StatusForbidden},
		{types.ErrCodeNotFoundTarget, http.StatusNotFound},
		{types.ErrCodeConflictTemplateInUse, http.StatusConflict},
		{types.ErrCodePreconditionNoInstance, http.StatusPreconditionFailed},
		{types.ErrCodeUpstreamWebhook, http.StatusBadGateway},
		{types.ErrCodeUpstreamRateLimit, http.StatusTooManyRequests},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			Error(w, r, types.NewAppError(tt.code, "boom", nil))
			assert.Equal(t, tt.status, w.Code)

			var resp APIErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, "boom", resp.Error.Message)
		})
	}
}

func TestError_GenericErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(w, r, errors.New("pq: connection refused to 10.0.0.5"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "10.0.0.5")
}

func TestError_IncludesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req_123"))

	Error(w, r, types.NewAppError(types.ErrCodeNotFoundTarget, "missing", nil))

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "req_123", resp.Error.RequestID)
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAdmin(next)

	t.Run("no actor", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("user actor", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := types.WithActor(r.Context(), types.Actor{ID: "a", Type: types.ActorTypeAccount, Role: types.RoleUser})
		handler.ServeHTTP(w, r.WithContext(ctx))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin actor", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := types.WithActor(r.Context(), types.Actor{ID: "a", Type: types.ActorTypeAccount, Role: types.RoleAdmin})
		handler.ServeHTTP(w, r.WithContext(ctx))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("cron actor", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := types.WithActor(r.Context(), types.Actor{ID: "cron", Type: types.ActorTypeCron})
		handler.ServeHTTP(w, r.WithContext(ctx))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
