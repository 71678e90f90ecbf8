package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duepoint/internal/external"
	"duepoint/internal/types"
)

type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) With(args ...any) types.Logger { return noopLogger{} }

func testChannel() *Channel {
	base := external.NewBaseClient(
		&http.Client{},
		"whatsapp-webhook-test",
		external.NoRetryPolicy(),
		"duepoint-test/1.0",
		types.ErrCodeUpstreamWebhook,
	)
	return NewChannelWithClient(base, noopLogger{})
}

func testMessage() *types.OutboundMessage {
	return &types.OutboundMessage{
		InstanceName: "instance-1",
		ContactName:  "Ana",
		Number:       "+5511999990000",
		Text:         "Olá Ana, vence em 20/06/2026",
	}
}

func TestBuildPayload_Envelope(t *testing.T) {
	payload, err := BuildPayload(testMessage())
	require.NoError(t, err)

	var env struct {
		Body []map[string]string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(payload, &env))
	require.Len(t, env.Body, 1)

	entry := env.Body[0]
	assert.Equal(t, "instance-1", entry["instanceName"])
	assert.Equal(t, "Ana", entry["contact_name"])
	assert.Equal(t, "+5511999990000", entry["number"])
	assert.Equal(t, "Olá Ana, vence em 20/06/2026", entry["text"])
	assert.Equal(t, "real", entry["mode"])
}

func TestDeliver_Success(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	result, err := testChannel().Deliver(context.Background(), testMessage(), srv.URL)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"status":"queued"}`, string(result.ResponseBody))
	assert.Equal(t, string(result.RequestPayload), string(received))
}

func TestDeliver_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"flow engine restarting"}`))
	}))
	defer srv.Close()

	result, err := testChannel().Deliver(context.Background(), testMessage(), srv.URL)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Retryable)
	assert.NotEmpty(t, result.FailureReason)
	assert.NotEmpty(t, result.RequestPayload)
	// The 503 conversation survives into the result so the history row can
	// show what the upstream said.
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	assert.JSONEq(t, `{"error":"flow engine restarting"}`, string(result.ResponseBody))
}

func TestDeliver_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown instance"}`))
	}))
	defer srv.Close()

	result, err := testChannel().Deliver(context.Background(), testMessage(), srv.URL)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Retryable)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.JSONEq(t, `{"error":"unknown instance"}`, string(result.ResponseBody))

	appErr, ok := types.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeUpstreamWebhook, appErr.Code)
}

func TestDeliver_NetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	result, err := testChannel().Deliver(context.Background(), testMessage(), srv.URL)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Retryable)
}

func TestDeliver_NonJSONResponseWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Accepted for flow"))
	}))
	defer srv.Close()

	result, err := testChannel().Deliver(context.Background(), testMessage(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, `"Accepted for flow"`, string(result.ResponseBody))
}

func TestChannel_Kind(t *testing.T) {
	assert.Equal(t, types.WebhookKindWhatsApp, testChannel().Kind())
}
