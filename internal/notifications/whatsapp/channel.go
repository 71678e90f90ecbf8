// Package whatsapp implements the WhatsApp delivery channel. Messages are
// POSTed to an external automation webhook (the endpoint URL is versioned
// admin configuration, not code) using the envelope the downstream flow
// expects: a single-element "body" array carrying the instance, contact, and
// rendered text.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"duepoint/internal/config"
	"duepoint/internal/external"
	"duepoint/internal/types"
)

// maxResponseBodyRead limits how much of a webhook response is captured into
// the delivery history row.
const maxResponseBodyRead = 4096

// deliveryMode is always "real"; the downstream flow once supported a dry-run
// mode and still requires the field.
const deliveryMode = "real"

// Compile-time assertion that Channel implements types.MessageChannel.
var _ types.MessageChannel = (*Channel)(nil)

// messageEntry is one element of the webhook body array.
type messageEntry struct {
	InstanceName string `json:"instanceName"`
	ContactName  string `json:"contact_name"`
	Number       string `json:"number"`
	Text         string `json:"text"`
	Mode         string `json:"mode"`
}

// webhookEnvelope is the outbound payload. The body is an array for
// downstream compatibility; this channel always sends exactly one entry.
type webhookEnvelope struct {
	Body []messageEntry `json:"body"`
}

// Channel delivers rendered messages over the WhatsApp automation webhook.
// All HTTP traffic flows through the shared BaseClient for circuit breaking
// and error mapping; in-process retries are disabled because redelivery is
// the queue's responsibility.
type Channel struct {
	client *external.BaseClient
	logger types.Logger
}

// NewChannel creates a Channel using the delivery settings from config.
func NewChannel(cfg *config.DeliveryConfig, logger types.Logger) *Channel {
	httpClient := &http.Client{Timeout: cfg.DefaultTimeout}
	base := external.NewBaseClient(
		httpClient,
		"whatsapp-webhook",
		external.NoRetryPolicy(),
		cfg.UserAgent,
		types.ErrCodeUpstreamWebhook,
	)
	return &Channel{client: base, logger: logger}
}

// NewChannelWithClient creates a Channel with a caller-supplied BaseClient.
// This constructor exists for testing against an httptest server.
func NewChannelWithClient(client *external.BaseClient, logger types.Logger) *Channel {
	return &Channel{client: client, logger: logger}
}

// Kind returns the channel kind identifier.
func (c *Channel) Kind() string {
	return types.WebhookKindWhatsApp
}

// BuildPayload serializes the outbound envelope for a message.
func BuildPayload(msg *types.OutboundMessage) ([]byte, error) {
	env := webhookEnvelope{
		Body: []messageEntry{
			{
				InstanceName: msg.InstanceName,
				ContactName:  msg.ContactName,
				Number:       msg.Number,
				Text:         msg.Text,
				Mode:         deliveryMode,
			},
		},
	}
	return json.Marshal(env)
}

// Deliver POSTs the message to the destination webhook. A non-nil
// DeliveryResult is returned on every outcome, carrying the request bytes,
// the HTTP status, and an opportunistic capture of the response body:
// valid JSON is stored as-is, anything else is wrapped as a JSON string.
// The boolean Retryable distinguishes transient failures (network errors,
// 5xx, 429) from permanent rejections (other 4xx).
func (c *Channel) Deliver(ctx context.Context, msg *types.OutboundMessage, destination string) (*types.DeliveryResult, error) {
	payload, err := BuildPayload(msg)
	if err != nil {
		return &types.DeliveryResult{
			FailureReason: "failed to serialize webhook payload",
			Retryable:     false,
		}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize webhook payload", err)
	}

	result := &types.DeliveryResult{RequestPayload: payload}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(payload))
	if err != nil {
		result.FailureReason = "invalid webhook destination"
		return result, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failure, circuit open, or 5xx/429. When the final attempt
		// produced a response, the mapped error carries its status and body;
		// the history row keeps whatever was recoverable.
		result.FailureReason = err.Error()
		result.Retryable = true
		result.StatusCode = external.ErrorStatusCode(err)
		if body := external.ErrorResponseBody(err); len(body) > 0 {
			result.ResponseBody = captureResponseBody(bytes.NewReader(body))
		}
		return result, err
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.ResponseBody = captureResponseBody(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return result, nil
	}

	// Non-2xx that BaseClient passed through (4xx other than 429): the
	// endpoint rejected this specific request, so retrying the same payload
	// will not help.
	result.FailureReason = "webhook rejected request with status " + http.StatusText(resp.StatusCode)
	result.Retryable = false
	return result, types.NewAppError(types.ErrCodeUpstreamWebhook,
		result.FailureReason, nil)
}

// captureResponseBody reads up to maxResponseBodyRead bytes and normalizes
// them into a JSON value suitable for the history row's response column.
func captureResponseBody(r io.Reader) json.RawMessage {
	raw, err := io.ReadAll(io.LimitReader(r, maxResponseBodyRead))
	if err != nil || len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	wrapped, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return wrapped
}
