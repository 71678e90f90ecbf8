// Package billing integrates DuePoint with PIX payment providers. Accounts
// top up a prepaid balance by paying PIX charges; the provider confirms
// payment through a signed callback and the balance is credited exactly once.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"duepoint/internal/config"
	"duepoint/internal/external"
	"duepoint/internal/types"
)

// maxGatewayResponseRead bounds how much of a provider response body is
// buffered.
const maxGatewayResponseRead = 64 * 1024

// GatewayCharge is the provider-agnostic result of creating a charge.
type GatewayCharge struct {
	ProviderChargeID string
	QRCode           string
	RawPayload       json.RawMessage
}

// Gateway creates charges against a PIX provider.
type Gateway interface {
	Provider() string
	CreateCharge(ctx context.Context, correlationID string, amountCents int64, comment string) (*GatewayCharge, error)
}

// HTTPGateway talks to a PIX provider's REST API through the shared
// resilience client. The request and response shapes follow the OpenPix
// charge API; the full provider response is kept as an opaque payload.
type HTTPGateway struct {
	provider string
	baseURL  string
	apiKey   string
	client   *external.BaseClient
}

// NewHTTPGateway builds a gateway from configuration. Charge creation is
// idempotent on the provider side (keyed by correlation ID), so the default
// retry policy is safe here.
func NewHTTPGateway(cfg config.PixConfig, userAgent string) *HTTPGateway {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	return &HTTPGateway{
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey.Unmask(),
		client: external.NewBaseClient(
			httpClient,
			"pix-gateway",
			external.DefaultRetryPolicy(),
			userAgent,
			types.ErrCodeUpstreamPixGateway,
		),
	}
}

// NewHTTPGatewayWithClient injects a prebuilt BaseClient, for tests.
func NewHTTPGatewayWithClient(provider, baseURL, apiKey string, client *external.BaseClient) *HTTPGateway {
	return &HTTPGateway{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		client:   client,
	}
}

// Provider returns the configured provider identifier, recorded on each
// charge row.
func (g *HTTPGateway) Provider() string {
	return g.provider
}

type createChargeRequest struct {
	CorrelationID string `json:"correlationID"`
	Value         int64  `json:"value"`
	Comment       string `json:"comment,omitempty"`
}

type createChargeResponse struct {
	Charge struct {
		CorrelationID string `json:"correlationID"`
		BRCode        string `json:"brCode"`
	} `json:"charge"`
}

// CreateCharge posts a new charge to the provider. The correlation ID is our
// side's idempotency key; submitting it twice returns the same charge.
func (g *HTTPGateway) CreateCharge(ctx context.Context, correlationID string, amountCents int64, comment string) (*GatewayCharge, error) {
	body, err := json.Marshal(createChargeRequest{
		CorrelationID: correlationID,
		Value:         amountCents,
		Comment:       comment,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode charge request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/v1/charge", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build charge request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponseRead))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPixGateway, "failed to read provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamPixGateway,
			fmt.Sprintf("provider rejected charge with status %d", resp.StatusCode),
			nil,
		)
	}

	var parsed createChargeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPixGateway, "provider returned unparseable charge", err)
	}

	providerID := parsed.Charge.CorrelationID
	if providerID == "" {
		providerID = correlationID
	}

	return &GatewayCharge{
		ProviderChargeID: providerID,
		QRCode:           parsed.Charge.BRCode,
		RawPayload:       json.RawMessage(raw),
	}, nil
}
