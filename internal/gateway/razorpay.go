package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/dropforge/dropengine/pkg/httpclient"
)

// RazorpayGateway talks to the Razorpay Orders API over an HTTP client with
// retries and a circuit breaker.
type RazorpayGateway struct {
	client    *httpclient.CircuitBreakerClient
	baseURL   string
	keyID     string
	keySecret string
	logger    *slog.Logger
}

// NewRazorpayGateway creates a Razorpay gateway client.
func NewRazorpayGateway(baseURL, keyID, keySecret string, logger *slog.Logger) *RazorpayGateway {
	client := httpclient.New(httpclient.DefaultConfig())
	cb := httpclient.NewCircuitBreakerClient(client, httpclient.DefaultCircuitBreakerConfig("razorpay"), logger)
	return &RazorpayGateway{
		client:    cb,
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		logger:    logger,
	}
}

// Name returns the gateway name.
func (g *RazorpayGateway) Name() string {
	return "razorpay"
}

// remoteOrderDTO mirrors the Razorpay order resource.
type remoteOrderDTO struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

func (d *remoteOrderDTO) toRemoteOrder() *RemoteOrder {
	return &RemoteOrder{
		ID:       d.ID,
		Amount:   d.Amount,
		Currency: d.Currency,
		Receipt:  d.Receipt,
		Status:   d.Status,
		Notes:    d.Notes,
	}
}

// CreateOrder registers an order with Razorpay.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, input *CreateOrderInput) (*RemoteOrder, error) {
	payload, err := json.Marshal(map[string]any{
		"amount":   input.Amount,
		"currency": input.Currency,
		"receipt":  input.Receipt,
		"notes":    input.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create order payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "payment gateway")
	}

	var dto remoteOrderDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("decode gateway order: %w", err)
	}

	g.logger.DebugContext(ctx, "gateway order created",
		slog.String("gateway_order_id", dto.ID),
		slog.Int64("amount", dto.Amount),
	)

	return dto.toRemoteOrder(), nil
}

// FetchOrder retrieves a gateway order by its ID.
func (g *RazorpayGateway) FetchOrder(ctx context.Context, gatewayOrderID string) (*RemoteOrder, error) {
	endpoint := g.baseURL + "/v1/orders/" + url.PathEscape(gatewayOrderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create fetch order request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch gateway order %s: %w", gatewayOrderID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "payment gateway")
	}

	var dto remoteOrderDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("decode gateway order: %w", err)
	}
	return dto.toRemoteOrder(), nil
}
