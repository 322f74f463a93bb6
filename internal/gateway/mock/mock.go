package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dropforge/dropengine/internal/gateway"
)

// Gateway is an in-memory payment gateway that always succeeds. Orders it
// creates can be fetched back, which is enough for development and tests.
type Gateway struct {
	mu     sync.Mutex
	orders map[string]*gateway.RemoteOrder
}

// NewGateway creates a new mock gateway.
func NewGateway() *Gateway {
	return &Gateway{orders: make(map[string]*gateway.RemoteOrder)}
}

// Name returns the gateway name.
func (g *Gateway) Name() string {
	return "mock"
}

// CreateOrder records an order in memory and returns it with a generated ID.
func (g *Gateway) CreateOrder(_ context.Context, input *gateway.CreateOrderInput) (*gateway.RemoteOrder, error) {
	order := &gateway.RemoteOrder{
		ID:       "order_mock_" + uuid.New().String(),
		Amount:   input.Amount,
		Currency: input.Currency,
		Receipt:  input.Receipt,
		Status:   "created",
		Notes:    input.Notes,
	}

	g.mu.Lock()
	g.orders[order.ID] = order
	g.mu.Unlock()

	return order, nil
}

// FetchOrder returns a previously created order.
func (g *Gateway) FetchOrder(_ context.Context, gatewayOrderID string) (*gateway.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if order, ok := g.orders[gatewayOrderID]; ok {
		return order, nil
	}
	// Unknown IDs still resolve so webhook-driven flows can be exercised
	// against the mock without a prior CreateOrder call.
	return &gateway.RemoteOrder{
		ID:       gatewayOrderID,
		Status:   "created",
		Currency: "INR",
		Notes:    map[string]string{},
	}, nil
}
