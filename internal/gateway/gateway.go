package gateway

import (
	"context"
)

// CreateOrderInput holds the parameters for creating a remote gateway order.
// Amount is in minor currency units.
type CreateOrderInput struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// RemoteOrder is the gateway's view of an order. Notes carry the metadata
// stamped at creation time (merchant, internal order id, fee percent) and are
// read back during settlement as the audit source of truth.
type RemoteOrder struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
	Receipt  string
	Notes    map[string]string
}

// Gateway defines the interface for payment gateway integrations.
type Gateway interface {
	// Name returns the gateway name (e.g., "mock", "razorpay").
	Name() string

	// CreateOrder registers an order with the gateway before payment capture.
	CreateOrder(ctx context.Context, input *CreateOrderInput) (*RemoteOrder, error)

	// FetchOrder retrieves a previously created gateway order by its ID.
	FetchOrder(ctx context.Context, gatewayOrderID string) (*RemoteOrder, error)
}
