package repository

import (
	"context"

	"github.com/dropforge/dropengine/internal/domain"
)

// VariantRepository defines the interface for variant stock persistence.
type VariantRepository interface {
	// GetByID retrieves a variant by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Variant, error)

	// Upsert creates a variant stock record or refreshes its catalog fields
	// and inventory count (idempotent seeding).
	Upsert(ctx context.Context, variant *domain.Variant) (*domain.Variant, error)

	// GetMany retrieves the variants for the given IDs in one query.
	GetMany(ctx context.Context, ids []string) ([]domain.Variant, error)
}

// ReservationRepository defines the interface for reservation reads.
// Reservation writes happen inside service-layer transactions together with
// the reserved-count bookkeeping they must stay atomic with.
type ReservationRepository interface {
	// GetByID retrieves a reservation by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)

	// GetBySession retrieves all reservations held by a checkout session.
	GetBySession(ctx context.Context, sessionID string) ([]domain.Reservation, error)

	// GetExpired returns reservations that have passed their expiry time.
	GetExpired(ctx context.Context) ([]domain.Reservation, error)
}

// OrderRepository defines the interface for settled order reads.
type OrderRepository interface {
	// GetByID retrieves an order with its line items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetByGatewayOrderID retrieves an order by the gateway's order ID.
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error)

	// List returns recent orders, newest first, with the total count.
	List(ctx context.Context, page, perPage int) ([]domain.Order, int, error)
}

// WebhookEventRepository defines the interface for webhook dedup reads.
type WebhookEventRepository interface {
	// IsProcessed reports whether the gateway event ID was already handled.
	IsProcessed(ctx context.Context, eventID string) (bool, error)
}
