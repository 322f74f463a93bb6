package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dropforge/dropengine/internal/domain"
	pkgkafka "github.com/dropforge/dropengine/pkg/kafka"
)

// Kafka topics for engine domain events.
var (
	TopicInventoryReserved = pkgkafka.Topic("inventory", "reserved")
	TopicInventoryReleased = pkgkafka.Topic("inventory", "released")
	TopicOrderSettled      = pkgkafka.Topic("order", "settled")
	TopicOrderPaid         = pkgkafka.Topic("order", "paid")
)

// Aggregate type constants.
const (
	AggregateTypeInventory = "inventory"
	AggregateTypeOrder     = "order"
)

// Source identifier for events originating from the engine.
const SourceDropEngine = "drop-engine"

// InventoryReservedData is the payload for an inventory.reserved event.
type InventoryReservedData struct {
	ReservationID string `json:"reservation_id"`
	SessionID     string `json:"session_id"`
	VariantID     string `json:"variant_id"`
	Quantity      int    `json:"quantity"`
	ExpiresAt     string `json:"expires_at"`
}

// InventoryReleasedData is the payload for an inventory.released event.
type InventoryReleasedData struct {
	ReservationID string `json:"reservation_id"`
	SessionID     string `json:"session_id"`
	VariantID     string `json:"variant_id"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"`
}

// Release reason values carried on inventory.released events.
const (
	ReleaseReasonManual  = "manual"
	ReleaseReasonExpired = "expired"
)

// OrderSettledData is the payload for an order.settled event.
type OrderSettledData struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	MerchantID     string `json:"merchant_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Total          int64  `json:"total"`
	PlatformFee    int64  `json:"platform_fee"`
	NetAmount      int64  `json:"net_amount"`
	ItemCount      int    `json:"item_count"`
}

// OrderPaidData is the payload for an order.paid event.
type OrderPaidData struct {
	OrderID          string `json:"order_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
}

// Producer publishes engine domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the engine.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishInventoryReserved publishes an inventory.reserved event.
func (p *Producer) PublishInventoryReserved(ctx context.Context, reservation *domain.Reservation) error {
	data := InventoryReservedData{
		ReservationID: reservation.ID,
		SessionID:     reservation.SessionID,
		VariantID:     reservation.VariantID,
		Quantity:      reservation.Quantity,
		ExpiresAt:     reservation.ExpiresAt.Format(time.RFC3339),
	}

	event, err := pkgkafka.NewEvent(TopicInventoryReserved, reservation.VariantID, AggregateTypeInventory, SourceDropEngine, data)
	if err != nil {
		return fmt.Errorf("create inventory.reserved event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicInventoryReserved, event); err != nil {
		return fmt.Errorf("publish inventory.reserved event: %w", err)
	}

	p.logger.DebugContext(ctx, "published inventory.reserved event",
		slog.String("reservation_id", reservation.ID),
		slog.String("session_id", reservation.SessionID),
	)

	return nil
}

// PublishInventoryReleased publishes an inventory.released event.
func (p *Producer) PublishInventoryReleased(ctx context.Context, reservation *domain.Reservation, reason string) error {
	data := InventoryReleasedData{
		ReservationID: reservation.ID,
		SessionID:     reservation.SessionID,
		VariantID:     reservation.VariantID,
		Quantity:      reservation.Quantity,
		Reason:        reason,
	}

	event, err := pkgkafka.NewEvent(TopicInventoryReleased, reservation.VariantID, AggregateTypeInventory, SourceDropEngine, data)
	if err != nil {
		return fmt.Errorf("create inventory.released event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicInventoryReleased, event); err != nil {
		return fmt.Errorf("publish inventory.released event: %w", err)
	}

	p.logger.DebugContext(ctx, "published inventory.released event",
		slog.String("reservation_id", reservation.ID),
		slog.String("reason", reason),
	)

	return nil
}

// PublishOrderSettled publishes an order.settled event.
func (p *Producer) PublishOrderSettled(ctx context.Context, order *domain.Order, txn *domain.Transaction) error {
	data := OrderSettledData{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		MerchantID:     order.MerchantID,
		GatewayOrderID: order.GatewayOrderID,
		Total:          order.Total,
		PlatformFee:    txn.PlatformFee,
		NetAmount:      txn.NetAmount,
		ItemCount:      len(order.Items),
	}

	event, err := pkgkafka.NewEvent(TopicOrderSettled, order.ID, AggregateTypeOrder, SourceDropEngine, data)
	if err != nil {
		return fmt.Errorf("create order.settled event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderSettled, event); err != nil {
		return fmt.Errorf("publish order.settled event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.settled event",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
	)

	return nil
}

// PublishOrderPaid publishes an order.paid event.
func (p *Producer) PublishOrderPaid(ctx context.Context, orderID, gatewayOrderID, gatewayPaymentID string) error {
	data := OrderPaidData{
		OrderID:          orderID,
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
	}

	event, err := pkgkafka.NewEvent(TopicOrderPaid, orderID, AggregateTypeOrder, SourceDropEngine, data)
	if err != nil {
		return fmt.Errorf("create order.paid event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderPaid, event); err != nil {
		return fmt.Errorf("publish order.paid event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.paid event",
		slog.String("order_id", orderID),
		slog.String("gateway_payment_id", gatewayPaymentID),
	)

	return nil
}
