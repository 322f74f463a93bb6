package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dropforge/dropengine/internal/domain"
	"github.com/dropforge/dropengine/pkg/database"
	apperrors "github.com/dropforge/dropengine/pkg/errors"
)

// OrderRepository implements settled order reads using PostgreSQL.
// Order writes happen inside the settlement transaction in the service layer.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, merchant_id, customer_id, address_id, order_number, gateway_order_id, gateway_payment_id,
	subtotal, shipping_fee, total, payment_status, status, paid_at, created_at`

// GetByID retrieves an order with its line items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := r.scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// GetByGatewayOrderID retrieves an order by the gateway's order ID.
func (r *OrderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1`

	order, err := r.scanOrder(r.pool.QueryRow(ctx, query, gatewayOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get order by gateway order id: %w", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// List returns recent orders, newest first, with the total count.
func (r *OrderRepository) List(ctx context.Context, page, perPage int) ([]domain.Order, int, error) {
	offset := (page - 1) * perPage

	query := `
		SELECT ` + orderColumns + `, count(*) OVER() AS total_count
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	var total int
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID,
			&o.MerchantID,
			&o.CustomerID,
			&o.AddressID,
			&o.OrderNumber,
			&o.GatewayOrderID,
			&o.GatewayPaymentID,
			&o.Subtotal,
			&o.ShippingFee,
			&o.Total,
			&o.PaymentStatus,
			&o.Status,
			&o.PaidAt,
			&o.CreatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	if orders == nil {
		orders = []domain.Order{}
	}

	return orders, total, nil
}

func (r *OrderRepository) scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.MerchantID,
		&o.CustomerID,
		&o.AddressID,
		&o.OrderNumber,
		&o.GatewayOrderID,
		&o.GatewayPaymentID,
		&o.Subtotal,
		&o.ShippingFee,
		&o.Total,
		&o.PaymentStatus,
		&o.Status,
		&o.PaidAt,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, order *domain.Order) error {
	query := `
		SELECT id, order_id, product_id, variant_id, product_name, variant_name, price, quantity
		FROM order_items
		WHERE order_id = $1`

	rows, err := r.pool.Query(ctx, query, order.ID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariantID,
			&item.ProductName,
			&item.VariantName,
			&item.Price,
			&item.Quantity,
		); err != nil {
			return fmt.Errorf("scan order item row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order item rows: %w", err)
	}

	order.Items = items
	return nil
}
