package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dropforge/dropengine/internal/domain"
	"github.com/dropforge/dropengine/internal/event"
	"github.com/dropforge/dropengine/internal/repository"
	"github.com/dropforge/dropengine/pkg/database"
	apperrors "github.com/dropforge/dropengine/pkg/errors"
)

const uniqueViolationCode = "23505"

// SettleItem is one cart entry to settle. Name and price are snapshotted from
// the variant record inside the settlement transaction.
type SettleItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// SettleInput carries everything needed to settle a verified payment.
type SettleInput struct {
	SessionID        string
	GatewayOrderID   string
	GatewayPaymentID string
	CustomerName     string
	CustomerPhone    string
	CustomerEmail    string
	AddressLine1     string
	AddressCity      string
	AddressState     string
	AddressPincode   string
	ShippingFee      int64
	Items            []SettleItem
}

// SettleResult is the outcome of a settlement attempt. AlreadyProcessed means
// the idempotency key had a completed record and Response is the cached body.
type SettleResult struct {
	OrderID          string `json:"order_id"`
	OrderNumber      string `json:"order_number"`
	AlreadyProcessed bool   `json:"-"`
	Response         []byte `json:"-"`
}

// MarkPaidOutcome classifies the result of the narrow mark-as-paid path.
type MarkPaidOutcome int

const (
	MarkPaidUpdated MarkPaidOutcome = iota
	MarkPaidAlreadyPaid
	MarkPaidOrderNotFound
)

// SettlementService converts verified payments into durable orders exactly
// once. All writes happen in a single transaction keyed by the idempotency
// record, so retries and webhook races redo nothing.
type SettlementService struct {
	orderRepo  repository.OrderRepository
	pool       database.DBTX
	producer   *event.Producer
	logger     *slog.Logger
	feePercent int64
}

// NewSettlementService creates a new settlement service.
func NewSettlementService(
	orderRepo repository.OrderRepository,
	pool database.DBTX,
	producer *event.Producer,
	logger *slog.Logger,
	feePercent int64,
) *SettlementService {
	return &SettlementService{
		orderRepo:  orderRepo,
		pool:       pool,
		producer:   producer,
		logger:     logger,
		feePercent: feePercent,
	}
}

// GetOrder retrieves a settled order with its line items.
func (s *SettlementService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("order", orderID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// HasOrderForGatewayID reports whether a settled order exists for the
// gateway's order identifier.
func (s *SettlementService) HasOrderForGatewayID(ctx context.Context, gatewayOrderID string) (bool, error) {
	_, err := s.orderRepo.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("look up order by gateway order id: %w", err)
	}
	return true, nil
}

// ListOrders returns recent orders, newest first.
func (s *SettlementService) ListOrders(ctx context.Context, page, perPage int) ([]domain.Order, int, error) {
	orders, total, err := s.orderRepo.List(ctx, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// Settle runs the full order settlement for a verified payment under the
// given idempotency key. A completed record for the key short-circuits with
// the cached response; a processing record means a concurrent attempt owns
// the key and the caller gets a conflict.
func (s *SettlementService) Settle(ctx context.Context, input SettleInput, idempotencyKey string) (*SettleResult, error) {
	if idempotencyKey == "" {
		return nil, apperrors.InvalidInput("idempotency key is required")
	}
	if input.SessionID == "" {
		return nil, apperrors.InvalidInput("session_id is required")
	}
	if input.GatewayOrderID == "" {
		return nil, apperrors.InvalidInput("gateway_order_id is required")
	}
	if input.CustomerName == "" || input.CustomerPhone == "" {
		return nil, apperrors.InvalidInput("customer name and phone are required")
	}
	if len(input.Items) == 0 {
		return nil, apperrors.InvalidInput("items list cannot be empty")
	}
	for _, item := range input.Items {
		if item.VariantID == "" || item.Quantity < 1 {
			return nil, apperrors.InvalidInput("each item needs a variant_id and a positive quantity")
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin settlement transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Step 1: claim the idempotency key. The unique constraint is the
	// arbiter when two attempts race on the same key.
	cached, err := s.claimIdempotencyKey(ctx, tx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit idempotent replay: %w", err)
		}
		var result SettleResult
		if err := json.Unmarshal(cached, &result); err != nil {
			s.logger.WarnContext(ctx, "cached settlement response is not decodable",
				slog.String("idempotency_key", idempotencyKey),
			)
		}
		result.AlreadyProcessed = true
		result.Response = cached
		return &result, nil
	}

	// Snapshot variant data for line items and merchant attribution.
	variants, err := s.loadVariants(ctx, tx, input.Items)
	if err != nil {
		return nil, err
	}

	merchantID := variants[input.Items[0].VariantID].MerchantID
	for _, item := range input.Items[1:] {
		if v := variants[item.VariantID]; v.MerchantID != merchantID {
			s.logger.WarnContext(ctx, "cart spans multiple merchants, attributing order to first item's merchant",
				slog.String("merchant_id", merchantID),
				slog.String("other_merchant_id", v.MerchantID),
				slog.String("gateway_order_id", input.GatewayOrderID),
			)
		}
	}

	// Step 2: customer upsert keyed by (merchant, phone).
	customerID, err := s.upsertCustomer(ctx, tx, merchantID, input)
	if err != nil {
		return nil, err
	}

	// Step 3: append a new address for this order.
	var addressID string
	addressQuery := `
		INSERT INTO addresses (customer_id, line1, city, state, pincode)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := tx.QueryRow(ctx, addressQuery,
		customerID, input.AddressLine1, input.AddressCity, input.AddressState, input.AddressPincode,
	).Scan(&addressID); err != nil {
		return nil, fmt.Errorf("insert address: %w", err)
	}

	// Step 4: order and snapshot line items.
	var subtotal int64
	for _, item := range input.Items {
		subtotal += variants[item.VariantID].Price * int64(item.Quantity)
	}
	total := subtotal + input.ShippingFee

	now := time.Now().UTC()
	orderID := uuid.New().String()
	orderNumber := domain.NewOrderNumber(now)

	orderQuery := `
		INSERT INTO orders (id, merchant_id, customer_id, address_id, order_number, gateway_order_id, gateway_payment_id, subtotal, shipping_fee, total, payment_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := tx.Exec(ctx, orderQuery,
		orderID, merchantID, customerID, addressID, orderNumber,
		input.GatewayOrderID, input.GatewayPaymentID,
		subtotal, input.ShippingFee, total,
		domain.PaymentStatusPaid, domain.OrderStatusPaid,
	); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, variant_id, product_name, variant_name, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, item := range input.Items {
		v := variants[item.VariantID]
		if _, err := tx.Exec(ctx, itemQuery,
			orderID, v.ProductID, v.ID, v.ProductName, v.Name, v.Price, item.Quantity,
		); err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}

	// Step 5: financial ledger entry with the platform fee split.
	fee, net := domain.ComputeFeeSplit(total, s.feePercent)
	txnQuery := `
		INSERT INTO transactions (merchant_id, gateway_order_id, gateway_payment_id, gross_amount, platform_fee, net_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, txnQuery,
		merchantID, input.GatewayOrderID, input.GatewayPaymentID,
		total, fee, net, domain.TransactionStatusCaptured,
	); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	// Step 6: finalize stock. The sale is permanent, the soft hold is
	// consumed, and the reservation row goes away so the sweeper cannot
	// release stock that was just sold.
	finalizeQuery := `
		UPDATE variants
		SET inventory_count = inventory_count - $1,
		    reserved_count = GREATEST(reserved_count - $1, 0),
		    updated_at = NOW()
		WHERE id = $2`
	reservationQuery := `DELETE FROM reservations WHERE session_id = $1 AND variant_id = $2`
	for _, item := range input.Items {
		if _, err := tx.Exec(ctx, finalizeQuery, item.Quantity, item.VariantID); err != nil {
			return nil, fmt.Errorf("finalize variant stock: %w", err)
		}
		if _, err := tx.Exec(ctx, reservationQuery, input.SessionID, item.VariantID); err != nil {
			return nil, fmt.Errorf("delete settled reservation: %w", err)
		}
	}

	// Step 7: lifetime customer stats.
	statsQuery := `
		UPDATE customers
		SET total_orders = total_orders + 1,
		    total_spent = total_spent + $1,
		    last_order_at = NOW()
		WHERE id = $2`
	if _, err := tx.Exec(ctx, statsQuery, total, customerID); err != nil {
		return nil, fmt.Errorf("update customer stats: %w", err)
	}

	// Step 8: complete the idempotency record with the response payload.
	result := &SettleResult{OrderID: orderID, OrderNumber: orderNumber}
	response, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal settlement response: %w", err)
	}
	completeQuery := `UPDATE idempotency_keys SET status = $1, response_body = $2 WHERE key = $3`
	if _, err := tx.Exec(ctx, completeQuery, domain.IdempotencyStatusCompleted, response, idempotencyKey); err != nil {
		return nil, fmt.Errorf("complete idempotency record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settlement transaction: %w", err)
	}
	result.Response = response

	settled := &domain.Order{
		ID:             orderID,
		MerchantID:     merchantID,
		OrderNumber:    orderNumber,
		GatewayOrderID: input.GatewayOrderID,
		Total:          total,
	}
	settled.Items = make([]domain.OrderItem, len(input.Items))
	txn := &domain.Transaction{PlatformFee: fee, NetAmount: net}
	if err := s.producer.PublishOrderSettled(ctx, settled, txn); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.settled event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order settled",
		slog.String("order_id", orderID),
		slog.String("order_number", orderNumber),
		slog.String("merchant_id", merchantID),
		slog.Int64("total", total),
		slog.Int64("platform_fee", fee),
		slog.Int("item_count", len(input.Items)),
	)

	return result, nil
}

// claimIdempotencyKey returns the cached response when the key is already
// completed, a Conflict error when another attempt holds it, or nil when
// this transaction now owns a fresh processing claim.
func (s *SettlementService) claimIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) ([]byte, error) {
	var status string
	var response []byte
	selectQuery := `SELECT status, response_body FROM idempotency_keys WHERE key = $1`
	err := tx.QueryRow(ctx, selectQuery, key).Scan(&status, &response)
	switch {
	case err == nil:
		if status == domain.IdempotencyStatusCompleted {
			return response, nil
		}
		return nil, apperrors.Conflict("settlement already in progress for this key")
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to claim
	default:
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}

	insertQuery := `INSERT INTO idempotency_keys (key, status) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, insertQuery, key, domain.IdempotencyStatusProcessing); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, apperrors.Conflict("settlement already in progress for this key")
		}
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}

	return nil, nil
}

func (s *SettlementService) loadVariants(ctx context.Context, tx pgx.Tx, items []SettleItem) (map[string]domain.Variant, error) {
	variants := make(map[string]domain.Variant, len(items))
	query := `
		SELECT id, product_id, merchant_id, product_name, name, price
		FROM variants
		WHERE id = $1`
	for _, item := range items {
		if _, ok := variants[item.VariantID]; ok {
			continue
		}
		var v domain.Variant
		err := tx.QueryRow(ctx, query, item.VariantID).Scan(
			&v.ID, &v.ProductID, &v.MerchantID, &v.ProductName, &v.Name, &v.Price,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.NotFound("variant", item.VariantID)
			}
			return nil, fmt.Errorf("load variant for settlement: %w", err)
		}
		variants[v.ID] = v
	}
	return variants, nil
}

func (s *SettlementService) upsertCustomer(ctx context.Context, tx pgx.Tx, merchantID string, input SettleInput) (string, error) {
	query := `
		INSERT INTO customers (merchant_id, name, phone, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (merchant_id, phone) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email
		RETURNING id`

	var customerID string
	if err := tx.QueryRow(ctx, query,
		merchantID, input.CustomerName, input.CustomerPhone, input.CustomerEmail,
	).Scan(&customerID); err != nil {
		return "", fmt.Errorf("upsert customer: %w", err)
	}
	return customerID, nil
}

// MarkOrderAsPaid is the narrow settlement path used by webhook confirmation.
// It is idempotent: an already-paid order and an unknown gateway order are
// both distinguishable successful outcomes, not failures.
func (s *SettlementService) MarkOrderAsPaid(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (MarkPaidOutcome, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin mark-paid transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	outcome, orderID, err := s.MarkOrderAsPaidInTx(ctx, tx, gatewayOrderID, gatewayPaymentID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit mark-paid transaction: %w", err)
	}

	if outcome == MarkPaidUpdated {
		if err := s.producer.PublishOrderPaid(ctx, orderID, gatewayOrderID, gatewayPaymentID); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish order.paid event",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}

	return outcome, nil
}

// MarkOrderAsPaidInTx runs the mark-as-paid path inside a caller-owned
// transaction, so the webhook processor can commit it together with the
// event dedup row.
func (s *SettlementService) MarkOrderAsPaidInTx(ctx context.Context, tx pgx.Tx, gatewayOrderID, gatewayPaymentID string) (MarkPaidOutcome, string, error) {
	var orderID, paymentStatus string
	lockQuery := `SELECT id, payment_status FROM orders WHERE gateway_order_id = $1 FOR UPDATE`
	err := tx.QueryRow(ctx, lockQuery, gatewayOrderID).Scan(&orderID, &paymentStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.WarnContext(ctx, "mark-paid for unknown gateway order",
				slog.String("gateway_order_id", gatewayOrderID),
			)
			return MarkPaidOrderNotFound, "", nil
		}
		return 0, "", fmt.Errorf("lock order for mark-paid: %w", err)
	}

	if paymentStatus == domain.PaymentStatusPaid {
		return MarkPaidAlreadyPaid, orderID, nil
	}

	updateQuery := `
		UPDATE orders
		SET payment_status = $1, status = $2, gateway_payment_id = $3, paid_at = NOW()
		WHERE id = $4`
	if _, err := tx.Exec(ctx, updateQuery,
		domain.PaymentStatusPaid, domain.OrderStatusPaid, gatewayPaymentID, orderID,
	); err != nil {
		return 0, "", fmt.Errorf("mark order as paid: %w", err)
	}

	s.logger.InfoContext(ctx, "order marked as paid",
		slog.String("order_id", orderID),
		slog.String("gateway_payment_id", gatewayPaymentID),
	)

	return MarkPaidUpdated, orderID, nil
}

// PurgeLedgers deletes completed idempotency records and processed webhook
// events older than the retention window. Orders and transactions are kept
// forever; only the replay caches age out.
func (s *SettlementService) PurgeLedgers(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	keysQuery := `DELETE FROM idempotency_keys WHERE status = $1 AND created_at < $2`
	keysCt, err := s.pool.Exec(ctx, keysQuery, domain.IdempotencyStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}

	eventsQuery := `DELETE FROM webhook_events WHERE processed_at < $1`
	eventsCt, err := s.pool.Exec(ctx, eventsQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge webhook events: %w", err)
	}

	return keysCt.RowsAffected() + eventsCt.RowsAffected(), nil
}
