package domain

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Payment status values for an order.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// Order lifecycle status values.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Transaction status values.
const (
	TransactionStatusCaptured = "captured"
	TransactionStatusRefunded = "refunded"
)

// Customer is a buyer scoped to a merchant. The (MerchantID, Phone) pair is
// unique; repeat purchases with the same phone update the same customer.
// TotalSpent is in minor currency units.
type Customer struct {
	ID          string     `json:"id"`
	MerchantID  string     `json:"merchant_id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	Email       string     `json:"email,omitempty"`
	TotalOrders int        `json:"total_orders"`
	TotalSpent  int64      `json:"total_spent"`
	LastOrderAt *time.Time `json:"last_order_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Address is a shipping address captured at settlement time.
type Address struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Line1      string    `json:"line1"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	Pincode    string    `json:"pincode"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
}

// Order is a settled purchase. Monetary fields are in minor currency units.
type Order struct {
	ID               string      `json:"id"`
	MerchantID       string      `json:"merchant_id"`
	CustomerID       string      `json:"customer_id"`
	AddressID        string      `json:"address_id"`
	OrderNumber      string      `json:"order_number"`
	GatewayOrderID   string      `json:"gateway_order_id"`
	GatewayPaymentID string      `json:"gateway_payment_id,omitempty"`
	Subtotal         int64       `json:"subtotal"`
	ShippingFee      int64       `json:"shipping_fee"`
	Total            int64       `json:"total"`
	PaymentStatus    string      `json:"payment_status"`
	Status           string      `json:"status"`
	PaidAt           *time.Time  `json:"paid_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	Items            []OrderItem `json:"items,omitempty"`
}

// OrderItem is a line item with the product name and price snapshotted at
// settlement time, so later catalog edits never rewrite order history.
type OrderItem struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id"`
	ProductName string `json:"product_name"`
	VariantName string `json:"variant_name"`
	Price       int64  `json:"price"`
	Quantity    int    `json:"quantity"`
}

// Transaction records the platform fee split for a settled payment.
// NetAmount is what the merchant is owed after the platform fee.
type Transaction struct {
	ID               string    `json:"id"`
	MerchantID       string    `json:"merchant_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	GrossAmount      int64     `json:"gross_amount"`
	PlatformFee      int64     `json:"platform_fee"`
	NetAmount        int64     `json:"net_amount"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// ComputeFeeSplit splits a gross amount (minor units) into platform fee and
// merchant net using an integer percentage. Integer division truncates the
// fee, so the merchant keeps the remainder paise.
func ComputeFeeSplit(gross int64, feePercent int64) (fee, net int64) {
	fee = gross * feePercent / 100
	return fee, gross - fee
}

// NewOrderNumber generates a human-readable order number, e.g.
// "ORD-1756500000000-482". Uniqueness is enforced by the database.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%d", now.UnixMilli(), rand.IntN(1000)) // #nosec G404 -- display identifier, uniqueness comes from the DB constraint
}
