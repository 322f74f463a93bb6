package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/dropforge/dropengine/internal/domain"
	"github.com/dropforge/dropengine/internal/gateway"
	"github.com/dropforge/dropengine/internal/service"
	apperrors "github.com/dropforge/dropengine/pkg/errors"
	"github.com/dropforge/dropengine/pkg/httputil"
	"github.com/dropforge/dropengine/pkg/validator"
)

// CheckoutHandler handles the reserve, create-order and verify endpoints.
type CheckoutHandler struct {
	inventory  *service.InventoryService
	settlement *service.SettlementService
	gw         gateway.Gateway
	logger     *slog.Logger
	keyID      string
	keySecret  string
	feePercent int64
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(
	inventory *service.InventoryService,
	settlement *service.SettlementService,
	gw gateway.Gateway,
	logger *slog.Logger,
	keyID, keySecret string,
	feePercent int64,
) *CheckoutHandler {
	return &CheckoutHandler{
		inventory:  inventory,
		settlement: settlement,
		gw:         gw,
		logger:     logger,
		keyID:      keyID,
		keySecret:  keySecret,
		feePercent: feePercent,
	}
}

// --- Request DTOs ---

// ReserveRequest is the JSON request body for reserving one variant.
type ReserveRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	SessionID string `json:"session_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// CartItemRequest is a single cart entry.
type CartItemRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// CreateOrderRequest is the JSON request body for creating a gateway order.
type CreateOrderRequest struct {
	SessionID   string            `json:"session_id" validate:"required"`
	Items       []CartItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingFee int64             `json:"shipping_fee" validate:"omitempty,gte=0"`
}

// VerifyRequest is the JSON request body for the synchronous settlement path.
type VerifyRequest struct {
	GatewayOrderID   string            `json:"gateway_order_id" validate:"required"`
	GatewayPaymentID string            `json:"gateway_payment_id" validate:"required"`
	Signature        string            `json:"signature" validate:"required"`
	SessionID        string            `json:"session_id" validate:"required"`
	CustomerName     string            `json:"customer_name" validate:"required"`
	CustomerPhone    string            `json:"customer_phone" validate:"required"`
	CustomerEmail    string            `json:"customer_email" validate:"omitempty,email"`
	AddressLine1     string            `json:"address_line1" validate:"required"`
	AddressCity      string            `json:"address_city" validate:"required"`
	AddressState     string            `json:"address_state" validate:"required"`
	AddressPincode   string            `json:"address_pincode" validate:"required"`
	ShippingFee      int64             `json:"shipping_fee" validate:"omitempty,gte=0"`
	Items            []CartItemRequest `json:"items" validate:"required,min=1,dive"`
}

// ReleaseRequest is the JSON request body for releasing a session's holds.
type ReleaseRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// --- Handlers ---

// Reserve handles POST /api/v1/checkout/reserve
func (h *CheckoutHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	reservation, err := h.inventory.Reserve(r.Context(), req.VariantID, req.SessionID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: map[string]any{
		"reservation_id": reservation.ID,
		"expires_at":     reservation.ExpiresAt,
	}})
}

// CreateOrder handles POST /api/v1/checkout/create-order
// It reserves every cart item and then creates the remote gateway order. A
// failure partway through releases the holds just taken, so an abandoned
// attempt never strands stock until the sweeper.
func (h *CheckoutHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ctx := r.Context()

	for _, item := range req.Items {
		if _, err := h.inventory.Reserve(ctx, item.VariantID, req.SessionID, item.Quantity); err != nil {
			h.releaseAfterFailure(ctx, req.SessionID)
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.VariantID)
	}
	variants, err := h.inventory.GetVariants(ctx, ids)
	if err != nil {
		h.releaseAfterFailure(ctx, req.SessionID)
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	byID := make(map[string]domain.Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}

	var amount int64
	merchantID := ""
	for _, item := range req.Items {
		v, ok := byID[item.VariantID]
		if !ok {
			h.releaseAfterFailure(ctx, req.SessionID)
			httputil.WriteError(w, r, apperrors.NotFound("variant", item.VariantID), h.logger)
			return
		}
		if merchantID == "" {
			merchantID = v.MerchantID
		}
		amount += v.Price * int64(item.Quantity)
	}
	amount += req.ShippingFee

	internalOrderID := uuid.New().String()
	remote, err := h.gw.CreateOrder(ctx, &gateway.CreateOrderInput{
		Amount:   amount,
		Currency: "INR",
		Receipt:  internalOrderID,
		Notes: map[string]string{
			"internal_order_id": internalOrderID,
			"merchant_id":       merchantID,
			"fee_percent":       strconv.FormatInt(h.feePercent, 10),
			"session_id":        req.SessionID,
		},
	})
	if err != nil {
		h.releaseAfterFailure(ctx, req.SessionID)
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: map[string]any{
		"gateway_order_id": remote.ID,
		"amount":           remote.Amount,
		"currency":         remote.Currency,
		"key_id":           h.keyID,
	}})
}

func (h *CheckoutHandler) releaseAfterFailure(ctx context.Context, sessionID string) {
	if _, err := h.inventory.ReleaseSession(ctx, sessionID); err != nil {
		h.logger.ErrorContext(ctx, "failed to release session after checkout failure",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// Verify handles POST /api/v1/checkout/verify
// The idempotency middleware wraps this route; the key it resolved is read
// back from the request context and reused as the settlement claim.
func (h *CheckoutHandler) Verify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if !gateway.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature, h.keySecret) {
		httputil.WriteError(w, r, apperrors.InvalidSignature(), h.logger)
		return
	}

	// Pull the gateway's copy of the order for the audit trail. Settlement
	// does not depend on it.
	if remote, err := h.gw.FetchOrder(r.Context(), req.GatewayOrderID); err != nil {
		h.logger.WarnContext(r.Context(), "could not fetch gateway order for audit",
			slog.String("gateway_order_id", req.GatewayOrderID),
			slog.String("error", err.Error()),
		)
	} else {
		h.logger.InfoContext(r.Context(), "gateway order fetched for audit",
			slog.String("gateway_order_id", remote.ID),
			slog.Any("notes", remote.Notes),
		)
	}

	items := make([]service.SettleItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, service.SettleItem{VariantID: item.VariantID, Quantity: item.Quantity})
	}

	result, err := h.settlement.Settle(r.Context(), service.SettleInput{
		SessionID:        req.SessionID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		CustomerEmail:    req.CustomerEmail,
		AddressLine1:     req.AddressLine1,
		AddressCity:      req.AddressCity,
		AddressState:     req.AddressState,
		AddressPincode:   req.AddressPincode,
		ShippingFee:      req.ShippingFee,
		Items:            items,
	}, IdempotencyKeyFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"order_id":          result.OrderID,
		"order_number":      result.OrderNumber,
		"already_processed": result.AlreadyProcessed,
	}})
}

// Release handles POST /api/v1/checkout/release
// Payment-failure paths call this to give stock back immediately instead of
// waiting for the sweeper.
func (h *CheckoutHandler) Release(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	released, err := h.inventory.ReleaseSession(r.Context(), req.SessionID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"released": released,
	}})
}
