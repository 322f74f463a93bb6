package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropforge/dropengine/internal/domain"
	"github.com/dropforge/dropengine/internal/service"
	"github.com/dropforge/dropengine/pkg/httputil"
	"github.com/dropforge/dropengine/pkg/validator"
)

// InventoryHandler handles stock seeding and stock reads.
type InventoryHandler struct {
	service *service.InventoryService
	logger  *slog.Logger
}

// NewInventoryHandler creates a new inventory HTTP handler.
func NewInventoryHandler(svc *service.InventoryService, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{
		service: svc,
		logger:  logger,
	}
}

// InitializeStockRequest is the JSON request body for seeding variant stock.
type InitializeStockRequest struct {
	VariantID      string `json:"variant_id" validate:"required,uuid"`
	ProductID      string `json:"product_id" validate:"required,uuid"`
	MerchantID     string `json:"merchant_id" validate:"required,uuid"`
	ProductName    string `json:"product_name" validate:"required"`
	VariantName    string `json:"variant_name" validate:"required"`
	Price          int64  `json:"price" validate:"gte=0"`
	InventoryCount int    `json:"inventory_count" validate:"gte=0"`
}

// InitializeStock handles POST /api/v1/inventory
func (h *InventoryHandler) InitializeStock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req InitializeStockRequest
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

	variant := &domain.Variant{
		ID:             req.VariantID,
		ProductID:      req.ProductID,
		MerchantID:     req.MerchantID,
		ProductName:    req.ProductName,
		Name:           req.VariantName,
		Price:          req.Price,
		InventoryCount: req.InventoryCount,
	}

	result, err := h.service.InitializeStock(r.Context(), variant)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// GetStock handles GET /api/v1/inventory/{variantId}
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	variantID, ok := httputil.ParseUUID(w, chi.URLParam(r, "variantId"))
	if !ok {
		return
	}

	variant, err := h.service.GetStock(r.Context(), variantID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"variant":         variant,
		"available_count": variant.Available(),
	}})
}
