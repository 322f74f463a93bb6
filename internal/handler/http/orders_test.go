package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dropforge/dropengine/internal/domain"
	"github.com/dropforge/dropengine/internal/service"
	"github.com/dropforge/dropengine/pkg/database"
	apperrors "github.com/dropforge/dropengine/pkg/errors"
	"github.com/dropforge/dropengine/pkg/httputil"
)

type orderListResponse = httputil.PaginatedResponse[domain.Order]

func newOrdersRouter(t *testing.T, orderRepo *mockOrderRepository) *chi.Mux {
	t.Helper()

	pool, err := database.NewMockPool()
	require.NoError(t, err)

	svc := service.NewSettlementService(orderRepo, pool, testProducer(), testLogger(), testFee)
	handler := NewOrderHandler(svc, testLogger())

	r := chi.NewRouter()
	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Get("/", handler.ListOrders)
		r.Get("/{id}", handler.GetOrder)
	})
	return r
}

func sampleOrder() *domain.Order {
	now := time.Now().UTC()
	return &domain.Order{
		ID:             uuid.New().String(),
		MerchantID:     uuid.New().String(),
		CustomerID:     uuid.New().String(),
		OrderNumber:    domain.NewOrderNumber(now),
		GatewayOrderID: "order_gw_1",
		Subtotal:       99800,
		ShippingFee:    5000,
		Total:          104800,
		PaymentStatus:  domain.PaymentStatusPaid,
		Status:         domain.OrderStatusPaid,
		CreatedAt:      now,
	}
}

func TestGetOrder_Success(t *testing.T) {
	orderRepo := new(mockOrderRepository)
	router := newOrdersRouter(t, orderRepo)

	order := sampleOrder()
	orderRepo.On("GetByID", mock.Anything, order.ID).Return(order, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResp(t, rec)
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Data)
	orderRepo.AssertExpectations(t)
}

func TestGetOrder_InvalidUUID(t *testing.T) {
	router := newOrdersRouter(t, new(mockOrderRepository))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResp(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	orderRepo := new(mockOrderRepository)
	router := newOrdersRouter(t, orderRepo)

	missingID := uuid.New().String()
	orderRepo.On("GetByID", mock.Anything, missingID).Return(nil, apperrors.NotFound("order", missingID))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+missingID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResp(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	orderRepo.AssertExpectations(t)
}

func TestListOrders_Success(t *testing.T) {
	orderRepo := new(mockOrderRepository)
	router := newOrdersRouter(t, orderRepo)

	orders := []domain.Order{*sampleOrder(), *sampleOrder()}
	orderRepo.On("List", mock.Anything, 1, 20).Return(orders, 2, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp orderListResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, 2, resp.TotalCount)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.PerPage)
	orderRepo.AssertExpectations(t)
}

func TestListOrders_WithPagination(t *testing.T) {
	orderRepo := new(mockOrderRepository)
	router := newOrdersRouter(t, orderRepo)

	orderRepo.On("List", mock.Anything, 3, 10).Return([]domain.Order{*sampleOrder()}, 21, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?page=3&per_page=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp orderListResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, 21, resp.TotalCount)
	assert.Equal(t, 3, resp.Page)
	assert.Equal(t, 10, resp.PerPage)
	assert.Equal(t, 3, resp.TotalPages)
	orderRepo.AssertExpectations(t)
}

func TestListOrders_RepositoryError(t *testing.T) {
	orderRepo := new(mockOrderRepository)
	router := newOrdersRouter(t, orderRepo)

	orderRepo.On("List", mock.Anything, 1, 20).Return([]domain.Order{}, 0, fmt.Errorf("db connection lost"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeResp(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}
