package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dropforge/dropengine/internal/domain"
	"github.com/dropforge/dropengine/internal/service"
	"github.com/dropforge/dropengine/pkg/database"
)

const testWebhookSecret = "whsec_handler_test"

// noopReleaser satisfies the webhook service's session release dependency.
type noopReleaser struct{}

func (noopReleaser) ReleaseSession(context.Context, string) (int, error) { return 0, nil }

type webhookFixture struct {
	router    http.Handler
	pool      pgxmock.PgxPoolIface
	eventRepo *mockWebhookEventRepository
	orderRepo *mockOrderRepository
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	pool, err := database.NewMockPool()
	require.NoError(t, err)

	eventRepo := new(mockWebhookEventRepository)
	orderRepo := new(mockOrderRepository)

	settlement := service.NewSettlementService(orderRepo, pool, testProducer(), testLogger(), testFee)
	webhooks := service.NewWebhookService(eventRepo, pool, settlement, noopReleaser{}, testLogger(), testWebhookSecret)
	handler := NewWebhookHandler(webhooks, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/webhooks/payment-captured", handler.PaymentCaptured)

	return &webhookFixture{
		router:    mux,
		pool:      pool,
		eventRepo: eventRepo,
		orderRepo: orderRepo,
	}
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func capturedEventBody(eventID, gatewayOrderID, gatewayPaymentID string) []byte {
	return fmt.Appendf(nil,
		`{"id":%q,"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q}}}}`,
		eventID, gatewayPaymentID, gatewayOrderID,
	)
}

func postWebhook(t *testing.T, f *webhookFixture, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment-captured", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_MissingBody(t *testing.T) {
	f := newWebhookFixture(t)

	rec := postWebhook(t, f, nil, "sig")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResp(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

func TestWebhook_MissingSignatureHeader(t *testing.T) {
	f := newWebhookFixture(t)

	rec := postWebhook(t, f, capturedEventBody("evt_1", "order_1", "pay_1"), "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResp(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_SIGNATURE", resp.Error.Code)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	f := newWebhookFixture(t)

	rec := postWebhook(t, f, capturedEventBody("evt_1", "order_1", "pay_1"), "deadbeef")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResp(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_SIGNATURE", resp.Error.Code)
}

func TestWebhook_DuplicateEvent(t *testing.T) {
	f := newWebhookFixture(t)

	body := capturedEventBody("evt_dup", "order_1", "pay_1")
	f.eventRepo.On("IsProcessed", mock.Anything, "evt_dup").Return(true, nil)

	rec := postWebhook(t, f, body, signBody(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResp(t, rec)
	assert.Nil(t, resp.Error)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "evt_dup", data["event_id"])
	assert.Equal(t, true, data["duplicate"])
	f.eventRepo.AssertExpectations(t)
}

func TestWebhook_PaymentCaptured_Success(t *testing.T) {
	f := newWebhookFixture(t)

	body := capturedEventBody("evt_ok", "order_1", "pay_1")
	f.eventRepo.On("IsProcessed", mock.Anything, "evt_ok").Return(false, nil)

	f.pool.ExpectBeginTx(txOpts)
	f.pool.ExpectQuery("SELECT id, payment_status FROM orders").
		WithArgs("order_1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "payment_status"}).AddRow("ord-1", "pending"))
	f.pool.ExpectExec("UPDATE orders").
		WithArgs(domain.PaymentStatusPaid, domain.OrderStatusPaid, "pay_1", "ord-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectExec("INSERT INTO webhook_events").
		WithArgs("evt_ok", "payment.captured", body).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	f.pool.ExpectCommit()

	rec := postWebhook(t, f, body, signBody(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResp(t, rec)
	assert.Nil(t, resp.Error)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "evt_ok", data["event_id"])
	assert.Equal(t, false, data["duplicate"])
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestWebhook_StorageFailureIsRetryable(t *testing.T) {
	f := newWebhookFixture(t)

	body := capturedEventBody("evt_err", "order_1", "pay_1")
	f.eventRepo.On("IsProcessed", mock.Anything, "evt_err").Return(false, fmt.Errorf("connection refused"))

	rec := postWebhook(t, f, body, signBody(body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeResp(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}
