package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRazorpayGateway_CreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key_id", user)
		assert.Equal(t, "key_secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(250000), body["amount"])
		assert.Equal(t, "INR", body["currency"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "order_R123",
			"amount":   250000,
			"currency": "INR",
			"receipt":  body["receipt"],
			"status":   "created",
			"notes":    body["notes"],
		})
	}))
	defer srv.Close()

	g := NewRazorpayGateway(srv.URL, "key_id", "key_secret", newTestLogger())

	order, err := g.CreateOrder(t.Context(), &CreateOrderInput{
		Amount:   250000,
		Currency: "INR",
		Receipt:  "ord-internal-1",
		Notes:    map[string]string{"merchant_id": "m-1", "internal_order_id": "ord-internal-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "order_R123", order.ID)
	assert.Equal(t, int64(250000), order.Amount)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, "created", order.Status)
	assert.Equal(t, "m-1", order.Notes["merchant_id"])
}

func TestRazorpayGateway_CreateOrder_BadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount must be at least 100"}}`))
	}))
	defer srv.Close()

	g := NewRazorpayGateway(srv.URL, "key_id", "key_secret", newTestLogger())

	order, err := g.CreateOrder(t.Context(), &CreateOrderInput{Amount: 1, Currency: "INR"})
	require.Error(t, err)
	assert.Nil(t, order)
	assert.Contains(t, err.Error(), "amount must be at least 100")
}

func TestRazorpayGateway_FetchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/orders/order_R123", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "order_R123",
			"amount":   250000,
			"currency": "INR",
			"status":   "paid",
			"notes":    map[string]string{"fee_percent": "5"},
		})
	}))
	defer srv.Close()

	g := NewRazorpayGateway(srv.URL, "key_id", "key_secret", newTestLogger())

	order, err := g.FetchOrder(t.Context(), "order_R123")
	require.NoError(t, err)
	assert.Equal(t, "paid", order.Status)
	assert.Equal(t, "5", order.Notes["fee_percent"])
}

func TestRazorpayGateway_Name(t *testing.T) {
	g := NewRazorpayGateway("https://api.example.com", "k", "s", newTestLogger())
	assert.Equal(t, "razorpay", g.Name())
}
