package http

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/dropforge/dropengine/internal/service"
	"github.com/dropforge/dropengine/pkg/httputil"
)

// SignatureHeader carries the gateway's HMAC of the raw request body.
const SignatureHeader = "X-Razorpay-Signature"

// WebhookHandler handles inbound payment gateway webhooks.
type WebhookHandler struct {
	webhooks *service.WebhookService
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook HTTP handler.
func NewWebhookHandler(webhooks *service.WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		logger:   logger,
	}
}

// PaymentCaptured handles POST /api/v1/webhooks/payment-captured
// Status codes are the redelivery contract with the gateway: 200 stops
// redelivery (success, duplicate, or any non-retryable rejection already
// recorded), 400 rejects malformed or unsigned deliveries, 500 asks the
// gateway to try again.
func (h *WebhookHandler) PaymentCaptured(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "missing request body"},
		})
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_SIGNATURE", Message: "missing " + SignatureHeader + " header"},
		})
		return
	}

	result, err := h.webhooks.Process(r.Context(), body, signature)
	if err != nil {
		if service.Retryable(err) {
			h.logger.ErrorContext(r.Context(), "webhook processing failed, requesting redelivery",
				slog.String("error", err.Error()),
			)
			httputil.WriteJSON(w, http.StatusInternalServerError, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INTERNAL_ERROR", Message: "temporary failure, please retry"},
			})
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"event_id":  result.EventID,
		"duplicate": result.Duplicate,
	}})
}
