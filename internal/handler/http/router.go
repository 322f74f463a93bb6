package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropforge/dropengine/internal/gateway"
	"github.com/dropforge/dropengine/internal/idempotency"
	"github.com/dropforge/dropengine/internal/service"
	"github.com/dropforge/dropengine/pkg/health"
	"github.com/dropforge/dropengine/pkg/middleware"
)

// RouterConfig carries the handler wiring the router needs.
type RouterConfig struct {
	Inventory        *service.InventoryService
	Settlement       *service.SettlementService
	Webhooks         *service.WebhookService
	Gateway          gateway.Gateway
	IdempotencyStore idempotency.Store
	Health           *health.Handler
	Logger           *slog.Logger

	GatewayKeyID      string
	GatewayKeySecret  string
	PlatformFee       int64
	IdempotencyTTL    time.Duration
	Environment       string
	CORSOrigins       []string
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all engine routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSOrigins,
		Environment:    cfg.Environment,
	}))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("dropengine"))
	r.Use(middleware.Tracing("dropengine"))
	r.Use(middleware.RequestLogger(cfg.Logger))

	// Health and observability endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, cfg.Logger)

	checkoutHandler := NewCheckoutHandler(cfg.Inventory, cfg.Settlement, cfg.Gateway, cfg.Logger,
		cfg.GatewayKeyID, cfg.GatewayKeySecret, cfg.PlatformFee)
	webhookHandler := NewWebhookHandler(cfg.Webhooks, cfg.Logger)
	inventoryHandler := NewInventoryHandler(cfg.Inventory, cfg.Logger)
	orderHandler := NewOrderHandler(cfg.Settlement, cfg.Logger)

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/reserve", checkoutHandler.Reserve)
		r.Post("/create-order", checkoutHandler.CreateOrder)
		r.Post("/release", checkoutHandler.Release)

		r.Group(func(r chi.Router) {
			r.Use(Idempotency(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Logger))
			r.Post("/verify", checkoutHandler.Verify)
		})
	})

	// Raw-body signature verification: no JSON content-type enforcement here.
	r.Post("/api/v1/webhooks/payment-captured", webhookHandler.PaymentCaptured)

	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", inventoryHandler.InitializeStock)
		r.With(middleware.CacheControl(5)).Get("/{variantId}", inventoryHandler.GetStock)
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Get("/", orderHandler.ListOrders)
		r.Get("/{id}", orderHandler.GetOrder)
	})

	return r
}
