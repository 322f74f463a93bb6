package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dropforge/dropengine/internal/domain"
	"github.com/dropforge/dropengine/internal/gateway"
	"github.com/dropforge/dropengine/internal/repository"
	"github.com/dropforge/dropengine/pkg/database"
	apperrors "github.com/dropforge/dropengine/pkg/errors"
)

// WebhookResult reports what processing an event did. Duplicate means the
// event id was seen before and nothing was re-applied.
type WebhookResult struct {
	EventID   string
	EventType string
	Duplicate bool
	Routed    bool
	Outcome   MarkPaidOutcome
}

// webhookEnvelope is the gateway's event envelope. Only the fields the
// engine routes on are decoded; the raw payload is stored verbatim.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string            `json:"id"`
				OrderID string            `json:"order_id"`
				Notes   map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// sessionReleaser releases every reservation held by a checkout session.
type sessionReleaser interface {
	ReleaseSession(ctx context.Context, sessionID string) (int, error)
}

// WebhookService drives inbound payment events through verification,
// deduplication and routing, exactly once per event id.
type WebhookService struct {
	webhookRepo repository.WebhookEventRepository
	pool        database.DBTX
	settlement  *SettlementService
	releaser    sessionReleaser
	logger      *slog.Logger
	secret      string
}

// NewWebhookService creates a new webhook processor.
func NewWebhookService(
	webhookRepo repository.WebhookEventRepository,
	pool database.DBTX,
	settlement *SettlementService,
	releaser sessionReleaser,
	logger *slog.Logger,
	secret string,
) *WebhookService {
	return &WebhookService{
		webhookRepo: webhookRepo,
		pool:        pool,
		settlement:  settlement,
		releaser:    releaser,
		logger:      logger,
		secret:      secret,
	}
}

// Process verifies, deduplicates and routes one raw webhook delivery.
// Non-retryable rejections come back as AppError values; anything else is an
// infrastructure failure the gateway should redeliver (see Retryable).
func (s *WebhookService) Process(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	if s.secret == "" {
		s.logger.ErrorContext(ctx, "webhook secret is not configured, rejecting event")
		return nil, apperrors.InvalidSignature()
	}
	if signature == "" {
		return nil, apperrors.InvalidInput("missing webhook signature")
	}
	if !gateway.VerifyWebhookSignature(rawBody, signature, s.secret) {
		s.logger.WarnContext(ctx, "webhook signature verification failed")
		return nil, apperrors.InvalidSignature()
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, apperrors.InvalidInput("malformed webhook payload")
	}
	if envelope.ID == "" || envelope.Event == "" {
		return nil, apperrors.InvalidInput("webhook payload missing event id or type")
	}

	result := &WebhookResult{EventID: envelope.ID, EventType: envelope.Event}

	processed, err := s.webhookRepo.IsProcessed(ctx, envelope.ID)
	if err != nil {
		return nil, fmt.Errorf("deduplicate webhook event: %w", err)
	}
	if processed {
		s.logger.InfoContext(ctx, "webhook event already processed",
			slog.String("event_id", envelope.ID),
			slog.String("event_type", envelope.Event),
		)
		result.Duplicate = true
		return result, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin webhook transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Routing and the dedup row commit together: a crash in between can
	// never leave an applied-but-unrecorded event.
	switch envelope.Event {
	case domain.WebhookEventPaymentCaptured:
		paymentID := envelope.Payload.Payment.Entity.ID
		orderID := envelope.Payload.Payment.Entity.OrderID
		if paymentID == "" || orderID == "" {
			return nil, apperrors.InvalidInput("payment.captured event missing payment or order id")
		}

		outcome, _, err := s.settlement.MarkOrderAsPaidInTx(ctx, tx, orderID, paymentID)
		if err != nil {
			return nil, fmt.Errorf("route payment.captured event: %w", err)
		}
		result.Routed = true
		result.Outcome = outcome
	case domain.WebhookEventPaymentFailed:
		if err := s.routePaymentFailed(ctx, &envelope, result); err != nil {
			return nil, err
		}
	default:
		s.logger.InfoContext(ctx, "storing unhandled webhook event type",
			slog.String("event_id", envelope.ID),
			slog.String("event_type", envelope.Event),
		)
	}

	insertQuery := `INSERT INTO webhook_events (event_id, event_type, payload) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insertQuery, envelope.ID, envelope.Event, rawBody); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			// A concurrent delivery won the insert race.
			result.Duplicate = true
			return result, nil
		}
		return nil, fmt.Errorf("store webhook event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit webhook transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "webhook event processed",
		slog.String("event_id", envelope.ID),
		slog.String("event_type", envelope.Event),
		slog.Bool("routed", result.Routed),
	)

	return result, nil
}

// routePaymentFailed gives a failed checkout's stock back right away instead
// of leaving the holds to the reservation sweeper. The session to release
// travels in the gateway order notes set at create-order time. A settled
// order for the same gateway order means a capture won the race and the
// holds are already consumed.
func (s *WebhookService) routePaymentFailed(ctx context.Context, envelope *webhookEnvelope, result *WebhookResult) error {
	orderID := envelope.Payload.Payment.Entity.OrderID
	if orderID == "" {
		return apperrors.InvalidInput("payment.failed event missing order id")
	}

	sessionID := envelope.Payload.Payment.Entity.Notes["session_id"]
	if sessionID == "" {
		s.logger.WarnContext(ctx, "payment.failed event carries no session to release",
			slog.String("gateway_order_id", orderID),
		)
		return nil
	}

	settled, err := s.settlement.HasOrderForGatewayID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("route payment.failed event: %w", err)
	}
	if settled {
		s.logger.InfoContext(ctx, "ignoring payment.failed for settled order",
			slog.String("gateway_order_id", orderID),
		)
		return nil
	}

	released, err := s.releaser.ReleaseSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("release session for failed payment: %w", err)
	}
	result.Routed = true

	s.logger.InfoContext(ctx, "released session holds after failed payment",
		slog.String("session_id", sessionID),
		slog.String("gateway_order_id", orderID),
		slog.Int("released", released),
	)

	return nil
}

// Retryable reports whether a Process error should make the gateway
// redeliver. Business rejections (signature, payload, validation) are final;
// storage and transaction failures are transient.
func Retryable(err error) bool {
	var appErr *apperrors.AppError
	return !errors.As(err, &appErr)
}
