package domain

import "time"

// Webhook event types routed by the processor.
const (
	WebhookEventPaymentCaptured = "payment.captured"
	WebhookEventPaymentFailed   = "payment.failed"
)

// WebhookEvent records a processed gateway webhook delivery. The gateway's
// event ID is the primary key, so redelivered events are detected and skipped.
type WebhookEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Payload     []byte    `json:"payload"`
	ProcessedAt time.Time `json:"processed_at"`
}
