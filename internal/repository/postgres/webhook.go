package postgres

import (
	"context"
	"fmt"

	"github.com/dropforge/dropengine/pkg/database"
)

// WebhookEventRepository implements webhook dedup reads using PostgreSQL.
// Event rows are inserted inside the same transaction that applies the
// event's side effects, so a recorded event is always fully applied.
type WebhookEventRepository struct {
	pool database.DBTX
}

// NewWebhookEventRepository creates a new PostgreSQL-backed webhook event repository.
func NewWebhookEventRepository(pool database.DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{pool: pool}
}

// IsProcessed reports whether the gateway event ID was already handled.
func (r *WebhookEventRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check webhook event processed: %w", err)
	}

	return exists, nil
}
