package domain

import "time"

// Idempotency record status values.
const (
	IdempotencyStatusProcessing = "processing"
	IdempotencyStatusCompleted  = "completed"
)

// IdempotencyRecord is the durable settlement dedup entry. The row is claimed
// (status processing) inside the settlement transaction before any writes and
// flipped to completed with the final response in the same transaction, so a
// replayed key returns the stored response instead of settling twice.
type IdempotencyRecord struct {
	Key          string    `json:"key"`
	Status       string    `json:"status"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
