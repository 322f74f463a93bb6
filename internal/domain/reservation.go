package domain

import "time"

// DefaultReservationTTL is how long a checkout reservation holds stock
// before the sweeper returns it to the available pool.
const DefaultReservationTTL = 10 * time.Minute

// Reservation is a temporary hold of variant stock for a checkout session.
// It is deleted either by settlement (the stock is sold) or by the sweeper
// (the hold expired).
type Reservation struct {
	ID        string    `json:"id"`
	VariantID string    `json:"variant_id"`
	SessionID string    `json:"session_id"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the reservation has passed its hold window.
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
