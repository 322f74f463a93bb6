package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropforge/dropengine/internal/domain"
	"github.com/dropforge/dropengine/pkg/database"
	apperrors "github.com/dropforge/dropengine/pkg/errors"
)

// InventoryRepository implements VariantRepository and ReservationRepository
// using PostgreSQL.
type InventoryRepository struct {
	pool database.DBTX
}

// NewInventoryRepository creates a new PostgreSQL-backed inventory repository.
func NewInventoryRepository(pool database.DBTX) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// ---------------------------------------------------------------------------
// VariantRepository implementation
// ---------------------------------------------------------------------------

// GetByID retrieves a variant by its unique identifier.
func (r *InventoryRepository) GetByID(ctx context.Context, id string) (*domain.Variant, error) {
	query := `
		SELECT id, product_id, merchant_id, product_name, name, price, inventory_count, reserved_count, created_at, updated_at
		FROM variants
		WHERE id = $1`

	var v domain.Variant
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&v.ID,
		&v.ProductID,
		&v.MerchantID,
		&v.ProductName,
		&v.Name,
		&v.Price,
		&v.InventoryCount,
		&v.ReservedCount,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get variant by id: %w", err)
	}

	return &v, nil
}

// Upsert creates a variant stock record or refreshes its catalog fields and
// inventory count. The reserved count is never overwritten: active holds
// survive a catalog re-seed.
func (r *InventoryRepository) Upsert(ctx context.Context, variant *domain.Variant) (*domain.Variant, error) {
	query := `
		INSERT INTO variants (id, product_id, merchant_id, product_name, name, price, inventory_count, reserved_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			inventory_count = EXCLUDED.inventory_count,
			updated_at = NOW()
		RETURNING id, product_id, merchant_id, product_name, name, price, inventory_count, reserved_count, created_at, updated_at`

	var result domain.Variant
	err := r.pool.QueryRow(ctx, query,
		variant.ID,
		variant.ProductID,
		variant.MerchantID,
		variant.ProductName,
		variant.Name,
		variant.Price,
		variant.InventoryCount,
	).Scan(
		&result.ID,
		&result.ProductID,
		&result.MerchantID,
		&result.ProductName,
		&result.Name,
		&result.Price,
		&result.InventoryCount,
		&result.ReservedCount,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert variant: %w", err)
	}

	return &result, nil
}

// GetMany retrieves the variants for the given IDs in one query.
func (r *InventoryRepository) GetMany(ctx context.Context, ids []string) ([]domain.Variant, error) {
	if len(ids) == 0 {
		return []domain.Variant{}, nil
	}

	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		placeholders = append(placeholders, "$"+strconv.Itoa(i+1))
		args = append(args, id)
	}

	query := `
		SELECT id, product_id, merchant_id, product_name, name, price, inventory_count, reserved_count, created_at, updated_at
		FROM variants
		WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get variants: %w", err)
	}
	defer rows.Close()

	var variants []domain.Variant
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(
			&v.ID,
			&v.ProductID,
			&v.MerchantID,
			&v.ProductName,
			&v.Name,
			&v.Price,
			&v.InventoryCount,
			&v.ReservedCount,
			&v.CreatedAt,
			&v.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan variant row: %w", err)
		}
		variants = append(variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant rows: %w", err)
	}

	if variants == nil {
		variants = []domain.Variant{}
	}

	return variants, nil
}

// Pool returns the underlying connection pool for transactional operations in
// the service layer.
func (r *InventoryRepository) Pool() database.DBTX {
	return r.pool
}

// ReservationRepository implements reservation reads using PostgreSQL.
// Writes happen inside service-layer transactions together with the
// reserved-count bookkeeping they must stay atomic with.
type ReservationRepository struct {
	pool database.DBTX
}

// NewReservationRepository creates a new PostgreSQL-backed reservation repository.
func NewReservationRepository(pool database.DBTX) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

// GetByID retrieves a reservation by its unique identifier.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `
		SELECT id, variant_id, session_id, quantity, expires_at, created_at
		FROM reservations
		WHERE id = $1`

	var res domain.Reservation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&res.ID,
		&res.VariantID,
		&res.SessionID,
		&res.Quantity,
		&res.ExpiresAt,
		&res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get reservation by id: %w", err)
	}

	return &res, nil
}

// GetBySession retrieves all reservations held by a checkout session.
func (r *ReservationRepository) GetBySession(ctx context.Context, sessionID string) ([]domain.Reservation, error) {
	query := `
		SELECT id, variant_id, session_id, quantity, expires_at, created_at
		FROM reservations
		WHERE session_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get reservations by session: %w", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

// GetExpired returns reservations that have passed their expiry time.
func (r *ReservationRepository) GetExpired(ctx context.Context) ([]domain.Reservation, error) {
	query := `
		SELECT id, variant_id, session_id, quantity, expires_at, created_at
		FROM reservations
		WHERE expires_at < $1
		ORDER BY expires_at ASC`

	rows, err := r.pool.Query(ctx, query, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("get expired reservations: %w", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

func scanReservations(rows pgx.Rows) ([]domain.Reservation, error) {
	var reservations []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(
			&res.ID,
			&res.VariantID,
			&res.SessionID,
			&res.Quantity,
			&res.ExpiresAt,
			&res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		reservations = append(reservations, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation rows: %w", err)
	}

	if reservations == nil {
		reservations = []domain.Reservation{}
	}

	return reservations, nil
}
