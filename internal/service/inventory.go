package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropforge/dropengine/internal/domain"
	"github.com/dropforge/dropengine/internal/event"
	"github.com/dropforge/dropengine/internal/lock"
	"github.com/dropforge/dropengine/internal/repository"
	"github.com/dropforge/dropengine/pkg/database"
	apperrors "github.com/dropforge/dropengine/pkg/errors"
)

// InventoryService implements stock seeding, reservation, release and the
// expired-reservation sweep.
type InventoryService struct {
	variantRepo     repository.VariantRepository
	reservationRepo repository.ReservationRepository
	pool            database.DBTX
	locker          lock.Locker
	producer        *event.Producer
	logger          *slog.Logger
	reservationTTL  time.Duration
	lockTTL         time.Duration
}

// NewInventoryService creates a new inventory service.
func NewInventoryService(
	variantRepo repository.VariantRepository,
	reservationRepo repository.ReservationRepository,
	pool database.DBTX,
	locker lock.Locker,
	producer *event.Producer,
	logger *slog.Logger,
	reservationTTL time.Duration,
	lockTTL time.Duration,
) *InventoryService {
	if reservationTTL <= 0 {
		reservationTTL = domain.DefaultReservationTTL
	}
	return &InventoryService{
		variantRepo:     variantRepo,
		reservationRepo: reservationRepo,
		pool:            pool,
		locker:          locker,
		producer:        producer,
		logger:          logger,
		reservationTTL:  reservationTTL,
		lockTTL:         lockTTL,
	}
}

// InitializeStock seeds or refreshes a variant's stock record. This is the
// entry point for loading drop inventory via the HTTP API.
func (s *InventoryService) InitializeStock(ctx context.Context, variant *domain.Variant) (*domain.Variant, error) {
	if variant.ID == "" {
		return nil, apperrors.InvalidInput("variant id is required")
	}
	if variant.ProductID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if variant.MerchantID == "" {
		return nil, apperrors.InvalidInput("merchant_id is required")
	}
	if variant.Price < 0 {
		return nil, apperrors.InvalidInput("price must be non-negative")
	}
	if variant.InventoryCount < 0 {
		return nil, apperrors.InvalidInput("inventory_count must be non-negative")
	}

	result, err := s.variantRepo.Upsert(ctx, variant)
	if err != nil {
		return nil, fmt.Errorf("initialize stock: %w", err)
	}

	s.logger.InfoContext(ctx, "stock initialized",
		slog.String("variant_id", result.ID),
		slog.String("merchant_id", result.MerchantID),
		slog.Int("inventory_count", result.InventoryCount),
	)

	return result, nil
}

// GetStock retrieves the stock level for a variant.
func (s *InventoryService) GetStock(ctx context.Context, variantID string) (*domain.Variant, error) {
	variant, err := s.variantRepo.GetByID(ctx, variantID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("variant", variantID)
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return variant, nil
}

// GetVariants retrieves the variants for the given IDs in one read.
func (s *InventoryService) GetVariants(ctx context.Context, ids []string) ([]domain.Variant, error) {
	variants, err := s.variantRepo.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get variants: %w", err)
	}
	return variants, nil
}

// Reserve places a TTL-bounded hold on a variant for a checkout session.
// A short per-variant lock serializes hot-drop contention; the conditional
// update below remains the correctness boundary even if the lock is lost.
func (s *InventoryService) Reserve(ctx context.Context, variantID, sessionID string, quantity int) (*domain.Reservation, error) {
	if variantID == "" {
		return nil, apperrors.InvalidInput("variant_id is required")
	}
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session_id is required")
	}
	if quantity < 1 {
		return nil, apperrors.InvalidInput("quantity must be at least 1")
	}

	key := lock.VariantKey(variantID)
	acquired, err := s.locker.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire variant lock: %w", err)
	}
	if !acquired {
		return nil, apperrors.SystemBusy(fmt.Sprintf("variant %s", variantID))
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.WarnContext(ctx, "failed to release variant lock",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin reservation transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The guard clause makes oversell impossible regardless of interleaving.
	updateQuery := `
		UPDATE variants
		SET reserved_count = reserved_count + $1, updated_at = NOW()
		WHERE id = $2 AND reserved_count + $1 <= inventory_count`

	ct, err := tx.Exec(ctx, updateQuery, quantity, variantID)
	if err != nil {
		return nil, fmt.Errorf("increment reserved count: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		probeQuery := `SELECT EXISTS (SELECT 1 FROM variants WHERE id = $1)`
		if err := tx.QueryRow(ctx, probeQuery, variantID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("probe variant existence: %w", err)
		}
		if !exists {
			return nil, apperrors.NotFound("variant", variantID)
		}
		return nil, apperrors.OutOfStock(variantID)
	}

	now := time.Now().UTC()
	reservation := &domain.Reservation{
		ID:        uuid.New().String(),
		VariantID: variantID,
		SessionID: sessionID,
		Quantity:  quantity,
		ExpiresAt: now.Add(s.reservationTTL),
		CreatedAt: now,
	}

	insertQuery := `
		INSERT INTO reservations (id, variant_id, session_id, quantity, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := tx.Exec(ctx, insertQuery,
		reservation.ID,
		reservation.VariantID,
		reservation.SessionID,
		reservation.Quantity,
		reservation.ExpiresAt,
		reservation.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("create reservation record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reservation transaction: %w", err)
	}

	if err := s.producer.PublishInventoryReserved(ctx, reservation); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish inventory.reserved event",
			slog.String("reservation_id", reservation.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "stock reserved",
		slog.String("reservation_id", reservation.ID),
		slog.String("variant_id", variantID),
		slog.String("session_id", sessionID),
		slog.Int("quantity", quantity),
		slog.Time("expires_at", reservation.ExpiresAt),
	)

	return reservation, nil
}

// ReleaseReservation releases a single reservation, restoring the reserved
// count. An absent reservation is a successful no-op: the sweeper or a
// settlement may already have consumed it.
func (s *InventoryService) ReleaseReservation(ctx context.Context, reservationID string) error {
	reservation, err := s.reservationRepo.GetByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get reservation for release: %w", err)
	}

	released, err := s.releaseInTx(ctx, []domain.Reservation{*reservation})
	if err != nil {
		return err
	}

	if released > 0 {
		if err := s.producer.PublishInventoryReleased(ctx, reservation, event.ReleaseReasonManual); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish inventory.released event",
				slog.String("reservation_id", reservation.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "reservation released",
		slog.String("reservation_id", reservationID),
		slog.Int("released", released),
	)

	return nil
}

// ReleaseSession releases every reservation held by a checkout session.
// Returns the number of reservations released.
func (s *InventoryService) ReleaseSession(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, apperrors.InvalidInput("session_id is required")
	}

	reservations, err := s.reservationRepo.GetBySession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("get session reservations: %w", err)
	}
	if len(reservations) == 0 {
		return 0, nil
	}

	released, err := s.releaseInTx(ctx, reservations)
	if err != nil {
		return 0, err
	}

	for i := range reservations {
		if err := s.producer.PublishInventoryReleased(ctx, &reservations[i], event.ReleaseReasonManual); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish inventory.released event",
				slog.String("reservation_id", reservations[i].ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "session reservations released",
		slog.String("session_id", sessionID),
		slog.Int("released", released),
	)

	return released, nil
}

// SweepExpired releases reservations whose TTL has lapsed. It runs on a
// background ticker and must tolerate concurrent settlements and sweeper
// instances: the delete-then-decrement order means an already-consumed
// reservation row is a harmless no-op.
func (s *InventoryService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.reservationRepo.GetExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("get expired reservations: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	released, err := s.releaseInTx(ctx, expired)
	if err != nil {
		return 0, err
	}

	for i := range expired {
		if err := s.producer.PublishInventoryReleased(ctx, &expired[i], event.ReleaseReasonExpired); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish inventory.released event",
				slog.String("reservation_id", expired[i].ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "expired reservations swept",
		slog.Int("expired", len(expired)),
		slog.Int("released", released),
	)

	return released, nil
}

// releaseInTx deletes reservation rows and restores reserved counts in one
// transaction. The decrement only happens when this call actually deleted the
// row, so a reservation can never be released twice.
func (s *InventoryService) releaseInTx(ctx context.Context, reservations []domain.Reservation) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin release transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	released := 0
	for _, r := range reservations {
		deleteQuery := `DELETE FROM reservations WHERE id = $1`
		ct, err := tx.Exec(ctx, deleteQuery, r.ID)
		if err != nil {
			return 0, fmt.Errorf("delete reservation: %w", err)
		}
		if ct.RowsAffected() == 0 {
			continue
		}

		updateQuery := `
			UPDATE variants
			SET reserved_count = GREATEST(reserved_count - $1, 0), updated_at = NOW()
			WHERE id = $2`

		if _, err := tx.Exec(ctx, updateQuery, r.Quantity, r.VariantID); err != nil {
			return 0, fmt.Errorf("restore reserved count: %w", err)
		}
		released++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit release transaction: %w", err)
	}

	return released, nil
}
