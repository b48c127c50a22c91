package postgres

import (
	"context"
	"errors"

	"github.com/ticketrush/onsale-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -------------------------
// Locking policy:
// Reserve locks exactly one row: the tier (FOR UPDATE). Every capacity and
// per-user aggregate is computed while that lock is held, so two concurrent
// reserves on the same tier are fully serialised and oversell is impossible.
// Checkout locks the reservation row only (checkout.go); the two paths never
// hold both locks at once, so no cycle exists.
// -------------------------

func (s *Store) Reserve(ctx context.Context, traceID string, eventID, tierID uuid.UUID, userID string, quantity int) (domain.Reservation, error) {
	if quantity < 1 || userID == "" {
		return domain.Reservation{}, domain.ErrValidation
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Reservation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Event gate: draft events are invisible, paused/closed events sell nothing.
	var status string
	var paused bool
	err = tx.QueryRow(ctx, `SELECT status, paused FROM events WHERE id = $1`, eventID).Scan(&status, &paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	switch domain.EventStatus(status) {
	case domain.EventDraft:
		return domain.Reservation{}, domain.ErrEventNotFound
	case domain.EventClosed, domain.EventCanceled:
		return domain.Reservation{}, domain.ErrSalesPaused
	}
	if paused {
		return domain.Reservation{}, domain.ErrSalesPaused
	}

	// 2) Lock the tier row. Serialisation point for this tier's inventory.
	var tier domain.Tier
	err = tx.QueryRow(ctx, `
		SELECT id, event_id, name, price_cents, capacity, per_user_limit
		FROM tiers
		WHERE id = $1 AND event_id = $2
		FOR UPDATE
	`, tierID, eventID).Scan(&tier.ID, &tier.EventID, &tier.Name, &tier.PriceCents, &tier.Capacity, &tier.PerUserLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrTierNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}

	// 3) Per-event purchase cap across paid orders and live holds.
	var alreadyPaid, activeHeld int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM orders
		WHERE event_id = $1 AND user_id = $2 AND status = 'paid'
	`, eventID, userID).Scan(&alreadyPaid)
	if err != nil {
		return domain.Reservation{}, err
	}
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM reservations
		WHERE event_id = $1 AND user_id = $2 AND status = 'active' AND expires_at > NOW()
	`, eventID, userID).Scan(&activeHeld)
	if err != nil {
		return domain.Reservation{}, err
	}
	if alreadyPaid+activeHeld+quantity > s.purchaseLimit {
		return domain.Reservation{}, &domain.PurchaseLimitError{
			Limit:            s.purchaseLimit,
			AlreadyPurchased: alreadyPaid,
			ActivelyHeld:     activeHeld,
			Requested:        quantity,
		}
	}

	if quantity > tier.PerUserLimit {
		return domain.Reservation{}, domain.ErrPerTierLimitExceeded
	}

	// One in-flight hold per user per event.
	if activeHeld > 0 {
		return domain.Reservation{}, domain.ErrDoubleHold
	}

	// 4) Capacity under the tier lock.
	var reserved, sold int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM reservations
		WHERE tier_id = $1 AND status = 'active' AND expires_at > NOW()
	`, tierID).Scan(&reserved)
	if err != nil {
		return domain.Reservation{}, err
	}
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM orders
		WHERE tier_id = $1 AND status = 'paid'
	`, tierID).Scan(&sold)
	if err != nil {
		return domain.Reservation{}, err
	}
	if tier.Capacity-reserved-sold < quantity {
		return domain.Reservation{}, domain.ErrInsufficientInventory
	}

	// 5) Insert the hold.
	var res domain.Reservation
	err = tx.QueryRow(ctx, `
		INSERT INTO reservations (id, event_id, tier_id, user_id, quantity, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'active', NOW() + $6::interval, NOW(), NOW())
		RETURNING id, event_id, tier_id, user_id, quantity, status, expires_at, created_at, updated_at
	`, uuid.New(), eventID, tierID, userID, quantity, s.reservationTTL).Scan(
		&res.ID, &res.EventID, &res.TierID, &res.UserID, &res.Quantity, &res.Status, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return domain.Reservation{}, err
	}

	appendOutbox(ctx, tx, traceID, "reservation.created", map[string]any{
		"reservation_id": res.ID,
		"event_id":       eventID,
		"tier_id":        tierID,
		"user_id":        userID,
		"quantity":       quantity,
		"expires_at":     res.ExpiresAt,
	})

	if err := tx.Commit(ctx); err != nil {
		return domain.Reservation{}, err
	}

	if s.audit != nil {
		s.audit.ReservationCreated(ctx, res.ID, eventID, tierID, userID, quantity)
	}
	return res, nil
}

// ActiveReservationFor returns the newest live hold for (event, user) joined
// with its tier, or ErrReservationInvalid when none exists.
func (s *Store) ActiveReservationFor(ctx context.Context, eventID uuid.UUID, userID string) (domain.ActiveReservation, error) {
	var ar domain.ActiveReservation
	err := s.pool.QueryRow(ctx, `
		SELECT r.id, r.event_id, r.tier_id, r.user_id, r.quantity, r.status, r.expires_at, r.created_at, r.updated_at,
		       t.id, t.event_id, t.name, t.price_cents, t.capacity, t.per_user_limit
		FROM reservations r
		JOIN tiers t ON t.id = r.tier_id
		WHERE r.event_id = $1 AND r.user_id = $2
		  AND r.status = 'active' AND r.expires_at > NOW()
		ORDER BY r.created_at DESC
		LIMIT 1
	`, eventID, userID).Scan(
		&ar.ID, &ar.EventID, &ar.TierID, &ar.UserID, &ar.Quantity, &ar.Status, &ar.ExpiresAt, &ar.CreatedAt, &ar.UpdatedAt,
		&ar.Tier.ID, &ar.Tier.EventID, &ar.Tier.Name, &ar.Tier.PriceCents, &ar.Tier.Capacity, &ar.Tier.PerUserLimit,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ActiveReservation{}, domain.ErrReservationInvalid
	}
	if err != nil {
		return domain.ActiveReservation{}, err
	}
	return ar, nil
}
