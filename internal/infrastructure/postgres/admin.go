package postgres

import (
	"context"
	"errors"

	"github.com/ticketrush/onsale-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SetEventPaused flips the admission/reservation gate. Existing queuers and
// holds are untouched.
func (s *Store) SetEventPaused(ctx context.Context, traceID string, eventID uuid.UUID, paused bool) (domain.Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	e, err := scanEvent(tx.QueryRow(ctx, `
		UPDATE events
		SET paused = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, venue, starts_at, on_sale_at, status, paused, created_at, updated_at
	`, eventID, paused))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}

	key := "event.resumed"
	if paused {
		key = "event.paused"
	}
	appendOutbox(ctx, tx, traceID, key, map[string]any{"event_id": eventID})

	if err := tx.Commit(ctx); err != nil {
		return domain.Event{}, err
	}

	if s.audit != nil {
		s.audit.EventPauseToggled(ctx, eventID, paused)
	}
	return e, nil
}

// EventSummary is the admin dashboard read. QueueLength is filled by the
// caller from the ephemeral store.
func (s *Store) EventSummary(ctx context.Context, eventID uuid.UUID) (domain.EventSummary, error) {
	e, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return domain.EventSummary{}, err
	}

	tiers, err := s.Availability(ctx, eventID)
	if err != nil {
		return domain.EventSummary{}, err
	}

	sum := domain.EventSummary{Event: e, Tiers: tiers}
	err = s.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(quantity) FROM reservations
			          WHERE event_id = $1 AND status = 'active' AND expires_at > NOW()), 0),
			(SELECT COUNT(*) FROM checkout_sessions cs
			 JOIN reservations r ON r.id = cs.reservation_id
			 WHERE r.event_id = $1 AND cs.status = 'pending'),
			(SELECT COUNT(*) FROM orders WHERE event_id = $1 AND status = 'paid'),
			(SELECT COUNT(*) FROM tickets WHERE event_id = $1)
	`, eventID).Scan(&sum.ActiveHolds, &sum.PendingSessions, &sum.OrdersPaid, &sum.TicketsIssued)
	if err != nil {
		return domain.EventSummary{}, err
	}
	return sum, nil
}
