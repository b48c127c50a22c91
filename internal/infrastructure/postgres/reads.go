package postgres

import (
	"context"
	"errors"

	"github.com/ticketrush/onsale-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const eventSelect = `
	SELECT id, name, venue, starts_at, on_sale_at, status, paused, created_at, updated_at
	FROM events
`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.Name, &e.Venue, &e.StartsAt, &e.OnSaleAt, &e.Status, &e.Paused, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (s *Store) GetEvent(ctx context.Context, eventID uuid.UUID) (domain.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, eventSelect+`WHERE id = $1`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return e, err
}

// ListEvents returns buyer-visible events, soonest sale first.
func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, eventSelect+`WHERE status <> 'draft' ORDER BY on_sale_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Availability aggregates live holds and paid sales per tier. Reads are not
// serialised against reserves; the numbers are a consistent snapshot, not a
// promise.
func (s *Store) Availability(ctx context.Context, eventID uuid.UUID) ([]domain.TierAvailability, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.event_id, t.name, t.price_cents, t.capacity, t.per_user_limit,
		       COALESCE((SELECT SUM(r.quantity) FROM reservations r
		                 WHERE r.tier_id = t.id AND r.status = 'active' AND r.expires_at > NOW()), 0) AS reserved,
		       COALESCE((SELECT SUM(o.quantity) FROM orders o
		                 WHERE o.tier_id = t.id AND o.status = 'paid'), 0) AS sold
		FROM tiers t
		WHERE t.event_id = $1
		ORDER BY t.price_cents ASC, t.name ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TierAvailability
	for rows.Next() {
		var ta domain.TierAvailability
		if err := rows.Scan(
			&ta.Tier.ID, &ta.Tier.EventID, &ta.Tier.Name, &ta.Tier.PriceCents, &ta.Tier.Capacity, &ta.Tier.PerUserLimit,
			&ta.Reserved, &ta.Sold,
		); err != nil {
			return nil, err
		}
		ta.Available = ta.Tier.Capacity - ta.Reserved - ta.Sold
		if ta.Available < 0 {
			ta.Available = 0
		}
		out = append(out, ta)
	}
	return out, rows.Err()
}

func (s *Store) ListUserTickets(ctx context.Context, userID string) ([]domain.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, event_id, tier_id, user_id, code, qr_sig, created_at
		FROM tickets
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.OrderID, &t.EventID, &t.TierID, &t.UserID, &t.Code, &t.QRSig, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
