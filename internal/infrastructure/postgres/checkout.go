package postgres

import (
	"context"
	"errors"

	"github.com/ticketrush/onsale-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateSession opens (or replays) the idempotency envelope around a pending
// payment. The idempotency key's unique index is the coordination point:
// when two callers race, the loser catches the unique violation and returns
// the winner's session.
func (s *Store) CreateSession(ctx context.Context, traceID, userID string, reservationID uuid.UUID, idempotencyKey string) (domain.CheckoutSession, bool, error) {
	sess, created, err := s.createSessionOnce(ctx, traceID, userID, reservationID, idempotencyKey)
	if isUniqueViolation(err) {
		// Parallel caller won the insert; its session is the session.
		sess, lookupErr := s.sessionByKey(ctx, idempotencyKey)
		if lookupErr != nil {
			return domain.CheckoutSession{}, false, lookupErr
		}
		return sess, false, nil
	}
	return sess, created, err
}

func (s *Store) createSessionOnce(ctx context.Context, traceID, userID string, reservationID uuid.UUID, idempotencyKey string) (domain.CheckoutSession, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.CheckoutSession{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Idempotent replay: same key -> same session, no further writes.
	sess, err := scanSession(tx.QueryRow(ctx, sessionSelect+`WHERE idempotency_key = $1`, idempotencyKey))
	if err == nil {
		return sess, false, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.CheckoutSession{}, false, err
	}

	// 2) The reservation must be a live hold owned by this user.
	var live bool
	err = tx.QueryRow(ctx, `
		SELECT status = 'active' AND expires_at > NOW()
		FROM reservations
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, reservationID, userID).Scan(&live)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CheckoutSession{}, false, domain.ErrReservationInvalid
	}
	if err != nil {
		return domain.CheckoutSession{}, false, err
	}
	if !live {
		return domain.CheckoutSession{}, false, domain.ErrReservationInvalid
	}

	// 3) A different idempotency key must not open a competing session for
	// the same hold.
	sess, err = scanSession(tx.QueryRow(ctx, sessionSelect+`WHERE reservation_id = $1 AND status = 'pending'`, reservationID))
	if err == nil {
		return sess, false, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.CheckoutSession{}, false, err
	}

	// 4) Fresh payment window for the buyer.
	_, err = tx.Exec(ctx, `
		UPDATE reservations
		SET expires_at = NOW() + $2::interval, updated_at = NOW()
		WHERE id = $1
	`, reservationID, s.reservationTTL)
	if err != nil {
		return domain.CheckoutSession{}, false, err
	}

	sess, err = scanSession(tx.QueryRow(ctx, `
		INSERT INTO checkout_sessions (id, reservation_id, user_id, idempotency_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW(), NOW())
		RETURNING id, reservation_id, user_id, idempotency_key, status, created_at, updated_at
	`, uuid.New(), reservationID, userID, idempotencyKey))
	if err != nil {
		return domain.CheckoutSession{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CheckoutSession{}, false, err
	}
	return sess, true, nil
}

const sessionSelect = `
	SELECT id, reservation_id, user_id, idempotency_key, status, created_at, updated_at
	FROM checkout_sessions
`

func scanSession(row pgx.Row) (domain.CheckoutSession, error) {
	var cs domain.CheckoutSession
	err := row.Scan(&cs.ID, &cs.ReservationID, &cs.UserID, &cs.IdempotencyKey, &cs.Status, &cs.CreatedAt, &cs.UpdatedAt)
	return cs, err
}

func (s *Store) sessionByKey(ctx context.Context, idempotencyKey string) (domain.CheckoutSession, error) {
	return scanSession(s.pool.QueryRow(ctx, sessionSelect+`WHERE idempotency_key = $1`, idempotencyKey))
}

// ConfirmCheckout settles a pending session. The reservation row lock held
// across the whole transaction means at most one of {order creation,
// expiration, cancellation} wins; the order-exists check on top makes
// repeated success confirms byte-equivalent replays.
func (s *Store) ConfirmCheckout(ctx context.Context, traceID string, sessionID uuid.UUID, userID string, paid bool) (domain.ConfirmResult, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ConfirmResult{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var out domain.ConfirmResult
	var tier domain.Tier
	err = tx.QueryRow(ctx, `
		SELECT s.id, s.reservation_id, s.user_id, s.idempotency_key, s.status, s.created_at, s.updated_at,
		       r.id, r.event_id, r.tier_id, r.user_id, r.quantity, r.status, r.expires_at, r.created_at, r.updated_at,
		       t.id, t.event_id, t.name, t.price_cents, t.capacity, t.per_user_limit
		FROM checkout_sessions s
		JOIN reservations r ON r.id = s.reservation_id
		JOIN tiers t ON t.id = r.tier_id
		WHERE s.id = $1
	`, sessionID).Scan(
		&out.Session.ID, &out.Session.ReservationID, &out.Session.UserID, &out.Session.IdempotencyKey, &out.Session.Status, &out.Session.CreatedAt, &out.Session.UpdatedAt,
		&out.Reservation.ID, &out.Reservation.EventID, &out.Reservation.TierID, &out.Reservation.UserID, &out.Reservation.Quantity, &out.Reservation.Status, &out.Reservation.ExpiresAt, &out.Reservation.CreatedAt, &out.Reservation.UpdatedAt,
		&tier.ID, &tier.EventID, &tier.Name, &tier.PriceCents, &tier.Capacity, &tier.PerUserLimit,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConfirmResult{}, false, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.ConfirmResult{}, false, err
	}
	if out.Session.UserID != userID {
		// foreign sessions are indistinguishable from absent ones
		return domain.ConfirmResult{}, false, domain.ErrSessionNotFound
	}

	// Idempotent replay: a settled session already has its order.
	order, tickets, err := s.orderForSession(ctx, tx, sessionID)
	if err == nil {
		out.Order = &order
		out.Tickets = tickets
		return out, false, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ConfirmResult{}, false, err
	}

	if out.Session.Status != domain.SessionPending {
		return domain.ConfirmResult{}, false, domain.ErrSessionStateMismatch
	}

	// Serialisation point: concurrent confirms for this reservation queue here.
	var resStatus string
	var live bool
	err = tx.QueryRow(ctx, `
		SELECT status, status = 'active' AND expires_at > NOW()
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, out.Reservation.ID).Scan(&resStatus, &live)
	if err != nil {
		return domain.ConfirmResult{}, false, err
	}
	out.Reservation.Status = domain.ReservationStatus(resStatus)

	// The first snapshot ran before this lock was granted; a racing confirm
	// may have settled the session while we waited. Re-read under the lock
	// and replay its outcome instead of driving a settled session into a
	// failure state.
	var sessNow domain.SessionStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM checkout_sessions WHERE id = $1`, sessionID).Scan(&sessNow); err != nil {
		return domain.ConfirmResult{}, false, err
	}
	if sessNow != domain.SessionPending {
		out.Session.Status = sessNow
		order, tickets, err = s.orderForSession(ctx, tx, sessionID)
		if err == nil {
			out.Order = &order
			out.Tickets = tickets
			return out, false, tx.Commit(ctx)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.ConfirmResult{}, false, err
		}
		return domain.ConfirmResult{}, false, domain.ErrSessionStateMismatch
	}

	if !live {
		// Dead hold: settle both rows into their terminal failure states.
		if out.Reservation.Status == domain.ReservationActive {
			out.Reservation.Status = domain.ReservationExpired
			out.Session.Status = domain.SessionExpired
			_, err = tx.Exec(ctx, `UPDATE reservations SET status = 'expired', updated_at = NOW() WHERE id = $1`, out.Reservation.ID)
		} else {
			out.Session.Status = domain.SessionFailed
		}
		if err != nil {
			return domain.ConfirmResult{}, false, err
		}
		_, err = tx.Exec(ctx, `UPDATE checkout_sessions SET status = $2, updated_at = NOW() WHERE id = $1 AND status = 'pending'`, sessionID, string(out.Session.Status))
		if err != nil {
			return domain.ConfirmResult{}, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return domain.ConfirmResult{}, false, err
		}
		return domain.ConfirmResult{}, false, domain.ErrReservationInvalid
	}

	if !paid {
		_, err = tx.Exec(ctx, `UPDATE checkout_sessions SET status = 'failed', updated_at = NOW() WHERE id = $1 AND status = 'pending'`, sessionID)
		if err != nil {
			return domain.ConfirmResult{}, false, err
		}
		_, err = tx.Exec(ctx, `UPDATE reservations SET status = 'canceled', updated_at = NOW() WHERE id = $1`, out.Reservation.ID)
		if err != nil {
			return domain.ConfirmResult{}, false, err
		}
		appendOutbox(ctx, tx, traceID, "order.failed", map[string]any{
			"session_id":     sessionID,
			"reservation_id": out.Reservation.ID,
			"event_id":       out.Reservation.EventID,
			"user_id":        userID,
		})
		if err := tx.Commit(ctx); err != nil {
			return domain.ConfirmResult{}, false, err
		}
		out.Session.Status = domain.SessionFailed
		out.Reservation.Status = domain.ReservationCanceled
		return out, true, nil
	}

	// Payment settled: order + tickets + terminal transitions, atomically.
	total := int64(out.Reservation.Quantity) * tier.PriceCents
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, checkout_session_id, event_id, tier_id, user_id, quantity, total_price_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'paid', NOW())
		RETURNING id, checkout_session_id, event_id, tier_id, user_id, quantity, total_price_cents, status, created_at
	`, uuid.New(), sessionID, out.Reservation.EventID, out.Reservation.TierID, userID, out.Reservation.Quantity, total).Scan(
		&order.ID, &order.SessionID, &order.EventID, &order.TierID, &order.UserID, &order.Quantity, &order.TotalPriceCents, &order.Status, &order.CreatedAt,
	)
	if err != nil {
		return domain.ConfirmResult{}, false, err
	}

	tickets, err = s.issueTickets(ctx, tx, order, order.Quantity)
	if err != nil {
		return domain.ConfirmResult{}, false, err
	}

	_, err = tx.Exec(ctx, `UPDATE checkout_sessions SET status = 'completed', updated_at = NOW() WHERE id = $1 AND status = 'pending'`, sessionID)
	if err != nil {
		return domain.ConfirmResult{}, false, err
	}
	_, err = tx.Exec(ctx, `UPDATE reservations SET status = 'converted', updated_at = NOW() WHERE id = $1`, out.Reservation.ID)
	if err != nil {
		return domain.ConfirmResult{}, false, err
	}

	appendOutbox(ctx, tx, traceID, "order.created", map[string]any{
		"order_id":    order.ID,
		"session_id":  sessionID,
		"event_id":    order.EventID,
		"tier_id":     order.TierID,
		"user_id":     userID,
		"quantity":    order.Quantity,
		"total_cents": order.TotalPriceCents,
	})

	if err := tx.Commit(ctx); err != nil {
		return domain.ConfirmResult{}, false, err
	}

	if s.audit != nil {
		s.audit.OrderCreated(ctx, order.ID, sessionID, userID, order.Quantity, order.TotalPriceCents)
	}

	out.Session.Status = domain.SessionCompleted
	out.Reservation.Status = domain.ReservationConverted
	out.Order = &order
	out.Tickets = tickets
	return out, true, nil
}

// issueTickets mints count tickets for the order. ON CONFLICT DO NOTHING on
// the code column keeps a racing recovery sweep from double-inserting.
func (s *Store) issueTickets(ctx context.Context, tx pgx.Tx, order domain.Order, count int) ([]domain.Ticket, error) {
	for i := 0; i < count; i++ {
		code := uuid.NewString()
		sig := s.signer.Sign(code, order.ID, order.EventID)
		_, err := tx.Exec(ctx, `
			INSERT INTO tickets (id, order_id, event_id, tier_id, user_id, code, qr_sig, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (code) DO NOTHING
		`, uuid.New(), order.ID, order.EventID, order.TierID, order.UserID, code, sig)
		if err != nil {
			return nil, err
		}
	}
	return s.ticketsForOrder(ctx, tx, order.ID)
}

func (s *Store) ticketsForOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.Ticket, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, event_id, tier_id, user_id, code, qr_sig, created_at
		FROM tickets
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
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

func (s *Store) orderForSession(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) (domain.Order, []domain.Ticket, error) {
	var o domain.Order
	err := tx.QueryRow(ctx, `
		SELECT id, checkout_session_id, event_id, tier_id, user_id, quantity, total_price_cents, status, created_at
		FROM orders
		WHERE checkout_session_id = $1
	`, sessionID).Scan(&o.ID, &o.SessionID, &o.EventID, &o.TierID, &o.UserID, &o.Quantity, &o.TotalPriceCents, &o.Status, &o.CreatedAt)
	if err != nil {
		return domain.Order{}, nil, err
	}
	tickets, err := s.ticketsForOrder(ctx, tx, o.ID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	return o, tickets, nil
}
