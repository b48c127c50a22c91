package postgres

import (
	"context"
	"time"

	"github.com/ticketrush/onsale-service/internal/domain"
	"github.com/ticketrush/onsale-service/internal/metrics"
	"github.com/ticketrush/onsale-service/internal/pkg/logger"

	"github.com/google/uuid"
)

// StartRecoveryWorker runs the periodic sweep: expire stale holds, then
// repair paid orders missing tickets. Both passes are idempotent, so
// overlapping replicas are safe.
func (s *Store) StartRecoveryWorker(ctx context.Context, interval time.Duration) {
	go func() {
		log := logger.Logger.With().Str("component", "recovery_worker").Logger()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				if err := s.RunRecoveryOnce(ctx); err != nil {
					log.Warn().Err(err).Msg("recovery cycle failed")
				}
			}
		}
	}()
}

// RunRecoveryOnce executes one sweep cycle. Exported so deployments without
// an always-on process can drive it from an external timer.
func (s *Store) RunRecoveryOnce(ctx context.Context) error {
	if _, err := s.ExpireStaleHolds(ctx); err != nil {
		return err
	}
	_, err := s.RepairMissingTickets(ctx)
	return err
}

// ExpireStaleHolds flips every overdue active reservation to expired.
// Capacity accounting self-corrects: availability only ever counts
// active unexpired rows, so no counter needs adjusting. Expired rows never
// re-match the WHERE clause, which makes the pass idempotent.
func (s *Store) ExpireStaleHolds(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE reservations
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expires_at <= NOW()
		RETURNING id, event_id, user_id
	`)
	if err != nil {
		return 0, err
	}

	type expired struct {
		ID      uuid.UUID
		EventID uuid.UUID
		UserID  string
	}
	var found []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.ID, &e.EventID, &e.UserID); err != nil {
			rows.Close()
			return 0, err
		}
		found = append(found, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(found) == 0 {
		return 0, tx.Commit(ctx)
	}

	for _, e := range found {
		appendOutbox(ctx, tx, "", "reservation.expired", map[string]any{
			"reservation_id": e.ID,
			"event_id":       e.EventID,
			"user_id":        e.UserID,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	metrics.HoldsExpired.Add(float64(len(found)))
	if s.audit != nil {
		s.audit.HoldsExpired(len(found))
	}
	return len(found), nil
}

// RepairMissingTickets re-issues tickets for paid orders whose ticket count
// fell short of the order quantity (a crash between order insert and ticket
// insert cannot happen in the same transaction, but the pass also covers
// operator surgery and partial restores). A fully-ticketed order is a no-op.
func (s *Store) RepairMissingTickets(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id
		FROM orders o
		LEFT JOIN tickets t ON t.order_id = o.id
		WHERE o.status = 'paid'
		GROUP BY o.id, o.quantity
		HAVING COUNT(t.id) < o.quantity
	`)
	if err != nil {
		return 0, err
	}
	var orderIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		orderIDs = append(orderIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	recovered := 0
	for _, orderID := range orderIDs {
		n, err := s.repairOrder(ctx, orderID)
		if err != nil {
			logger.Logger.Warn().Err(err).Str("order_id", orderID.String()).Msg("ticket repair failed")
			continue
		}
		recovered += n
	}
	return recovered, nil
}

// repairOrder locks the order row, recomputes the shortfall under the lock,
// and inserts the missing tickets in one short transaction.
func (s *Store) repairOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var order domain.Order
	err = tx.QueryRow(ctx, `
		SELECT id, checkout_session_id, event_id, tier_id, user_id, quantity, total_price_cents, status, created_at
		FROM orders
		WHERE id = $1 AND status = 'paid'
		FOR UPDATE
	`, orderID).Scan(&order.ID, &order.SessionID, &order.EventID, &order.TierID, &order.UserID, &order.Quantity, &order.TotalPriceCents, &order.Status, &order.CreatedAt)
	if err != nil {
		return 0, err
	}

	var have int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE order_id = $1`, orderID).Scan(&have); err != nil {
		return 0, err
	}
	missing := order.Quantity - have
	if missing <= 0 {
		return 0, tx.Commit(ctx)
	}

	if _, err := s.issueTickets(ctx, tx, order, missing); err != nil {
		return 0, err
	}

	appendOutbox(ctx, tx, "", "ticket.recovered", map[string]any{
		"order_id": orderID,
		"count":    missing,
	})

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	metrics.TicketsRecovered.Add(float64(missing))
	if s.audit != nil {
		s.audit.TicketsRecovered(orderID, missing)
	}
	return missing, nil
}
