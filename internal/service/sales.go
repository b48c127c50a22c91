package service

import (
	"context"
	"errors"
	"time"

	"github.com/ticketrush/onsale-service/internal/audit"
	"github.com/ticketrush/onsale-service/internal/domain"
	"github.com/ticketrush/onsale-service/internal/metrics"

	"github.com/google/uuid"
)

type SalesConfig struct {
	SessionRateLimit int
	ConfirmRateLimit int
	RateWindow       time.Duration
}

// Sales orchestrates the purchase path: reservation holds, idempotent
// checkout sessions and confirmation. The repository owns all locking and
// state transitions; this layer adds admission gating, per-user rate limits
// and metrics.
type Sales struct {
	repo  domain.SaleRepository
	cache domain.WaitingRoomCache
	cfg   SalesConfig
	audit *audit.Logger
}

func NewSales(repo domain.SaleRepository, cache domain.WaitingRoomCache, cfg SalesConfig, auditLog *audit.Logger) *Sales {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &Sales{repo: repo, cache: cache, cfg: cfg, audit: auditLog}
}

// Reserve places a hold after checking the caller's admission grant. The
// grant is checked but not consumed; it runs out on its own TTL.
func (s *Sales) Reserve(ctx context.Context, traceID string, eventID, tierID uuid.UUID, userID, token string, quantity int) (domain.Reservation, error) {
	if userID == "" || token == "" || quantity < 1 {
		return domain.Reservation{}, domain.ErrValidation
	}

	admitted, err := s.cache.HasAdmission(ctx, eventID, token)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !admitted {
		return domain.Reservation{}, domain.ErrNotAdmitted
	}

	res, err := s.repo.Reserve(ctx, traceID, eventID, tierID, userID, quantity)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientInventory):
			metrics.OversellAttempts.Inc()
		case errors.Is(err, domain.ErrPurchaseLimitExceeded):
			metrics.PurchaseLimitHits.Inc()
		}
		return domain.Reservation{}, err
	}

	metrics.ReservationsCreated.Inc()
	return res, nil
}

// ActiveReservation returns the caller's live hold for the event, if any.
func (s *Sales) ActiveReservation(ctx context.Context, eventID uuid.UUID, userID string) (domain.ActiveReservation, error) {
	if userID == "" {
		return domain.ActiveReservation{}, domain.ErrValidation
	}
	return s.repo.ActiveReservationFor(ctx, eventID, userID)
}

// CreateSession opens (or replays) a checkout session. The idempotency key
// is the client's dedup handle across retries.
func (s *Sales) CreateSession(ctx context.Context, traceID, userID string, reservationID uuid.UUID, idempotencyKey string) (domain.CheckoutSession, bool, error) {
	if userID == "" || idempotencyKey == "" || reservationID == uuid.Nil {
		return domain.CheckoutSession{}, false, domain.ErrValidation
	}

	if err := s.allow(ctx, "session:"+userID, s.cfg.SessionRateLimit); err != nil {
		return domain.CheckoutSession{}, false, err
	}

	return s.repo.CreateSession(ctx, traceID, userID, reservationID, idempotencyKey)
}

// Confirm settles a pending session. The repository guarantees at most one
// settlement per session; replays return the recorded outcome.
func (s *Sales) Confirm(ctx context.Context, traceID string, sessionID uuid.UUID, userID string, paid bool) (domain.ConfirmResult, bool, error) {
	if userID == "" || sessionID == uuid.Nil {
		return domain.ConfirmResult{}, false, domain.ErrValidation
	}

	if err := s.allow(ctx, "confirm:"+userID, s.cfg.ConfirmRateLimit); err != nil {
		return domain.ConfirmResult{}, false, err
	}

	result, settled, err := s.repo.ConfirmCheckout(ctx, traceID, sessionID, userID, paid)
	if err != nil {
		if s.audit != nil && (errors.Is(err, domain.ErrReservationInvalid) || errors.Is(err, domain.ErrSessionStateMismatch)) {
			s.audit.ConfirmFailed(ctx, sessionID, userID, err.Error())
		}
		return domain.ConfirmResult{}, false, err
	}

	if settled {
		if result.Order != nil {
			metrics.Confirmations.WithLabelValues("paid").Inc()
			metrics.OrdersCreated.Inc()
		} else {
			metrics.Confirmations.WithLabelValues("failed").Inc()
		}
	} else {
		metrics.Confirmations.WithLabelValues("replay").Inc()
	}
	return result, settled, nil
}

func (s *Sales) MyTickets(ctx context.Context, userID string) ([]domain.Ticket, error) {
	if userID == "" {
		return nil, domain.ErrValidation
	}
	return s.repo.ListUserTickets(ctx, userID)
}

func (s *Sales) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.repo.ListEvents(ctx)
}

func (s *Sales) GetEvent(ctx context.Context, eventID uuid.UUID) (domain.Event, error) {
	e, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if !e.Visible() {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return e, nil
}

func (s *Sales) Availability(ctx context.Context, eventID uuid.UUID) ([]domain.TierAvailability, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.repo.Availability(ctx, eventID)
}

// SetEventPaused is the admin gate toggle.
func (s *Sales) SetEventPaused(ctx context.Context, traceID string, eventID uuid.UUID, paused bool) (domain.Event, error) {
	return s.repo.SetEventPaused(ctx, traceID, eventID, paused)
}

// EventSummary combines the durable pipeline counts with the live queue
// length from the ephemeral store.
func (s *Sales) EventSummary(ctx context.Context, eventID uuid.UUID) (domain.EventSummary, error) {
	sum, err := s.repo.EventSummary(ctx, eventID)
	if err != nil {
		return domain.EventSummary{}, err
	}
	if n, err := s.cache.QueueLength(ctx, eventID); err == nil {
		sum.QueueLength = n
	}
	return sum, nil
}

func (s *Sales) allow(ctx context.Context, key string, limit int) error {
	if limit <= 0 {
		return nil
	}
	ok, err := s.cache.AllowRequest(ctx, key, limit, s.cfg.RateWindow)
	if err != nil {
		// limiter fails open
		return nil
	}
	if !ok {
		metrics.RateLimitHits.Inc()
		return domain.ErrRateLimited
	}
	return nil
}
