package audit

import (
	"context"

	appCtx "github.com/ticketrush/onsale-service/internal/pkg/context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for business events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// QueueJoined logs a successful waiting-room join.
func (l *Logger) QueueJoined(ctx context.Context, eventID uuid.UUID, token, userID string) {
	l.log.Info().
		Str("action", "queue_joined").
		Str("event_id", eventID.String()).
		Str("token", token).
		Str("user_id", userID).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("User joined waiting room")
}

// AdmissionGranted logs that a token was released into the reservation stage.
func (l *Logger) AdmissionGranted(ctx context.Context, eventID uuid.UUID, token string, position int64) {
	l.log.Info().
		Str("action", "admission_granted").
		Str("event_id", eventID.String()).
		Str("token", token).
		Int64("position", position).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Admission grant issued")
}

// ReservationCreated logs a new inventory hold.
func (l *Logger) ReservationCreated(ctx context.Context, reservationID, eventID, tierID uuid.UUID, userID string, quantity int) {
	l.log.Info().
		Str("action", "reservation_created").
		Str("reservation_id", reservationID.String()).
		Str("event_id", eventID.String()).
		Str("tier_id", tierID.String()).
		Str("user_id", userID).
		Int("quantity", quantity).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Reservation created")
}

// OrderCreated logs a settled payment.
func (l *Logger) OrderCreated(ctx context.Context, orderID, sessionID uuid.UUID, userID string, quantity int, totalCents int64) {
	l.log.Info().
		Str("action", "order_created").
		Str("order_id", orderID.String()).
		Str("session_id", sessionID.String()).
		Str("user_id", userID).
		Int("quantity", quantity).
		Int64("total_cents", totalCents).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Order created")
}

// ConfirmFailed logs a failed or rejected confirmation.
func (l *Logger) ConfirmFailed(ctx context.Context, sessionID uuid.UUID, userID, reason string) {
	l.log.Warn().
		Str("action", "confirm_failed").
		Str("session_id", sessionID.String()).
		Str("user_id", userID).
		Str("reason", reason).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Checkout confirmation failed")
}

// EventPauseToggled logs an admin pause/resume.
func (l *Logger) EventPauseToggled(ctx context.Context, eventID uuid.UUID, paused bool) {
	l.log.Warn().
		Str("action", "event_pause_toggled").
		Str("event_id", eventID.String()).
		Bool("paused", paused).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Event pause state changed")
}

// QueueCleared logs an admin waiting-room reset.
func (l *Logger) QueueCleared(ctx context.Context, eventID uuid.UUID) {
	l.log.Warn().
		Str("action", "queue_cleared").
		Str("event_id", eventID.String()).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Waiting room cleared")
}

// HoldsExpired logs a recovery-worker expiry pass that touched rows.
func (l *Logger) HoldsExpired(count int) {
	l.log.Info().
		Str("action", "holds_expired").
		Int("count", count).
		Msg("Stale reservations expired")
}

// TicketsRecovered logs a recovery-worker repair pass that inserted tickets.
func (l *Logger) TicketsRecovered(orderID uuid.UUID, count int) {
	l.log.Warn().
		Str("action", "tickets_recovered").
		Str("order_id", orderID.String()).
		Int("count", count).
		Msg("Missing tickets repaired")
}
