package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ticketrush/onsale-service/internal/audit"
	"github.com/ticketrush/onsale-service/internal/security"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements domain.SaleRepository on Postgres. All multi-row
// mutations run inside explicit transactions; the tier row and the
// reservation row are the two serialisation points (see reservation.go and
// checkout.go).
type Store struct {
	pool           *pgxpool.Pool
	signer         *security.TicketSigner
	reservationTTL time.Duration
	purchaseLimit  int
	audit          *audit.Logger
}

func New(pool *pgxpool.Pool, signer *security.TicketSigner, reservationTTL time.Duration, purchaseLimit int, auditLog *audit.Logger) *Store {
	return &Store{
		pool:           pool,
		signer:         signer,
		reservationTTL: reservationTTL,
		purchaseLimit:  purchaseLimit,
		audit:          auditLog,
	}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          uuid PRIMARY KEY,
	name        text NOT NULL,
	venue       text NOT NULL,
	starts_at   timestamptz NOT NULL,
	on_sale_at  timestamptz NOT NULL,
	status      text NOT NULL DEFAULT 'draft',
	paused      boolean NOT NULL DEFAULT false,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT events_sale_before_start CHECK (on_sale_at <= starts_at)
);

CREATE TABLE IF NOT EXISTS tiers (
	id             uuid PRIMARY KEY,
	event_id       uuid NOT NULL REFERENCES events(id),
	name           text NOT NULL,
	price_cents    bigint NOT NULL CHECK (price_cents >= 0),
	capacity       int NOT NULL CHECK (capacity >= 0),
	per_user_limit int NOT NULL DEFAULT 1 CHECK (per_user_limit >= 1),
	UNIQUE (event_id, name)
);

CREATE TABLE IF NOT EXISTS reservations (
	id          uuid PRIMARY KEY,
	event_id    uuid NOT NULL REFERENCES events(id),
	tier_id     uuid NOT NULL REFERENCES tiers(id),
	user_id     text NOT NULL,
	quantity    int NOT NULL CHECK (quantity >= 1),
	status      text NOT NULL DEFAULT 'active',
	expires_at  timestamptz NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_reservations_tier_active
	ON reservations (tier_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_reservations_user_active
	ON reservations (event_id, user_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_reservations_expiry
	ON reservations (expires_at) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS checkout_sessions (
	id              uuid PRIMARY KEY,
	reservation_id  uuid NOT NULL REFERENCES reservations(id),
	user_id         text NOT NULL,
	idempotency_key text NOT NULL UNIQUE,
	status          text NOT NULL DEFAULT 'pending',
	created_at      timestamptz NOT NULL DEFAULT now(),
	updated_at      timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sessions_reservation
	ON checkout_sessions (reservation_id);

CREATE TABLE IF NOT EXISTS orders (
	id                   uuid PRIMARY KEY,
	checkout_session_id  uuid NOT NULL UNIQUE REFERENCES checkout_sessions(id),
	event_id             uuid NOT NULL REFERENCES events(id),
	tier_id              uuid NOT NULL REFERENCES tiers(id),
	user_id              text NOT NULL,
	quantity             int NOT NULL CHECK (quantity >= 1),
	total_price_cents    bigint NOT NULL,
	status               text NOT NULL DEFAULT 'paid',
	created_at           timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_orders_user_paid
	ON orders (event_id, user_id) WHERE status = 'paid';
CREATE INDEX IF NOT EXISTS idx_orders_tier_paid
	ON orders (tier_id) WHERE status = 'paid';

CREATE TABLE IF NOT EXISTS tickets (
	id          uuid PRIMARY KEY,
	order_id    uuid NOT NULL REFERENCES orders(id),
	event_id    uuid NOT NULL,
	tier_id     uuid NOT NULL,
	user_id     text NOT NULL,
	code        text NOT NULL UNIQUE,
	qr_sig      text NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tickets_order ON tickets (order_id);
CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets (user_id);

CREATE TABLE IF NOT EXISTS outbox (
	id            bigserial PRIMARY KEY,
	message_id    uuid NOT NULL,
	trace_id      text NOT NULL DEFAULT '',
	routing_key   text NOT NULL,
	payload       jsonb NOT NULL,
	occurred_at   timestamptz NOT NULL DEFAULT now(),
	status        text NOT NULL DEFAULT 'pending',
	attempt       int NOT NULL DEFAULT 0,
	next_retry_at timestamptz NOT NULL DEFAULT now(),
	last_error    text
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (status, next_retry_at);
`

// InitSchema creates tables and indexes. Safe to run on every start.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// appendOutbox writes an event row inside the caller's transaction. Outbox
// failures never fail the business transaction.
func appendOutbox(ctx context.Context, tx pgx.Tx, traceID, routingKey string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = tx.Exec(ctx, `
		INSERT INTO outbox (message_id, trace_id, routing_key, payload, occurred_at, status)
		VALUES ($1, $2, $3, $4, NOW(), 'pending')
	`, uuid.New(), traceID, routingKey, body)
}
