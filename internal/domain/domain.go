package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventScheduled EventStatus = "scheduled"
	EventOnSale    EventStatus = "on_sale"
	EventClosed    EventStatus = "closed"
	EventCanceled  EventStatus = "canceled"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationExpired   ReservationStatus = "expired"
	ReservationConverted ReservationStatus = "converted"
	ReservationCanceled  ReservationStatus = "canceled"
)

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

type OrderStatus string

const (
	OrderPaid     OrderStatus = "paid"
	OrderRefunded OrderStatus = "refunded"
	OrderCanceled OrderStatus = "canceled"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrTierNotFound  = errors.New("tier not found")
	ErrSalesPaused   = errors.New("sales are paused for this event")

	ErrInvalidToken = errors.New("queue token is invalid or expired")
	ErrNotAdmitted  = errors.New("token has no admission grant")

	ErrPerTierLimitExceeded  = errors.New("quantity exceeds the per-tier limit")
	ErrDoubleHold            = errors.New("an active reservation already exists for this user and event")
	ErrInsufficientInventory = errors.New("insufficient inventory")

	ErrReservationInvalid    = errors.New("reservation expired or invalid")
	ErrSessionNotFound       = errors.New("checkout session not found")
	ErrSessionStateMismatch  = errors.New("checkout session is not pending")
	ErrPurchaseLimitExceeded = errors.New("per-event purchase limit exceeded")

	ErrRateLimited = errors.New("rate limited")
	ErrValidation  = errors.New("validation error")

	ErrCacheMiss = errors.New("cache miss")
)

// PurchaseLimitError carries the breakdown surfaced to the buyer when the
// per-event cap would be exceeded. errors.Is(err, ErrPurchaseLimitExceeded)
// holds for values of this type.
type PurchaseLimitError struct {
	Limit            int
	AlreadyPurchased int
	ActivelyHeld     int
	Requested        int
}

func (e *PurchaseLimitError) Error() string {
	return fmt.Sprintf("per-event purchase limit exceeded: limit=%d purchased=%d held=%d requested=%d",
		e.Limit, e.AlreadyPurchased, e.ActivelyHeld, e.Requested)
}

func (e *PurchaseLimitError) Is(target error) bool {
	return target == ErrPurchaseLimitExceeded
}

type Event struct {
	ID        uuid.UUID
	Name      string
	Venue     string
	StartsAt  time.Time
	OnSaleAt  time.Time
	Status    EventStatus
	Paused    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Visible reports whether buyers may see the event at all.
func (e Event) Visible() bool {
	return e.Status != EventDraft
}

type Tier struct {
	ID           uuid.UUID
	EventID      uuid.UUID
	Name         string
	PriceCents   int64
	Capacity     int
	PerUserLimit int
}

type Reservation struct {
	ID        uuid.UUID
	EventID   uuid.UUID
	TierID    uuid.UUID
	UserID    string
	Quantity  int
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Live reports whether the reservation still counts toward occupied inventory.
func (r Reservation) Live(now time.Time) bool {
	return r.Status == ReservationActive && r.ExpiresAt.After(now)
}

// ActiveReservation is a reservation joined with its tier for display.
type ActiveReservation struct {
	Reservation
	Tier Tier
}

type CheckoutSession struct {
	ID             uuid.UUID
	ReservationID  uuid.UUID
	UserID         string
	IdempotencyKey string
	Status         SessionStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Order struct {
	ID              uuid.UUID
	SessionID       uuid.UUID
	EventID         uuid.UUID
	TierID          uuid.UUID
	UserID          string
	Quantity        int
	TotalPriceCents int64
	Status          OrderStatus
	CreatedAt       time.Time
}

type Ticket struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	EventID   uuid.UUID
	TierID    uuid.UUID
	UserID    string
	Code      string
	QRSig     string
	CreatedAt time.Time
}

// ConfirmResult is everything a confirm call returns: the session and
// reservation in their final states, plus the order and tickets when the
// payment settled (nil otherwise).
type ConfirmResult struct {
	Session     CheckoutSession
	Reservation Reservation
	Order       *Order
	Tickets     []Ticket
}

type TierAvailability struct {
	Tier      Tier
	Reserved  int
	Sold      int
	Available int
}

// EventSummary is the admin view: inventory plus pipeline counts.
type EventSummary struct {
	Event           Event
	Tiers           []TierAvailability
	QueueLength     int64
	ActiveHolds     int
	PendingSessions int
	OrdersPaid      int
	TicketsIssued   int
}

// QueueState is the buyer-facing waiting room state.
type QueueState string

const (
	QueueWaiting  QueueState = "waiting"
	QueueSaleOpen QueueState = "sale_open"
)

// StatusView is the polled waiting-room status. Before on-sale only the
// countdown fields are meaningful; after on-sale the position fields are.
type StatusView struct {
	State              QueueState
	OnSaleAt           time.Time
	SecondsUntilOnSale int64
	Position           int64
	Total              int64
	CanEnter           bool
	EtaSeconds         int64
	Paused             bool
}

// SaleRepository is the durable store: the single source of truth for
// events, tiers, reservations, sessions, orders and tickets.
type SaleRepository interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (Event, error)
	ListEvents(ctx context.Context) ([]Event, error)
	Availability(ctx context.Context, eventID uuid.UUID) ([]TierAvailability, error)

	Reserve(ctx context.Context, traceID string, eventID, tierID uuid.UUID, userID string, quantity int) (Reservation, error)
	ActiveReservationFor(ctx context.Context, eventID uuid.UUID, userID string) (ActiveReservation, error)

	// CreateSession returns the session and whether this call created it
	// (false means an idempotent replay).
	CreateSession(ctx context.Context, traceID, userID string, reservationID uuid.UUID, idempotencyKey string) (CheckoutSession, bool, error)
	// ConfirmCheckout settles the session. The bool is false on idempotent
	// replay of an already-settled session.
	ConfirmCheckout(ctx context.Context, traceID string, sessionID uuid.UUID, userID string, paid bool) (ConfirmResult, bool, error)

	ListUserTickets(ctx context.Context, userID string) ([]Ticket, error)

	SetEventPaused(ctx context.Context, traceID string, eventID uuid.UUID, paused bool) (Event, error)
	EventSummary(ctx context.Context, eventID uuid.UUID) (EventSummary, error)
}

// WaitingRoomCache is the ephemeral store behind the admission queue. All of
// its state is reconstructible or short-lived; losing it loses the waiting
// room, never inventory.
type WaitingRoomCache interface {
	Enqueue(ctx context.Context, eventID uuid.UUID, token, userID string, joinedAt time.Time, tokenTTL time.Duration) error
	// TokenUser resolves the joined user for a token, or ErrInvalidToken.
	TokenUser(ctx context.Context, eventID uuid.UUID, token string) (string, error)
	// Position returns the 1-indexed rank of the token and the set size.
	Position(ctx context.Context, eventID uuid.UUID, token string) (position, total int64, err error)
	// AdvanceWave applies the wave-cursor algorithm atomically and returns
	// the (possibly advanced) cursor. Concurrent callers observe one total
	// order of cursor values.
	AdvanceWave(ctx context.Context, eventID uuid.UUID, total int64, now time.Time, waveSize int, waveInterval time.Duration) (int64, error)
	GrantAdmission(ctx context.Context, eventID uuid.UUID, token string, ttl time.Duration) error
	HasAdmission(ctx context.Context, eventID uuid.UUID, token string) (bool, error)
	ClearQueue(ctx context.Context, eventID uuid.UUID) error
	QueueLength(ctx context.Context, eventID uuid.UUID) (int64, error)

	// AllowRequest is a fixed-window limiter. It fails open: on cache
	// errors the request is allowed.
	AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
