package rest

import (
	"time"

	"github.com/ticketrush/onsale-service/internal/domain"

	"github.com/google/uuid"
)

type eventView struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Venue    string    `json:"venue"`
	StartsAt time.Time `json:"starts_at"`
	OnSaleAt time.Time `json:"on_sale_at"`
	Status   string    `json:"status"`
	Paused   bool      `json:"paused"`
}

func toEventView(e domain.Event) eventView {
	return eventView{
		ID:       e.ID,
		Name:     e.Name,
		Venue:    e.Venue,
		StartsAt: e.StartsAt,
		OnSaleAt: e.OnSaleAt,
		Status:   string(e.Status),
		Paused:   e.Paused,
	}
}

type statusView struct {
	State              string    `json:"state"`
	OnSaleAt           time.Time `json:"on_sale_at"`
	SecondsUntilOnSale *int64    `json:"seconds_until_on_sale,omitempty"`
	Position           *int64    `json:"position,omitempty"`
	Total              *int64    `json:"total,omitempty"`
	CanEnter           *bool     `json:"can_enter,omitempty"`
	EtaSeconds         *int64    `json:"eta_seconds,omitempty"`
	Paused             *bool     `json:"paused,omitempty"`
}

func toStatusView(v domain.StatusView) statusView {
	out := statusView{State: string(v.State), OnSaleAt: v.OnSaleAt}
	if v.State == domain.QueueWaiting {
		out.SecondsUntilOnSale = &v.SecondsUntilOnSale
		return out
	}
	out.Position = &v.Position
	out.Total = &v.Total
	out.CanEnter = &v.CanEnter
	out.EtaSeconds = &v.EtaSeconds
	out.Paused = &v.Paused
	return out
}

type reservationView struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	TierID    uuid.UUID `json:"tier_id"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	TierName  string    `json:"tier_name,omitempty"`
}

func toReservationView(r domain.Reservation) reservationView {
	return reservationView{
		ID:        r.ID,
		EventID:   r.EventID,
		TierID:    r.TierID,
		Quantity:  r.Quantity,
		Status:    string(r.Status),
		ExpiresAt: r.ExpiresAt,
	}
}

type sessionView struct {
	ID               uuid.UUID `json:"id"`
	ReservationID    uuid.UUID `json:"reservation_id"`
	Status           string    `json:"status"`
	IdempotentReplay bool      `json:"idempotent_replay"`
}

type orderView struct {
	ID              uuid.UUID `json:"id"`
	EventID         uuid.UUID `json:"event_id"`
	TierID          uuid.UUID `json:"tier_id"`
	Quantity        int       `json:"quantity"`
	TotalPriceCents int64     `json:"total_price_cents"`
	Status          string    `json:"status"`
}

type ticketView struct {
	ID      uuid.UUID `json:"id"`
	OrderID uuid.UUID `json:"order_id"`
	EventID uuid.UUID `json:"event_id"`
	TierID  uuid.UUID `json:"tier_id"`
	Code    string    `json:"code"`
	QRSig   string    `json:"qr_sig"`
}

func toTicketView(t domain.Ticket) ticketView {
	return ticketView{
		ID:      t.ID,
		OrderID: t.OrderID,
		EventID: t.EventID,
		TierID:  t.TierID,
		Code:    t.Code,
		QRSig:   t.QRSig,
	}
}

type confirmView struct {
	SessionID        uuid.UUID       `json:"session_id"`
	SessionStatus    string          `json:"session_status"`
	Reservation      reservationView `json:"reservation"`
	Order            *orderView      `json:"order,omitempty"`
	Tickets          []ticketView    `json:"tickets,omitempty"`
	IdempotentReplay bool            `json:"idempotent_replay"`
}

func toConfirmView(res domain.ConfirmResult, replay bool) confirmView {
	out := confirmView{
		SessionID:        res.Session.ID,
		SessionStatus:    string(res.Session.Status),
		Reservation:      toReservationView(res.Reservation),
		IdempotentReplay: replay,
	}
	if res.Order != nil {
		out.Order = &orderView{
			ID:              res.Order.ID,
			EventID:         res.Order.EventID,
			TierID:          res.Order.TierID,
			Quantity:        res.Order.Quantity,
			TotalPriceCents: res.Order.TotalPriceCents,
			Status:          string(res.Order.Status),
		}
		for _, t := range res.Tickets {
			out.Tickets = append(out.Tickets, toTicketView(t))
		}
	}
	return out
}

type tierAvailabilityView struct {
	TierID       uuid.UUID `json:"tier_id"`
	Name         string    `json:"name"`
	PriceCents   int64     `json:"price_cents"`
	Capacity     int       `json:"capacity"`
	PerUserLimit int       `json:"per_user_limit"`
	Reserved     int       `json:"reserved"`
	Sold         int       `json:"sold"`
	Available    int       `json:"available"`
}

func toAvailabilityViews(tiers []domain.TierAvailability) []tierAvailabilityView {
	out := make([]tierAvailabilityView, 0, len(tiers))
	for _, ta := range tiers {
		out = append(out, tierAvailabilityView{
			TierID:       ta.Tier.ID,
			Name:         ta.Tier.Name,
			PriceCents:   ta.Tier.PriceCents,
			Capacity:     ta.Tier.Capacity,
			PerUserLimit: ta.Tier.PerUserLimit,
			Reserved:     ta.Reserved,
			Sold:         ta.Sold,
			Available:    ta.Available,
		})
	}
	return out
}

type summaryView struct {
	Event           eventView              `json:"event"`
	Tiers           []tierAvailabilityView `json:"tiers"`
	QueueLength     int64                  `json:"queue_length"`
	ActiveHolds     int                    `json:"active_holds"`
	PendingSessions int                    `json:"pending_sessions"`
	OrdersPaid      int                    `json:"orders_paid"`
	TicketsIssued   int                    `json:"tickets_issued"`
}

func toSummaryView(s domain.EventSummary) summaryView {
	return summaryView{
		Event:           toEventView(s.Event),
		Tiers:           toAvailabilityViews(s.Tiers),
		QueueLength:     s.QueueLength,
		ActiveHolds:     s.ActiveHolds,
		PendingSessions: s.PendingSessions,
		OrdersPaid:      s.OrdersPaid,
		TicketsIssued:   s.TicketsIssued,
	}
}
