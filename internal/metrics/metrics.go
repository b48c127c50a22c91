package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-local counters. These are the telemetry contract of the service;
// they are never used for control flow.
var (
	QueueJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onsale_queue_joins_total",
		Help: "Waiting-room join requests accepted.",
	})

	ReservationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onsale_reservations_created_total",
		Help: "Inventory holds created.",
	})

	OversellAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onsale_oversell_attempts_total",
		Help: "Reserve calls rejected for insufficient inventory.",
	})

	PurchaseLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onsale_purchase_limit_hits_total",
		Help: "Reserve calls rejected by the per-event purchase cap.",
	})

	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onsale_orders_created_total",
		Help: "Paid orders created.",
	})

	Confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onsale_confirmations_total",
		Help: "Checkout confirmations by outcome.",
	}, []string{"outcome"})

	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onsale_rate_limit_hits_total",
		Help: "Requests rejected by the rate limiter.",
	})

	TicketsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onsale_tickets_recovered_total",
		Help: "Tickets inserted by the recovery worker repair pass.",
	})

	HoldsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onsale_holds_expired_total",
		Help: "Reservations expired by the recovery worker.",
	})
)
