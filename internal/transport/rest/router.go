package rest

import (
	"net/http"

	"github.com/ticketrush/onsale-service/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Cache       domain.WaitingRoomCache
	Handler     *Handler
	JoinRLLimit int
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Cache == nil {
		panic("rest.NewRouter: nil cache")
	}
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.JoinRLLimit <= 0 {
		d.JoinRLLimit = 10
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	r.Use(SecurityHeaders)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Identity)

		// waiting room
		r.With(JoinRateLimit(d.Cache, d.JoinRLLimit)).
			Post("/events/{eventID}/waiting-room/join", d.Handler.Join)
		r.Get("/events/{eventID}/waiting-room/status", d.Handler.QueueStatus)

		// reservations
		r.Post("/events/{eventID}/reservations", d.Handler.Reserve)
		r.Get("/events/{eventID}/reservations", d.Handler.ActiveReservation)

		// checkout
		r.Post("/checkout/sessions", d.Handler.CreateSession)
		r.Post("/checkout/confirm", d.Handler.Confirm)

		// reads
		r.Get("/me/tickets", d.Handler.MyTickets)
		r.Get("/events", d.Handler.ListEvents)
		r.Get("/events/{eventID}", d.Handler.GetEvent)
		r.Get("/events/{eventID}/availability", d.Handler.Availability)

		// admin
		r.Post("/admin/events/{eventID}/pause", d.Handler.PauseEvent)
		r.Post("/admin/events/{eventID}/resume", d.Handler.ResumeEvent)
		r.Get("/admin/events/{eventID}/status", d.Handler.AdminStatus)
		r.Post("/admin/events/{eventID}/waiting-room/clear", d.Handler.ClearWaitingRoom)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
