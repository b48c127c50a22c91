package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ticketrush/onsale-service/internal/domain"
	appCtx "github.com/ticketrush/onsale-service/internal/pkg/context"
	"github.com/ticketrush/onsale-service/internal/service"
	"github.com/ticketrush/onsale-service/internal/transport/rest/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type Handler struct {
	room  *service.WaitingRoom
	sales *service.Sales
}

func NewHandler(room *service.WaitingRoom, sales *service.Sales) *Handler {
	return &Handler{room: room, sales: sales}
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid eventID", map[string]any{
			"event_id": "must be a valid uuid",
		})
		return
	}

	userID, ok := GetUser(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	token, err := h.room.Join(r.Context(), eventID, userID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid eventID", nil)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		fail(w, r, http.StatusBadRequest, "validation_error", "token query parameter is required", nil)
		return
	}

	view, err := h.room.Status(r.Context(), eventID, token)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, toStatusView(view))
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid eventID", nil)
		return
	}

	userID, ok := GetUser(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		TierID   string `json:"tier_id"`
		Quantity int    `json:"quantity"`
		Token    string `json:"token"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid body", nil)
		return
	}

	tierID, err := uuid.Parse(req.TierID)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid tier_id", map[string]any{
			"tier_id": "must be a valid uuid",
		})
		return
	}

	res, err := h.sales.Reserve(r.Context(), traceID(r), eventID, tierID, userID, strings.TrimSpace(req.Token), req.Quantity)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusCreated, toReservationView(res))
}

func (h *Handler) ActiveReservation(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid eventID", nil)
		return
	}

	userID, ok := GetUser(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	ar, err := h.sales.ActiveReservation(r.Context(), eventID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrReservationInvalid) {
			fail(w, r, http.StatusNotFound, "not_found", "no active reservation", nil)
			return
		}
		handleErr(w, r, err)
		return
	}

	view := toReservationView(ar.Reservation)
	view.TierName = ar.Tier.Name
	response.Data(w, http.StatusOK, view)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUser(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		fail(w, r, http.StatusBadRequest, "idempotency_key.required", "Idempotency-Key header is required for this operation", nil)
		return
	}

	var req struct {
		ReservationID string `json:"reservation_id"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid body", nil)
		return
	}

	reservationID, err := uuid.Parse(req.ReservationID)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid reservation_id", map[string]any{
			"reservation_id": "must be a valid uuid",
		})
		return
	}

	sess, created, err := h.sales.CreateSession(r.Context(), traceID(r), userID, reservationID, idempotencyKey)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Data(w, status, sessionView{
		ID:               sess.ID,
		ReservationID:    sess.ReservationID,
		Status:           string(sess.Status),
		IdempotentReplay: !created,
	})
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUser(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		CheckoutID string `json:"checkout_id"`
		Simulate   string `json:"simulate"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid body", nil)
		return
	}

	sessionID, err := uuid.Parse(req.CheckoutID)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid checkout_id", map[string]any{
			"checkout_id": "must be a valid uuid",
		})
		return
	}

	// Payment is an oracle supplied by the caller.
	var paid bool
	switch strings.TrimSpace(req.Simulate) {
	case "success":
		paid = true
	case "fail":
		paid = false
	default:
		fail(w, r, http.StatusBadRequest, "validation_error", "simulate must be \"success\" or \"fail\"", nil)
		return
	}

	result, settled, err := h.sales.Confirm(r.Context(), traceID(r), sessionID, userID, paid)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	status := http.StatusOK
	if settled {
		status = http.StatusCreated
	}
	response.Data(w, status, toConfirmView(result, !settled))
}

func (h *Handler) MyTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUser(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	tickets, err := h.sales.MyTickets(r.Context(), userID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	items := make([]ticketView, 0, len(tickets))
	for _, t := range tickets {
		items = append(items, toTicketView(t))
	}
	response.Data(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.sales.ListEvents(r.Context())
	if err != nil {
		handleErr(w, r, err)
		return
	}

	items := make([]eventView, 0, len(events))
	for _, e := range events {
		items = append(items, toEventView(e))
	}
	response.Data(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid eventID", nil)
		return
	}

	e, err := h.sales.GetEvent(r.Context(), eventID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toEventView(e))
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid eventID", nil)
		return
	}

	tiers, err := h.sales.Availability(r.Context(), eventID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"tiers": toAvailabilityViews(tiers)})
}

func (h *Handler) PauseEvent(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

func (h *Handler) ResumeEvent(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *Handler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid eventID", nil)
		return
	}

	e, err := h.sales.SetEventPaused(r.Context(), traceID(r), eventID, paused)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toEventView(e))
}

func (h *Handler) AdminStatus(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid eventID", nil)
		return
	}

	sum, err := h.sales.EventSummary(r.Context(), eventID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toSummaryView(sum))
}

func (h *Handler) ClearWaitingRoom(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "validation_error", "invalid eventID", nil)
		return
	}

	if err := h.room.Clear(r.Context(), eventID); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]string{"msg": "cleared"})
}

// handleErr is the single error boundary: every sentinel maps to one
// (status, code) pair so clients can switch on codes.
func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	var limitErr *domain.PurchaseLimitError

	switch {
	case errors.Is(err, domain.ErrValidation):
		fail(w, r, http.StatusBadRequest, "validation_error", err.Error(), nil)

	case errors.Is(err, domain.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		fail(w, r, http.StatusTooManyRequests, "rate_limited", err.Error(), map[string]any{
			"retry_after_seconds": 60,
		})

	case errors.Is(err, domain.ErrNotAdmitted):
		fail(w, r, http.StatusForbidden, "not_admitted", err.Error(), nil)
	case errors.Is(err, domain.ErrSalesPaused):
		fail(w, r, http.StatusForbidden, "sales_paused", err.Error(), nil)

	case errors.As(err, &limitErr):
		fail(w, r, http.StatusForbidden, "purchase_limit_exceeded", err.Error(), map[string]any{
			"limit":             limitErr.Limit,
			"already_purchased": limitErr.AlreadyPurchased,
			"actively_held":     limitErr.ActivelyHeld,
			"requested":         limitErr.Requested,
		})
	case errors.Is(err, domain.ErrPurchaseLimitExceeded):
		fail(w, r, http.StatusForbidden, "purchase_limit_exceeded", err.Error(), nil)

	case errors.Is(err, domain.ErrPerTierLimitExceeded):
		fail(w, r, http.StatusConflict, "per_tier_limit_exceeded", err.Error(), nil)
	case errors.Is(err, domain.ErrDoubleHold):
		fail(w, r, http.StatusConflict, "double_hold", err.Error(), nil)
	case errors.Is(err, domain.ErrInsufficientInventory):
		fail(w, r, http.StatusConflict, "insufficient_inventory", err.Error(), nil)
	case errors.Is(err, domain.ErrReservationInvalid):
		fail(w, r, http.StatusConflict, "reservation_expired_or_invalid", err.Error(), nil)
	case errors.Is(err, domain.ErrSessionStateMismatch):
		fail(w, r, http.StatusConflict, "session_state_mismatch", err.Error(), nil)

	case errors.Is(err, domain.ErrInvalidToken):
		fail(w, r, http.StatusNotFound, "invalid_token", err.Error(), nil)
	case errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrTierNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		fail(w, r, http.StatusNotFound, "not_found", err.Error(), nil)

	default:
		// Do not leak internal details by default.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]any) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}

func traceID(r *http.Request) string {
	id := appCtx.GetRequestID(r.Context())
	if id == "" {
		return "no-request-id"
	}
	return id
}
