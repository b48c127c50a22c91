package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ticketrush/onsale-service/internal/domain"
	"github.com/ticketrush/onsale-service/internal/service"
	"github.com/ticketrush/onsale-service/internal/transport/rest/response"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	getEventFn   func(ctx context.Context, eventID uuid.UUID) (domain.Event, error)
	reserveFn    func(ctx context.Context, traceID string, eventID, tierID uuid.UUID, userID string, quantity int) (domain.Reservation, error)
	activeFn     func(ctx context.Context, eventID uuid.UUID, userID string) (domain.ActiveReservation, error)
	createSessFn func(ctx context.Context, traceID, userID string, reservationID uuid.UUID, key string) (domain.CheckoutSession, bool, error)
	confirmFn    func(ctx context.Context, traceID string, sessionID uuid.UUID, userID string, paid bool) (domain.ConfirmResult, bool, error)
	setPausedFn  func(ctx context.Context, traceID string, eventID uuid.UUID, paused bool) (domain.Event, error)
	ticketsFn    func(ctx context.Context, userID string) ([]domain.Ticket, error)
}

func (r *fakeRepo) GetEvent(ctx context.Context, eventID uuid.UUID) (domain.Event, error) {
	if r.getEventFn == nil {
		return domain.Event{}, errors.New("not implemented")
	}
	return r.getEventFn(ctx, eventID)
}
func (r *fakeRepo) ListEvents(ctx context.Context) ([]domain.Event, error) { return nil, nil }
func (r *fakeRepo) Availability(ctx context.Context, eventID uuid.UUID) ([]domain.TierAvailability, error) {
	return nil, nil
}
func (r *fakeRepo) Reserve(ctx context.Context, traceID string, eventID, tierID uuid.UUID, userID string, quantity int) (domain.Reservation, error) {
	if r.reserveFn == nil {
		return domain.Reservation{}, errors.New("not implemented")
	}
	return r.reserveFn(ctx, traceID, eventID, tierID, userID, quantity)
}
func (r *fakeRepo) ActiveReservationFor(ctx context.Context, eventID uuid.UUID, userID string) (domain.ActiveReservation, error) {
	if r.activeFn == nil {
		return domain.ActiveReservation{}, domain.ErrReservationInvalid
	}
	return r.activeFn(ctx, eventID, userID)
}
func (r *fakeRepo) CreateSession(ctx context.Context, traceID, userID string, reservationID uuid.UUID, key string) (domain.CheckoutSession, bool, error) {
	if r.createSessFn == nil {
		return domain.CheckoutSession{}, false, errors.New("not implemented")
	}
	return r.createSessFn(ctx, traceID, userID, reservationID, key)
}
func (r *fakeRepo) ConfirmCheckout(ctx context.Context, traceID string, sessionID uuid.UUID, userID string, paid bool) (domain.ConfirmResult, bool, error) {
	if r.confirmFn == nil {
		return domain.ConfirmResult{}, false, errors.New("not implemented")
	}
	return r.confirmFn(ctx, traceID, sessionID, userID, paid)
}
func (r *fakeRepo) ListUserTickets(ctx context.Context, userID string) ([]domain.Ticket, error) {
	if r.ticketsFn == nil {
		return nil, nil
	}
	return r.ticketsFn(ctx, userID)
}
func (r *fakeRepo) SetEventPaused(ctx context.Context, traceID string, eventID uuid.UUID, paused bool) (domain.Event, error) {
	if r.setPausedFn == nil {
		return domain.Event{}, errors.New("not implemented")
	}
	return r.setPausedFn(ctx, traceID, eventID, paused)
}
func (r *fakeRepo) EventSummary(ctx context.Context, eventID uuid.UUID) (domain.EventSummary, error) {
	return domain.EventSummary{}, nil
}

type fakeCache struct {
	allow    bool
	admitted bool
	tokens   map[string]string
	position int64
	total    int64
	waveEnd  int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{allow: true, tokens: map[string]string{}}
}

func (c *fakeCache) Enqueue(ctx context.Context, eventID uuid.UUID, token, userID string, joinedAt time.Time, ttl time.Duration) error {
	c.tokens[token] = userID
	return nil
}
func (c *fakeCache) TokenUser(ctx context.Context, eventID uuid.UUID, token string) (string, error) {
	uid, ok := c.tokens[token]
	if !ok {
		return "", domain.ErrInvalidToken
	}
	return uid, nil
}
func (c *fakeCache) Position(ctx context.Context, eventID uuid.UUID, token string) (int64, int64, error) {
	return c.position, c.total, nil
}
func (c *fakeCache) AdvanceWave(ctx context.Context, eventID uuid.UUID, total int64, now time.Time, waveSize int, waveInterval time.Duration) (int64, error) {
	return c.waveEnd, nil
}
func (c *fakeCache) GrantAdmission(ctx context.Context, eventID uuid.UUID, token string, ttl time.Duration) error {
	c.admitted = true
	return nil
}
func (c *fakeCache) HasAdmission(ctx context.Context, eventID uuid.UUID, token string) (bool, error) {
	return c.admitted, nil
}
func (c *fakeCache) ClearQueue(ctx context.Context, eventID uuid.UUID) error { return nil }
func (c *fakeCache) QueueLength(ctx context.Context, eventID uuid.UUID) (int64, error) {
	return c.total, nil
}
func (c *fakeCache) AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return c.allow, nil
}

func newTestRouter(repo *fakeRepo, cache *fakeCache) http.Handler {
	room := service.NewWaitingRoom(repo, cache, service.WaitingRoomConfig{
		TokenTTL:     time.Hour,
		AdmissionTTL: 180 * time.Second,
		WaveSize:     100,
		WaveInterval: 30 * time.Second,
	}, nil)
	sales := service.NewSales(repo, cache, service.SalesConfig{
		SessionRateLimit: 5,
		ConfirmRateLimit: 10,
		RateWindow:       time.Minute,
	}, nil)

	return NewRouter(RouterDeps{
		Cache:       cache,
		Handler:     NewHandler(room, sales),
		JoinRLLimit: 10,
	})
}

func doJSON(t *testing.T, h http.Handler, method, path, userID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) response.ErrorPayload {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestJoin_RequiresIdentity(t *testing.T) {
	h := newTestRouter(&fakeRepo{}, newFakeCache())

	rec := doJSON(t, h, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/waiting-room/join", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "auth.unauthorized", decodeError(t, rec).Code)
}

func TestJoin_ReturnsToken(t *testing.T) {
	eventID := uuid.New()
	repo := &fakeRepo{
		getEventFn: func(ctx context.Context, id uuid.UUID) (domain.Event, error) {
			return domain.Event{ID: id, Status: domain.EventOnSale, OnSaleAt: time.Now().Add(time.Hour)}, nil
		},
	}
	h := newTestRouter(repo, newFakeCache())

	rec := doJSON(t, h, http.MethodPost, "/api/v1/events/"+eventID.String()+"/waiting-room/join", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, err := uuid.Parse(body.Data.Token)
	require.NoError(t, err)
}

func TestJoin_RateLimited(t *testing.T) {
	cache := newFakeCache()
	cache.allow = false
	h := newTestRouter(&fakeRepo{}, cache)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/waiting-room/join", "user-1", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	e := decodeError(t, rec)
	require.Equal(t, "rate_limited", e.Code)
	require.EqualValues(t, 60, e.Meta["retry_after_seconds"])
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestStatus_InvalidToken(t *testing.T) {
	eventID := uuid.New()
	repo := &fakeRepo{
		getEventFn: func(ctx context.Context, id uuid.UUID) (domain.Event, error) {
			return domain.Event{ID: id, Status: domain.EventOnSale, OnSaleAt: time.Now().Add(-time.Minute)}, nil
		},
	}
	h := newTestRouter(repo, newFakeCache())

	rec := doJSON(t, h, http.MethodGet, "/api/v1/events/"+eventID.String()+"/waiting-room/status?token=nope", "user-1", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "invalid_token", decodeError(t, rec).Code)
}

func TestStatus_MissingToken(t *testing.T) {
	h := newTestRouter(&fakeRepo{}, newFakeCache())

	rec := doJSON(t, h, http.MethodGet, "/api/v1/events/"+uuid.NewString()+"/waiting-room/status", "user-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_error", decodeError(t, rec).Code)
}

func TestReserve_NotAdmitted(t *testing.T) {
	h := newTestRouter(&fakeRepo{}, newFakeCache())

	rec := doJSON(t, h, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/reservations", "user-1", map[string]any{
		"tier_id":  uuid.NewString(),
		"quantity": 2,
		"token":    "tok",
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "not_admitted", decodeError(t, rec).Code)
}

func TestReserve_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"insufficient inventory", domain.ErrInsufficientInventory, http.StatusConflict, "insufficient_inventory"},
		{"double hold", domain.ErrDoubleHold, http.StatusConflict, "double_hold"},
		{"per-tier limit", domain.ErrPerTierLimitExceeded, http.StatusConflict, "per_tier_limit_exceeded"},
		{"paused", domain.ErrSalesPaused, http.StatusForbidden, "sales_paused"},
		{"not found", domain.ErrEventNotFound, http.StatusNotFound, "not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := newFakeCache()
			cache.admitted = true
			repo := &fakeRepo{
				reserveFn: func(ctx context.Context, tid string, e, tr uuid.UUID, u string, q int) (domain.Reservation, error) {
					return domain.Reservation{}, tc.err
				},
			}
			h := newTestRouter(repo, cache)

			rec := doJSON(t, h, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/reservations", "user-1", map[string]any{
				"tier_id":  uuid.NewString(),
				"quantity": 1,
				"token":    "tok",
			}, nil)
			require.Equal(t, tc.wantStatus, rec.Code)
			require.Equal(t, tc.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestReserve_PurchaseLimitBreakdown(t *testing.T) {
	cache := newFakeCache()
	cache.admitted = true
	repo := &fakeRepo{
		reserveFn: func(ctx context.Context, tid string, e, tr uuid.UUID, u string, q int) (domain.Reservation, error) {
			return domain.Reservation{}, &domain.PurchaseLimitError{Limit: 6, AlreadyPurchased: 3, ActivelyHeld: 2, Requested: 2}
		},
	}
	h := newTestRouter(repo, cache)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/reservations", "user-1", map[string]any{
		"tier_id":  uuid.NewString(),
		"quantity": 2,
		"token":    "tok",
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	e := decodeError(t, rec)
	require.Equal(t, "purchase_limit_exceeded", e.Code)
	require.EqualValues(t, 6, e.Meta["limit"])
	require.EqualValues(t, 3, e.Meta["already_purchased"])
	require.EqualValues(t, 2, e.Meta["actively_held"])
	require.EqualValues(t, 2, e.Meta["requested"])
}

func TestReserve_Created(t *testing.T) {
	cache := newFakeCache()
	cache.admitted = true
	resID := uuid.New()
	repo := &fakeRepo{
		reserveFn: func(ctx context.Context, tid string, e, tr uuid.UUID, u string, q int) (domain.Reservation, error) {
			return domain.Reservation{ID: resID, EventID: e, TierID: tr, Quantity: q, Status: domain.ReservationActive, ExpiresAt: time.Now().Add(3 * time.Minute)}, nil
		},
	}
	h := newTestRouter(repo, cache)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/reservations", "user-1", map[string]any{
		"tier_id":  uuid.NewString(),
		"quantity": 2,
		"token":    "tok",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateSession_RequiresIdempotencyKey(t *testing.T) {
	h := newTestRouter(&fakeRepo{}, newFakeCache())

	rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout/sessions", "user-1", map[string]any{
		"reservation_id": uuid.NewString(),
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "idempotency_key.required", decodeError(t, rec).Code)
}

func TestCreateSession_NewVersusReplay(t *testing.T) {
	sessID := uuid.New()
	created := true
	repo := &fakeRepo{
		createSessFn: func(ctx context.Context, tid, u string, rid uuid.UUID, key string) (domain.CheckoutSession, bool, error) {
			return domain.CheckoutSession{ID: sessID, ReservationID: rid, Status: domain.SessionPending}, created, nil
		},
	}
	h := newTestRouter(repo, newFakeCache())

	body := map[string]any{"reservation_id": uuid.NewString()}
	headers := map[string]string{"Idempotency-Key": "key-1"}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout/sessions", "user-1", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code)

	created = false
	rec = doJSON(t, h, http.MethodPost, "/api/v1/checkout/sessions", "user-1", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			ID               uuid.UUID `json:"id"`
			IdempotentReplay bool      `json:"idempotent_replay"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, sessID, resp.Data.ID)
	require.True(t, resp.Data.IdempotentReplay)
}

func TestConfirm_SimulateValidation(t *testing.T) {
	h := newTestRouter(&fakeRepo{}, newFakeCache())

	rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout/confirm", "user-1", map[string]any{
		"checkout_id": uuid.NewString(),
		"simulate":    "maybe",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_error", decodeError(t, rec).Code)
}

func TestConfirm_SettledVersusReplay(t *testing.T) {
	sessionID := uuid.New()
	settled := true
	repo := &fakeRepo{
		confirmFn: func(ctx context.Context, tid string, sid uuid.UUID, u string, paid bool) (domain.ConfirmResult, bool, error) {
			order := domain.Order{ID: uuid.New(), Quantity: 1, Status: domain.OrderPaid}
			return domain.ConfirmResult{
				Session:     domain.CheckoutSession{ID: sid, Status: domain.SessionCompleted},
				Reservation: domain.Reservation{Status: domain.ReservationConverted},
				Order:       &order,
				Tickets:     []domain.Ticket{{ID: uuid.New(), OrderID: order.ID, Code: "c1", QRSig: "sig"}},
			}, settled, nil
		},
	}
	h := newTestRouter(repo, newFakeCache())

	body := map[string]any{"checkout_id": sessionID.String(), "simulate": "success"}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout/confirm", "user-1", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	settled = false
	rec = doJSON(t, h, http.MethodPost, "/api/v1/checkout/confirm", "user-1", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			IdempotentReplay bool `json:"idempotent_replay"`
			Tickets          []struct {
				Code string `json:"code"`
			} `json:"tickets"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Data.IdempotentReplay)
	require.Len(t, resp.Data.Tickets, 1)
}

func TestMyTickets_ReturnsCallerTickets(t *testing.T) {
	orderID := uuid.New()
	repo := &fakeRepo{
		ticketsFn: func(ctx context.Context, userID string) ([]domain.Ticket, error) {
			require.Equal(t, "user-1", userID)
			return []domain.Ticket{
				{ID: uuid.New(), OrderID: orderID, EventID: uuid.New(), TierID: uuid.New(), Code: uuid.NewString(), QRSig: "sig-a"},
				{ID: uuid.New(), OrderID: orderID, EventID: uuid.New(), TierID: uuid.New(), Code: uuid.NewString(), QRSig: "sig-b"},
			}, nil
		},
	}
	h := newTestRouter(repo, newFakeCache())

	rec := doJSON(t, h, http.MethodGet, "/api/v1/me/tickets", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Items []struct {
				OrderID uuid.UUID `json:"order_id"`
				Code    string    `json:"code"`
				QRSig   string    `json:"qr_sig"`
			} `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Items, 2)
	for _, item := range resp.Data.Items {
		require.Equal(t, orderID, item.OrderID)
		require.NotEmpty(t, item.Code)
		require.NotEmpty(t, item.QRSig)
	}
}

func TestMyTickets_EmptyListIsOK(t *testing.T) {
	h := newTestRouter(&fakeRepo{}, newFakeCache())

	rec := doJSON(t, h, http.MethodGet, "/api/v1/me/tickets", "user-2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Items []any `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data.Items)
	require.Empty(t, resp.Data.Items)
}

func TestConfirm_SessionErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", domain.ErrSessionNotFound, http.StatusNotFound, "not_found"},
		{"state mismatch", domain.ErrSessionStateMismatch, http.StatusConflict, "session_state_mismatch"},
		{"dead reservation", domain.ErrReservationInvalid, http.StatusConflict, "reservation_expired_or_invalid"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepo{
				confirmFn: func(ctx context.Context, tid string, sid uuid.UUID, u string, paid bool) (domain.ConfirmResult, bool, error) {
					return domain.ConfirmResult{}, false, tc.err
				},
			}
			h := newTestRouter(repo, newFakeCache())

			rec := doJSON(t, h, http.MethodPost, "/api/v1/checkout/confirm", "user-1", map[string]any{
				"checkout_id": uuid.NewString(),
				"simulate":    "success",
			}, nil)
			require.Equal(t, tc.wantStatus, rec.Code)
			require.Equal(t, tc.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestGetEvent_DraftHidden(t *testing.T) {
	repo := &fakeRepo{
		getEventFn: func(ctx context.Context, id uuid.UUID) (domain.Event, error) {
			return domain.Event{ID: id, Status: domain.EventDraft}, nil
		},
	}
	h := newTestRouter(repo, newFakeCache())

	rec := doJSON(t, h, http.MethodGet, "/api/v1/events/"+uuid.NewString(), "user-1", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeError(t, rec).Code)
}

func TestAdminPause(t *testing.T) {
	repo := &fakeRepo{
		setPausedFn: func(ctx context.Context, tid string, id uuid.UUID, paused bool) (domain.Event, error) {
			return domain.Event{ID: id, Status: domain.EventOnSale, Paused: paused}, nil
		},
	}
	h := newTestRouter(repo, newFakeCache())

	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/events/"+uuid.NewString()+"/pause", "admin-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Paused bool `json:"paused"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Data.Paused)
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	h := newTestRouter(&fakeRepo{}, newFakeCache())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "rid-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "rid-123", rec.Header().Get("X-Request-Id"))
}
