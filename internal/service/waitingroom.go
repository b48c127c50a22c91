package service

import (
	"context"
	"time"

	"github.com/ticketrush/onsale-service/internal/audit"
	"github.com/ticketrush/onsale-service/internal/domain"
	"github.com/ticketrush/onsale-service/internal/metrics"

	"github.com/google/uuid"
)

type WaitingRoomConfig struct {
	TokenTTL     time.Duration
	AdmissionTTL time.Duration
	WaveSize     int
	WaveInterval time.Duration
}

// WaitingRoom is the admission queue: joins before and during sale, stable
// positions once sale opens, and poll-driven wave releases.
type WaitingRoom struct {
	repo  domain.SaleRepository
	cache domain.WaitingRoomCache
	cfg   WaitingRoomConfig
	audit *audit.Logger

	now func() time.Time
}

func NewWaitingRoom(repo domain.SaleRepository, cache domain.WaitingRoomCache, cfg WaitingRoomConfig, auditLog *audit.Logger) *WaitingRoom {
	return &WaitingRoom{
		repo:  repo,
		cache: cache,
		cfg:   cfg,
		audit: auditLog,
		now:   time.Now,
	}
}

// Join mints a fresh opaque token and appends it to the event's queue.
// Draft events are invisible; joining them is indistinguishable from joining
// a missing one.
func (w *WaitingRoom) Join(ctx context.Context, eventID uuid.UUID, userID string) (string, error) {
	if userID == "" {
		return "", domain.ErrValidation
	}

	event, err := w.repo.GetEvent(ctx, eventID)
	if err != nil {
		return "", err
	}
	if !event.Visible() {
		return "", domain.ErrEventNotFound
	}

	token := uuid.NewString()
	if err := w.cache.Enqueue(ctx, eventID, token, userID, w.now(), w.cfg.TokenTTL); err != nil {
		return "", err
	}

	metrics.QueueJoins.Inc()
	if w.audit != nil {
		w.audit.QueueJoined(ctx, eventID, token, userID)
	}
	return token, nil
}

// Status is the poll endpoint and the only driver of wave advancement.
// When the caller's position falls inside the admitted band (and the event
// is not paused), a short-lived admission grant is written as a side effect.
func (w *WaitingRoom) Status(ctx context.Context, eventID uuid.UUID, token string) (domain.StatusView, error) {
	event, err := w.repo.GetEvent(ctx, eventID)
	if err != nil {
		return domain.StatusView{}, err
	}
	if !event.Visible() {
		return domain.StatusView{}, domain.ErrEventNotFound
	}

	if _, err := w.cache.TokenUser(ctx, eventID, token); err != nil {
		return domain.StatusView{}, err
	}

	now := w.now()
	if now.Before(event.OnSaleAt) {
		return domain.StatusView{
			State:              domain.QueueWaiting,
			OnSaleAt:           event.OnSaleAt,
			SecondsUntilOnSale: int64(event.OnSaleAt.Sub(now) / time.Second),
		}, nil
	}

	position, total, err := w.cache.Position(ctx, eventID, token)
	if err != nil {
		return domain.StatusView{}, err
	}

	waveEnd, err := w.cache.AdvanceWave(ctx, eventID, total, now, w.cfg.WaveSize, w.cfg.WaveInterval)
	if err != nil {
		return domain.StatusView{}, err
	}

	canEnter := domain.CanEnter(position, waveEnd, event.Paused)
	if canEnter {
		if err := w.cache.GrantAdmission(ctx, eventID, token, w.cfg.AdmissionTTL); err != nil {
			return domain.StatusView{}, err
		}
		if w.audit != nil {
			w.audit.AdmissionGranted(ctx, eventID, token, position)
		}
	}

	return domain.StatusView{
		State:      domain.QueueSaleOpen,
		OnSaleAt:   event.OnSaleAt,
		Position:   position,
		Total:      total,
		CanEnter:   canEnter,
		EtaSeconds: domain.WaveEta(position, waveEnd, w.cfg.WaveSize, w.cfg.WaveInterval),
		Paused:     event.Paused,
	}, nil
}

// Clear is the administrative reset: queue, wave cursor and token records
// are dropped. Outstanding admission grants run out their own TTL.
func (w *WaitingRoom) Clear(ctx context.Context, eventID uuid.UUID) error {
	if _, err := w.repo.GetEvent(ctx, eventID); err != nil {
		return err
	}
	if err := w.cache.ClearQueue(ctx, eventID); err != nil {
		return err
	}
	if w.audit != nil {
		w.audit.QueueCleared(ctx, eventID)
	}
	return nil
}
