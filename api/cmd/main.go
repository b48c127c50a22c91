package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ticketrush/onsale-service/internal/audit"
	"github.com/ticketrush/onsale-service/internal/config"
	"github.com/ticketrush/onsale-service/internal/infrastructure/postgres"
	"github.com/ticketrush/onsale-service/internal/infrastructure/redis"
	"github.com/ticketrush/onsale-service/internal/pkg/logger"
	"github.com/ticketrush/onsale-service/internal/security"
	"github.com/ticketrush/onsale-service/internal/service"
	"github.com/ticketrush/onsale-service/internal/transport/rest"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "onsale-service").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	auditLog := audit.New(log)
	signer := security.NewTicketSigner(cfg.QRSecret)
	store := postgres.New(dbPool, signer, cfg.ReservationTTL, cfg.EventPurchaseLimit, auditLog)

	if err := store.InitSchema(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("schema bootstrap failed")
	}

	// ---- Redis ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort ping; the waiting room degrades, it doesn't crash.
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Application services ----
	room := service.NewWaitingRoom(store, cache, service.WaitingRoomConfig{
		TokenTTL:     cfg.TokenTTL,
		AdmissionTTL: cfg.AdmissionTTL,
		WaveSize:     cfg.WaveSize,
		WaveInterval: cfg.WaveInterval,
	}, auditLog)

	sales := service.NewSales(store, cache, service.SalesConfig{
		SessionRateLimit: cfg.SessionRLLimit,
		ConfirmRateLimit: cfg.ConfirmRLLimit,
		RateWindow:       time.Minute,
	}, auditLog)

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Cache:       cache,
		Handler:     rest.NewHandler(room, sales),
		JoinRLLimit: cfg.JoinRLLimit,
	})

	// ---- Background loops ----
	store.StartRecoveryWorker(rootCtx, cfg.RecoveryInterval)
	log.Info().Dur("interval", cfg.RecoveryInterval).Msg("recovery worker started")

	if cfg.OutboxEnabled {
		store.StartOutboxWorker(rootCtx, cfg.RabbitURL, cfg.RabbitExchange)
		log.Info().Msg("outbox worker started")
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
