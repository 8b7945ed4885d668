package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"careswitch/agency"
	"careswitch/audit"
	"careswitch/auth"
	"careswitch/config"
	"careswitch/db"
	"careswitch/notify"
	"careswitch/patient"
	"careswitch/switchreq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "careswitch").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	agencyRepo := agency.NewRepository(pool)
	searchSvc := agency.NewSearchService(agencyRepo)
	agencySvc := agency.NewAdminService(agencyRepo)

	profileRepo := patient.NewRepository(pool)
	profileSvc := patient.NewService(profileRepo)

	auditor := audit.NewEmitter(audit.NewPGSink(pool), log)
	notifier := notify.NewLogDispatcher(log)
	requestSvc := switchreq.NewService(switchreq.NewRepository(pool), auditor, notifier, log)

	server := &Server{
		authService:    authSvc,
		searchService:  searchSvc,
		agencyService:  agencySvc,
		profileService: profileSvc,
		profileStore:   profileRepo,
		requestService: requestSvc,
		log:            log,
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("serve")
	}
}
