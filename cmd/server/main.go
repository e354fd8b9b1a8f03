package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/intl_dossier/backend/internal/config"
	"github.com/intl_dossier/backend/internal/db"
	"github.com/intl_dossier/backend/internal/hierarchy"
	httpapi "github.com/intl_dossier/backend/internal/http"
	"github.com/intl_dossier/backend/internal/notify"
	"github.com/intl_dossier/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "assignment-engine").Logger()

	ctx := context.Background()

	var store db.Store
	if cfg.DatabaseURL == "" {
		store = db.NewMemory()
		logger.Warn().Msg("no DATABASE_URL, using in-memory store")
	} else {
		pg, err := db.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		store = pg
	}
	defer store.Close()

	var dispatcher notify.Dispatcher
	if cfg.NotifyURL == "" {
		dispatcher = &notify.MockDispatcher{}
		logger.Info().Msg("using mock notification dispatcher")
	} else {
		dispatcher = &notify.HTTPDispatcher{BaseURL: cfg.NotifyURL}
	}

	lifecycle := &service.LifecycleService{
		Store:    store,
		Resolver: hierarchy.NewResolver(store),
		Notifier: dispatcher,
		Logger:   logger,
		AdminID:  cfg.FallbackAdminID,
	}
	autoAssign := &service.AutoAssignService{
		Store:       store,
		Notifier:    dispatcher,
		Logger:      logger,
		MaxAttempts: cfg.QueueMaxAttempts,
	}
	bulk := &service.BulkService{
		Store:     store,
		Lifecycle: lifecycle,
		Notifier:  dispatcher,
		Logger:    logger,
	}

	router := httpapi.Router(cfg, store, lifecycle, autoAssign, bulk, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
