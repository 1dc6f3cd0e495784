package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/flightsurety/internal/api"
	"github.com/punchamoorthee/flightsurety/internal/config"
	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/logging"
	"github.com/punchamoorthee/flightsurety/internal/service"
	"github.com/punchamoorthee/flightsurety/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := logging.New("surety-api", cfg.Env, cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ledgerStore store.Store
	if cfg.InMemory() {
		logger.Warn().Msg("DB_SOURCE not set, using in-memory store")
		ledgerStore = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(ctx, cfg.DBSource)
		if err != nil {
			logger.Fatal().Err(err).Msg("Unable to connect to database")
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Unable to migrate database")
		}
		ledgerStore = pg
	}
	defer ledgerStore.Close()

	// Initialize Layers
	feed := service.NewFeed(4096)
	surety := service.New(ledgerStore, service.Options{
		Entropy:   []byte(cfg.OracleEntropy),
		Sink:      service.MultiSink{service.LogSink{Logger: logger}, feed},
		Disburser: service.LogDisburser{Logger: logger},
		Logger:    logger,
	})
	err = surety.Init(ctx, service.Genesis{
		Owner:            domain.NormalizeAddress(cfg.Owner),
		FirstAirline:     domain.NormalizeAddress(cfg.FirstAirline),
		FirstAirlineName: cfg.FirstAirlineName,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to initialize ledger")
	}
	go redeliver(ctx, surety, cfg.RedeliverInterval(), logger)
	handler := api.NewHandler(surety, feed, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// redeliver retries withdrawals the disburser has not accepted, once at
// startup and then every interval. Records younger than one interval still
// belong to the request that wrote them.
func redeliver(ctx context.Context, s *service.Surety, every time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		n, err := s.RedeliverWithdrawals(ctx, every)
		switch {
		case errors.Is(err, service.ErrOperational):
			logger.Debug().Msg("ledger paused, redelivery skipped")
		case err != nil:
			logger.Error().Err(err).Int("delivered", n).Msg("withdrawal redelivery incomplete")
		case n > 0:
			logger.Info().Int("delivered", n).Msg("pending withdrawals redelivered")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
