package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/punchamoorthee/flightsurety/internal/config"
	"github.com/punchamoorthee/flightsurety/internal/domain"
	"github.com/punchamoorthee/flightsurety/internal/logging"
	"github.com/punchamoorthee/flightsurety/internal/service"
	"github.com/punchamoorthee/flightsurety/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// The seeder bootstraps a consortium directly against the database: the
// genesis airline is funded, the remaining bootstrap seats are filled and
// funded, and a pool of oracles is registered.
func main() {
	oracles := flag.Int("oracles", 20, "Number of oracles to register")
	airlines := flag.Int("airlines", domain.BootstrapAirlines, "Number of funded airlines, genesis included")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.InMemory() {
		log.Fatal().Msg("DB_SOURCE is required for seeding")
	}
	logger := logging.New("surety-seeder", cfg.Env, cfg.LogLevel, os.Stdout)

	ctx := context.Background()
	pg, err := store.NewPostgres(ctx, cfg.DBSource)
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to connect to database")
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Unable to migrate database")
	}

	logger.Info().Msg("--- Seeding Ledger ---")
	surety := service.New(pg, service.Options{Entropy: []byte(cfg.OracleEntropy), Logger: logger})
	first := domain.NormalizeAddress(cfg.FirstAirline)
	if err := surety.Init(ctx, service.Genesis{
		Owner:            domain.NormalizeAddress(cfg.Owner),
		FirstAirline:     first,
		FirstAirlineName: cfg.FirstAirlineName,
	}); err != nil {
		logger.Fatal().Err(err).Msg("genesis failed")
	}

	if funded, _ := surety.IsAirlineFunded(ctx, first); !funded {
		if _, err := surety.Fund(ctx, first, first, domain.MinFunding); err != nil {
			logger.Fatal().Err(err).Msg("funding genesis airline failed")
		}
	}

	for i := 2; i <= *airlines; i++ {
		addr := domain.Address(fmt.Sprintf("airline-%02d", i))
		if registered, _ := surety.IsAirlineRegistered(ctx, addr); !registered {
			adm, err := surety.RegisterAirline(ctx, first, addr, fmt.Sprintf("Airline %02d", i))
			if err != nil {
				logger.Fatal().Err(err).Str("airline", string(addr)).Msg("registration failed")
			}
			if !adm.Registered {
				logger.Warn().Str("airline", string(addr)).Int("votes", adm.Votes).Int("required", adm.Required).
					Msg("registration pending, stopping airline seeding")
				break
			}
		}
		if funded, _ := surety.IsAirlineFunded(ctx, addr); !funded {
			if _, err := surety.Fund(ctx, addr, addr, domain.MinFunding); err != nil {
				logger.Fatal().Err(err).Str("airline", string(addr)).Msg("funding failed")
			}
		}
	}

	// Oracle registration serializes on the ledger lock; the group only overlaps round trips.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := 1; i <= *oracles; i++ {
		addr := domain.Address(fmt.Sprintf("oracle-%02d", i))
		g.Go(func() error {
			o, err := surety.RegisterOracle(gctx, addr, domain.RegistrationFee)
			if err != nil {
				if idx, lookupErr := surety.OracleIndexes(gctx, addr); lookupErr == nil {
					logger.Info().Str("oracle", string(addr)).Interface("indexes", idx).Msg("Oracle already registered")
					return nil
				}
				return fmt.Errorf("oracle %s: %w", addr, err)
			}
			logger.Info().Str("oracle", string(addr)).Interface("indexes", o.Indexes).Msg("Oracle Registered")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("oracle seeding failed")
	}

	report, err := surety.Audit(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("audit failed")
	}
	logger.Info().Stringer("deposited", report.Deposited).Stringer("pools", report.Pools).Msg("Seeding complete")
}
