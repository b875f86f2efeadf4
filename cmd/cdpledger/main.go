package main

import (
	"CDPLedger/internal/cdp"
	"CDPLedger/internal/collab"
	"CDPLedger/internal/config"
	"CDPLedger/internal/core"
	"CDPLedger/internal/ingestion"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/persistence"
	"CDPLedger/internal/query"
	"CDPLedger/internal/server"
	"CDPLedger/internal/store"
	"CDPLedger/internal/store/memory"
	"CDPLedger/internal/valuation"
	"CDPLedger/migrations"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("cdpledger")

	cfg, err := config.Load(os.Getenv("CDP_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	logger.Info().
		Str("storage", cfg.Storage).
		Str("nats", cfg.NATS.URL).
		Str("grpc_addr", cfg.Server.GRPCAddr).
		Str("http_addr", cfg.Server.HTTPAddr).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Msg("CDPLedger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := run(ctx, cancel, sigChan, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("CDPLedger stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("CDPLedger stopped")
}

func run(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal, cfg config.Config, logger zerolog.Logger) error {
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Storage ---
	var st store.Store
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := persistence.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.Postgres.Migrate {
			if err := migrate(ctx, db, logger); err != nil {
				return err
			}
		}
		pg := persistence.NewPostgresStore(db)
		healthChecker.AddCheck("postgres", pg.Ping)
		st = pg
	default:
		logger.Warn().Msg("using in-memory storage; state is lost on exit")
		st = memory.New()
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger.With().Str("component", "nats").Logger())
	if err != nil {
		return err
	}
	defer nc.Drain()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if nc.Status() != nats.CONNECTED {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return err
	}

	// --- Collaborators ---
	remote := collab.NewNATSClient(nc, cfg.NATS.CollabPrefix, cfg.NATS.CollabTimeout.Duration)
	collaborators := &collab.Instrumented{
		Oracle:     remote,
		Liquidator: remote,
		Pool:       remote,
		Metrics:    metrics,
	}

	// --- Engine ---
	valuer := valuation.NewEngine(collaborators)
	engineLogger := logger.With().Str("component", "engine").Logger()
	engine := core.NewEngine(st, cdp.NewService(valuer, collaborators, collaborators), core.Options{
		LRUCapacity: cfg.Idempotency.LRUCapacity,
		Metrics:     metrics,
		Logger:      &engineLogger,
	})
	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("recover engine: %w", err)
	}
	logger.Info().Int64("sequence", engine.Sequence()).Msg("engine recovered")

	if cfg.Genesis != nil {
		if err := applyGenesis(ctx, engine, cfg.Genesis, logger); err != nil {
			return err
		}
	}

	// --- Services ---
	queryService := query.NewQueryService(st, valuer, engine, metrics)
	srv, err := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.Deps{
		Query:     queryService,
		Submitter: ingestion.NewSubmitter(engine),
		Health:    healthChecker,
		Metrics:   metrics,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Logger:    logger.With().Str("component", "server").Logger(),
	})
	if err != nil {
		return err
	}

	relay := persistence.NewOutboxRelay(
		st,
		ingestion.NewIntentPublisher(js),
		cfg.Relay.BatchSize,
		cfg.Relay.PollInterval.Duration,
		engine.Committed(),
		metrics,
		logger.With().Str("component", "relay").Logger(),
	)

	// --- Start goroutines ---
	// 1. outbox relay, 2. gRPC server, 3. HTTP server, 4. JetStream consumer (optional)
	errChan := make(chan error, 4)

	go func() {
		errChan <- relay.Run(ctx)
	}()
	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		errChan <- srv.StartHTTP(ctx)
	}()

	var subscriber *ingestion.CommandSubscriber
	if cfg.NATS.Consume {
		subscriber = ingestion.NewCommandSubscriber(js, engine, metrics, logger.With().Str("component", "subscriber").Logger())
		if err := subscriber.Subscribe(ctx); err != nil {
			cancel()
			return fmt.Errorf("subscribe commands: %w", err)
		}
	}

	healthChecker.SetReady(true)
	srv.SetServing(true)
	logger.Info().Msg("CDPLedger ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
		logger.Error().Err(err).Msg("goroutine exited, shutting down")
	}

	healthChecker.SetReady(false)
	srv.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()

	// Give servers a moment to finish in-flight requests.
	time.Sleep(500 * time.Millisecond)
	return runErr
}

func migrate(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	migrator := persistence.NewMigrator(db, migrations.FS, logger.With().Str("component", "migrator").Logger())
	n, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Int("applied", n).Msg("migrations up to date")
	return nil
}

// applyGenesis instantiates the ledger from config. Restarts replay the same
// idempotency key and are absorbed as duplicates.
func applyGenesis(ctx context.Context, engine *core.Engine, genesis *config.GenesisConfig, logger zerolog.Logger) error {
	cmd, err := genesis.Command()
	if err != nil {
		return err
	}
	res, err := engine.Execute(ctx, cmd)
	switch {
	case errors.Is(err, ledger.ErrAlreadyInstantiated):
		logger.Info().Msg("genesis skipped: ledger already instantiated")
		return nil
	case err != nil:
		return fmt.Errorf("genesis: %w", err)
	case res.Duplicate:
		logger.Debug().Msg("genesis already applied")
	default:
		logger.Info().Int64("sequence", res.Sequence).Int("collateral", len(cmd.Collateral)).Msg("genesis applied")
	}
	return nil
}
