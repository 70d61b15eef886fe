package main

import (
	"SaleLedger/internal/config"
	"SaleLedger/internal/core"
	"SaleLedger/internal/ingestion"
	"SaleLedger/internal/observability"
	"SaleLedger/internal/persistence"
	"SaleLedger/internal/projection"
	"SaleLedger/internal/query"
	"SaleLedger/internal/server"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	sequencerDepth = 4096
	rawEventBuffer = 4096
)

func run(parent context.Context, cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	saleCfg, err := cfg.SaleConfig()
	if err != nil {
		return err
	}
	admins, err := cfg.AdminIdentities()
	if err != nil {
		return err
	}
	logger.Info().
		Time("sale_start", saleCfg.SaleStart).
		Time("sale_end", saleCfg.SaleEnd).
		Int("admins", len(admins)).
		Msg("saled starting")

	// --- Postgres ---
	db, err := persistence.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	var migrations fs.FS = persistence.EmbeddedMigrations()
	if cfg.MigrationsDir != "" {
		migrations = os.DirFS(cfg.MigrationsDir)
	}
	applied, err := persistence.NewMigrator(db, migrations).Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	defer pool.Close()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Core ---
	persistCore := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCore := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	dedup := persistence.NewPostgresIdempotencyChecker(db)
	saleCore, err := core.NewSaleCore(saleCfg, core.AdminSet(admins...),
		core.WithOutputs(persistCore, projectionCore),
		core.WithIdempotencyDB(dedup),
		core.WithLRUCapacity(cfg.IdempotencyLRUCapacity),
		core.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	snapSeq, replayed, err := recoverCore(ctx, saleCore, snapMgr, metrics, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	keys, err := dedup.RecentKeys(ctx, cfg.IdempotencyLRUCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("dedup cache warm-up skipped")
	} else {
		saleCore.WarmLRU(keys)
	}
	if err := saleCore.CheckInvariants(); err != nil {
		return fmt.Errorf("recovered state: %w", err)
	}
	logger.Info().
		Int64("snapshot", snapSeq).
		Int64("replayed", replayed).
		Int64("next_sequence", saleCore.GetSequence()).
		Hex("state_hash", hashBytes(saleCore.GetStateHash())).
		Msg("recovery complete")

	persistRows := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionRows := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	projWorker := projection.NewProjectionWorker(pool, projectionRows, metrics)
	// Outputs dropped before the restart are repaired from core state
	if err := projWorker.Sync(ctx, saleCore.GetSequence()-1, saleCore.Records(), saleCore.Treasury()); err != nil {
		return fmt.Errorf("projection sync: %w", err)
	}

	// --- NATS ---
	var (
		nc         *nats.Conn
		subscriber *ingestion.NATSSubscriber
		publisher  *ingestion.OutboundPublisher
		publishOut chan ingestion.PublishableEvent
		rawEvents  chan ingestion.RawEvent
	)
	if cfg.NATS.Enabled {
		conn, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			return err
		}
		nc = conn
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			return err
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			return err
		}
		rawEvents = make(chan ingestion.RawEvent, rawEventBuffer)
		subscriber = ingestion.NewNATSSubscriber(js, rawEvents)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			subscriber.Stop()
			return err
		}
		publishOut = make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
		publisher = ingestion.NewOutboundPublisher(js, publishOut, metrics)
		healthChecker.AddCheck("nats", func(context.Context) error {
			if s := nc.Status(); s != nats.CONNECTED {
				return fmt.Errorf("nats %s", s)
			}
			return nil
		})
	}

	// --- Pipeline: runs until the core's output channels close ---
	pipe, pipeCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	b := &bridge{
		persistIn:     persistCore,
		projectionIn:  projectionCore,
		persistOut:    persistRows,
		projectionOut: projectionRows,
		metrics:       metrics,
	}
	if publishOut != nil {
		b.publishOut = publishOut
		pipe.Go(func() error { return publisher.Run(pipeCtx) })
	}
	pipe.Go(func() error { return b.Run(pipeCtx) })
	pipe.Go(func() error {
		return persistence.NewPersistenceWorker(db, persistRows, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics).Run(pipeCtx)
	})
	pipe.Go(func() error { return projWorker.Run(pipeCtx) })
	go func() {
		// A failed pipeline worker stops intake
		<-pipeCtx.Done()
		stop()
	}()

	// --- Ingress: everything that submits to the core ---
	clock := clockwork.NewRealClock()
	seq := ingestion.NewSequencer(saleCore, clock, saleCore.LastTimestamp(), sequencerDepth)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Service:       server.NewSaleService(seq, saleCore, query.NewQueryService(pool)),
		Metrics:       metrics,
		HealthChecker: healthChecker,
	})
	snaps := newSnapshotter(saleCore, snapMgr, clock, cfg.SnapshotInterval, snapSeq, metrics, logger)

	ingress, ingressCtx := errgroup.WithContext(ctx)
	ingress.Go(func() error { return ignoreCanceled(seq.Run(ingressCtx)) })
	ingress.Go(func() error { return grpcServer.StartGRPC(ingressCtx) })
	ingress.Go(func() error { return grpcServer.StartHTTPGateway(ingressCtx) })
	ingress.Go(func() error { return server.StartMetrics(ingressCtx, cfg.MetricsAddr) })
	ingress.Go(func() error { return snaps.Run(ingressCtx, cfg.SnapshotCheck) })
	if subscriber != nil {
		ingress.Go(func() error {
			defer subscriber.Stop()
			return ignoreCanceled(ingestion.RunCommandLoop(ingressCtx, rawEvents, seq))
		})
	}

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Bool("nats", cfg.NATS.Enabled).
		Msg("saled ready")

	ingressErr := ingress.Wait()
	healthChecker.SetReady(false)
	logger.Info().Msg("intake stopped, draining pipeline")

	// Nothing submits any more; closing lets the bridge and workers drain
	close(persistCore)
	close(projectionCore)
	pipeErr := pipe.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := snaps.final(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	logger.Info().Int64("next_sequence", saleCore.GetSequence()).Msg("saled shutdown complete")
	return errors.Join(ingressErr, pipeErr)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func hashBytes(h [32]byte) []byte { return h[:] }
