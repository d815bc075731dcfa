package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"electorate/internal/admin"
	"electorate/internal/artifact"
	"electorate/internal/audit"
	"electorate/internal/credential"
	"electorate/internal/eligibility"
	"electorate/internal/identity/keyderive"
	"electorate/internal/ledger/memledger"
	"electorate/internal/platform/config"
	"electorate/internal/platform/httpserver"
	"electorate/internal/platform/logger"
	"electorate/internal/platform/metrics"
	platformredis "electorate/internal/platform/redis"
	"electorate/internal/ratelimit"
	"electorate/internal/reconcile"
	"electorate/internal/registrar"
	"electorate/internal/status"
	httptransport "electorate/internal/transport/http"
	"electorate/internal/vault"
	"electorate/pkg/platform/circuit"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, audit worker and reconciler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireSecrets(); err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.Log)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
	}

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var ledgerOpts []memledger.Option
	if cfg.Ledger.Path != "" {
		ledgerOpts = append(ledgerOpts, memledger.WithFile(cfg.Ledger.Path))
	}
	if cfg.Ledger.ConfirmLatency > 0 {
		ledgerOpts = append(ledgerOpts, memledger.WithConfirmLatency(cfg.Ledger.ConfirmLatency))
	}
	lgr, err := memledger.New(ledgerOpts...)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	// Audit pipeline. Services record into the publisher; the worker drains
	// it into the store and the optional Kafka sink.
	publisher := audit.NewPublisher(log, 1024, audit.WithDropCounter(m.AuditEventsDropped.Inc))
	var auditStore audit.Store
	if cfg.Postgres.URL != "" {
		pgAudit, err := audit.OpenPostgresStore(cfg.Postgres.URL)
		if err != nil {
			return err
		}
		if err := pgAudit.Migrate(ctx); err != nil {
			return err
		}
		auditStore = pgAudit
	} else {
		auditStore = audit.NewInMemoryStore()
	}
	var sinks []audit.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}
	worker := audit.NewWorker(auditStore, publisher.Inbox(), log, sinks...)

	masterKey, err := cfg.VaultMasterKey()
	if err != nil {
		return err
	}
	sealer, err := vault.NewSealer(masterKey)
	if err != nil {
		return err
	}
	var vaultStore vault.Store
	if pool != nil {
		pgVault := vault.NewPostgresStore(pool)
		if err := pgVault.Migrate(ctx); err != nil {
			return err
		}
		vaultStore = pgVault
	} else {
		vaultStore = vault.NewInMemoryStore()
	}

	salt, err := cfg.IdentitySalt()
	if err != nil {
		return err
	}
	deriver, err := keyderive.New(salt)
	if err != nil {
		return err
	}

	registrarOpts := []registrar.Option{
		registrar.WithAuditor(publisher),
		registrar.WithMetrics(m),
		registrar.WithBreaker(circuit.New("ledger")),
		registrar.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout),
		registrar.WithConfirmPoll(cfg.Ledger.ConfirmPoll),
	}
	if cfg.Eligibility.SeedFile != "" {
		seeded, err := eligibility.LoadSeedFile(cfg.Eligibility.SeedFile)
		if err != nil {
			return err
		}
		registrarOpts = append(registrarOpts, registrar.WithScreener(eligibility.NewScreener(seeded)))
	}
	registrarSvc := registrar.NewService(lgr, vaultStore, sealer, deriver, log, registrarOpts...)

	var credStore credential.Store
	switch {
	case pool != nil:
		pgCred := credential.NewPostgresStore(pool)
		if err := pgCred.Migrate(ctx); err != nil {
			return err
		}
		credStore = pgCred
	case rdb != nil:
		credStore = credential.NewRedisStore(rdb.Client)
	default:
		credStore = credential.NewInMemoryStore()
	}

	resolver := status.NewResolver(vaultStore, lgr, credStore, log)

	signer, err := credential.NewSignerFromHex(cfg.Secrets.IssuerKeyHex)
	if err != nil {
		return err
	}
	var objects artifact.ObjectStore
	if cfg.Artifacts.Root != "" {
		objects, err = artifact.NewFSStore(cfg.Artifacts.Root)
		if err != nil {
			return err
		}
	} else {
		objects = artifact.NewInMemoryStore()
	}
	renderer := artifact.NewRenderer(objects, cfg.Artifacts.QRSize, log)

	credSvc := credential.NewService(credStore, signer, resolver, log,
		credential.WithTTL(cfg.Credential.TTL),
		credential.WithAuditor(publisher),
		credential.WithMetrics(m),
		credential.WithArtifacts(renderer),
	)

	adminSvc, err := admin.NewService(cfg.Secrets.AdminSecretHash,
		[]byte(cfg.Secrets.SessionSigningKey), log,
		admin.WithAuditor(publisher),
	)
	if err != nil {
		return err
	}

	var buckets ratelimit.BucketStore
	if rdb != nil {
		buckets = ratelimit.NewRedisStore(rdb.Client)
	} else {
		buckets = ratelimit.NewInMemoryStore()
	}
	throttle := ratelimit.NewMiddleware(
		ratelimit.NewLimiter(buckets, ratelimit.DefaultPolicies(), log),
		cfg.RateLimit.Disabled,
	)

	reconciler := reconcile.New(vaultStore, registrarSvc, log,
		reconcile.WithInterval(cfg.Reconciler.Interval),
		reconcile.WithBatchSize(cfg.Reconciler.BatchSize),
		reconcile.WithRateLimit(rate.Limit(cfg.Reconciler.RateLimit)),
		reconcile.WithAuditor(publisher),
		reconcile.WithMetrics(m),
	)

	health := []httptransport.HealthCheck{
		{Name: "ledger", Check: func() error {
			if lgr.Height() == 0 {
				return fmt.Errorf("ledger has no genesis block")
			}
			return nil
		}},
	}
	if pool != nil {
		health = append(health, httptransport.HealthCheck{Name: "postgres", Check: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		}})
	}
	if rdb != nil {
		health = append(health, httptransport.HealthCheck{Name: "redis", Check: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Health(pingCtx)
		}})
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Registrar:   registrarSvc,
		Credentials: credSvc,
		Status:      resolver,
		Admin:       adminSvc,
		Artifacts:   renderer,
		Throttle:    throttle,
		Metrics:     m,
		Registry:    registry,
		Logger:      log,
		Health:      health,
	})
	srv := httpserver.New(cfg.Server, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return reconciler.Run(ctx) })
	g.Go(func() error { return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, log) })
	return g.Wait()
}
