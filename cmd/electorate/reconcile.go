package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"electorate/internal/identity/keyderive"
	"electorate/internal/ledger/memledger"
	"electorate/internal/platform/config"
	"electorate/internal/platform/logger"
	"electorate/internal/reconcile"
	"electorate/internal/registrar"
	"electorate/internal/vault"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one ledger backfill pass and exit",
		Long: "Reads vault records that never made it onto the ledger and submits " +
			"them now. The serve command runs the same pass periodically; this " +
			"command is for operators who want an immediate pass after an outage.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd.Context())
		},
	}
}

func runReconcile(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireSecrets(); err != nil {
		return err
	}
	log := logger.New(os.Stderr, cfg.Log)

	if cfg.Postgres.URL == "" {
		return fmt.Errorf("reconcile needs postgres.url: an in-memory vault holds no state between runs")
	}
	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	var ledgerOpts []memledger.Option
	if cfg.Ledger.Path != "" {
		ledgerOpts = append(ledgerOpts, memledger.WithFile(cfg.Ledger.Path))
	}
	lgr, err := memledger.New(ledgerOpts...)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	masterKey, err := cfg.VaultMasterKey()
	if err != nil {
		return err
	}
	sealer, err := vault.NewSealer(masterKey)
	if err != nil {
		return err
	}
	salt, err := cfg.IdentitySalt()
	if err != nil {
		return err
	}
	deriver, err := keyderive.New(salt)
	if err != nil {
		return err
	}

	vaultStore := vault.NewPostgresStore(pool)
	registrarSvc := registrar.NewService(lgr, vaultStore, sealer, deriver, log)

	reconciler := reconcile.New(vaultStore, registrarSvc, log,
		reconcile.WithBatchSize(cfg.Reconciler.BatchSize),
		reconcile.WithRateLimit(rate.Limit(cfg.Reconciler.RateLimit)),
	)

	report, err := reconciler.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d, repaired %d, failed %d\n", report.Scanned, report.Repaired, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d records could not be repaired", report.Failed)
	}
	return nil
}
