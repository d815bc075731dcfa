// Package reconcile backfills degraded registrations onto the ledger.
//
// A registration taken during a ledger outage lives in the vault with no
// ledger reference. The reconciler drains that queue: it resubmits each
// record through the registrar's submission path and settles the mirror with
// the confirmed reference. Runs either as a periodic in-process job or as a
// one-shot pass from the CLI.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"electorate/internal/audit"
	"electorate/internal/platform/metrics"
	"electorate/internal/vault"
	"electorate/pkg/domain"
	"electorate/pkg/platform/sentinel"
)

// Defaults. The submit rate is capped so a long outage's backlog does not
// flood the recovering ledger.
const (
	DefaultInterval  = time.Minute
	DefaultBatchSize = 100
	DefaultRateLimit = rate.Limit(10)
)

// Submitter mirrors one vault record onto the ledger. The registrar
// implements it; submissions go through the same locking and confirmation
// await as the request path.
type Submitter interface {
	SubmitRegistration(ctx context.Context, rec *vault.Record) (domain.TxRef, error)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Scanned  int
	Repaired int
	Failed   int
}

// Reconciler drains the unmirrored-record queue.
type Reconciler struct {
	vault     vault.Store
	submitter Submitter
	limiter   *rate.Limiter
	auditor   audit.Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// Option configures the reconciler.
type Option func(*Reconciler)

// WithInterval sets the pause between periodic passes.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize caps how many records one pass picks up.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRateLimit caps ledger submissions per second.
func WithRateLimit(l rate.Limit) Option {
	return func(r *Reconciler) {
		if l > 0 {
			r.limiter = rate.NewLimiter(l, 1)
		}
	}
}

// WithAuditor installs the audit recorder.
func WithAuditor(rec audit.Recorder) Option {
	return func(r *Reconciler) { r.auditor = rec }
}

// WithMetrics installs the process metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler.
func New(store vault.Store, submitter Submitter, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		vault:     store,
		submitter: submitter,
		limiter:   rate.NewLimiter(DefaultRateLimit, 1),
		auditor:   audit.NopRecorder{},
		logger:    logger,
		tracer:    otel.Tracer("electorate/reconcile"),
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes passes on the configured interval until the context ends.
// Pass failures are logged and the loop continues; only context cancellation
// stops it.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		report, err := r.RunOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		case err != nil:
			r.logger.Error("reconciliation pass failed", slog.String("error", err.Error()))
		case report.Scanned > 0:
			r.logger.Info("reconciliation pass",
				slog.Int("scanned", report.Scanned),
				slog.Int("repaired", report.Repaired),
				slog.Int("failed", report.Failed),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single pass and reports what it did.
func (r *Reconciler) RunOnce(ctx context.Context) (_ Report, err error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.RunOnce")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if r.metrics != nil {
		r.metrics.ReconcilerRuns.Inc()
	}

	records, err := r.vault.ListUnmirrored(ctx, r.batchSize)
	if err != nil {
		return Report{}, err
	}

	report := Report{Scanned: len(records)}
	for _, rec := range records {
		if err := r.limiter.Wait(ctx); err != nil {
			return report, err
		}
		if err := r.repair(ctx, rec); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			report.Failed++
			r.logger.Warn("record repair failed",
				slog.String("identity_key", rec.IdentityKey.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Repaired++
	}
	span.SetAttributes(
		attribute.Int("scanned", report.Scanned),
		attribute.Int("repaired", report.Repaired),
		attribute.Int("failed", report.Failed),
	)
	return report, nil
}

func (r *Reconciler) repair(ctx context.Context, rec *vault.Record) error {
	ref, err := r.submitter.SubmitRegistration(ctx, rec)
	if errors.Is(err, sentinel.ErrConflict) {
		// The ledger already holds this identity but the mirror was never
		// settled with a reference. That is an inconsistency the reconciler
		// must not paper over with a guessed reference; leave it for an
		// operator.
		return err
	}
	if err != nil {
		return err
	}

	if err := r.vault.SetLedgerRef(ctx, rec.IdentityKey, ref); err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.ReconcilerRepairs.Inc()
	}
	event := audit.New(audit.ActionReconcilerRepaired, r.now())
	event.IdentityKey = rec.IdentityKey.String()
	event.Detail = ref.String()
	r.auditor.Record(ctx, event)

	r.logger.Info("registration mirrored",
		slog.String("identity_key", rec.IdentityKey.String()),
		slog.String("ledger_tx_ref", ref.String()),
	)
	return nil
}
