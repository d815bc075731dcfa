// Package status is the read path over registration state.
//
// The resolver prefers the vault mirror for latency and falls back to a
// direct ledger read when the mirror has no record. It never writes to
// either store; a stale mirror is the reconciler's problem, the resolver
// only reports provenance so callers can reason about staleness.
package status

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"electorate/internal/ledger"
	"electorate/internal/vault"
	"electorate/pkg/domain"
	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/sentinel"
)

// Source names where an answer came from.
type Source string

const (
	// SourceCache means the vault mirror answered.
	SourceCache Source = "cache"
	// SourceLedger means the mirror missed and the ledger answered.
	SourceLedger Source = "ledger"
)

// Status is one identity's registration state as seen by the read path.
type Status struct {
	IdentityKey domain.IdentityKey
	Registered  bool
	Verified    bool
	VerifiedAt  *time.Time
	// OnLedger is false for a vault-only registration still awaiting
	// reconciliation.
	OnLedger bool
	// Consumed reports whether a voting credential of this identity was
	// redeemed.
	Consumed bool
	Source   Source
}

// ConsumptionSource answers whether an identity ever redeemed a credential.
// The credential store implements it.
type ConsumptionSource interface {
	HasConsumed(ctx context.Context, key domain.IdentityKey) (bool, error)
}

// Resolver answers status reads. Safe for concurrent use.
type Resolver struct {
	vault       vault.Store
	ledger      ledger.Ledger
	consumption ConsumptionSource
	group       singleflight.Group
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewResolver creates a resolver. consumption may be nil when no credential
// store is wired; Consumed then always reads false.
func NewResolver(vaultStore vault.Store, lgr ledger.Ledger, consumption ConsumptionSource, logger *slog.Logger) *Resolver {
	return &Resolver{
		vault:       vaultStore,
		ledger:      lgr,
		consumption: consumption,
		logger:      logger,
		tracer:      otel.Tracer("electorate/status"),
	}
}

// Resolve returns the status of an identity. NotFound when neither store
// knows the key.
func (r *Resolver) Resolve(ctx context.Context, key domain.IdentityKey) (_ *Status, err error) {
	ctx, span := r.tracer.Start(ctx, "status.Resolve",
		trace.WithAttributes(attribute.String("identity_key", key.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	st, err := r.resolveRegistration(ctx, key)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("source", string(st.Source)))

	if r.consumption != nil {
		consumed, err := r.consumption.HasConsumed(ctx, key)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "credential store unavailable")
		}
		st.Consumed = consumed
	}
	return st, nil
}

// Verified reports whether the identity is verified; the credential issuer
// gates on it. A mirror that says unverified is double-checked against the
// ledger, because the mirror may lag a verification and a false negative
// here wrongly blocks issuance. The reverse lag cannot happen: the mirror
// is never flipped before the ledger.
func (r *Resolver) Verified(ctx context.Context, key domain.IdentityKey) (bool, error) {
	st, err := r.resolveRegistration(ctx, key)
	if err != nil {
		return false, err
	}
	if st.Verified || st.Source == SourceLedger {
		return st.Verified, nil
	}
	if !st.OnLedger {
		// Vault-only registration; nothing on the ledger to consult.
		return false, nil
	}

	rec, err := r.readLedger(ctx, key)
	switch {
	case err == nil:
		return rec.Verified, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return false, nil
	default:
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unreachable")
	}
}

func (r *Resolver) resolveRegistration(ctx context.Context, key domain.IdentityKey) (*Status, error) {
	rec, err := r.vault.GetByKey(ctx, key)
	switch {
	case err == nil:
		return &Status{
			IdentityKey: key,
			Registered:  true,
			Verified:    rec.Verified,
			VerifiedAt:  rec.VerifiedAt,
			OnLedger:    rec.Mirrored(),
			Source:      SourceCache,
		}, nil
	case errors.Is(err, sentinel.ErrNotFound):
		// Mirror miss; fall through to the ledger.
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "vault store unavailable")
	}

	ledgerRec, err := r.readLedger(ctx, key)
	switch {
	case err == nil:
		return &Status{
			IdentityKey: key,
			Registered:  true,
			Verified:    ledgerRec.Verified,
			VerifiedAt:  ledgerRec.VerifiedAt,
			OnLedger:    true,
			Source:      SourceLedger,
		}, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "identity is not registered")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unreachable")
	}
}

// readLedger collapses concurrent reads of one key into a single in-flight
// ledger query.
func (r *Resolver) readLedger(ctx context.Context, key domain.IdentityKey) (*ledger.Record, error) {
	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		return r.ledger.Read(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ledger.Record), nil
}
