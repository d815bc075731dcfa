package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"electorate/internal/audit"
	"electorate/internal/platform/metrics"
	"electorate/pkg/domain"
	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/keylock"
	"electorate/pkg/platform/sentinel"
)

// DefaultTTL is the credential validity window when none is configured.
const DefaultTTL = 30 * time.Minute

// VerificationSource answers whether an identity is verified. The status
// resolver implements it; the credential service never reads the ledger or
// vault directly.
type VerificationSource interface {
	Verified(ctx context.Context, key domain.IdentityKey) (bool, error)
}

// ArtifactSink stores and retires the scannable form of a credential. The
// artifact renderer implements it; a nil sink skips artifacts entirely.
type ArtifactSink interface {
	Render(ctx context.Context, id domain.CredentialID, envelope string) (string, error)
	Remove(ctx context.Context, id domain.CredentialID) error
}

// Issued is the result of minting a credential: the stored record plus the
// encoded envelope the voter takes away. ArtifactURL points at the rendered
// QR image when an artifact sink is wired.
type Issued struct {
	Credential  *Credential
	Envelope    string
	ArtifactURL string
}

// Redeemed reports a successful redemption.
type Redeemed struct {
	CredentialID domain.CredentialID
	VoterRef     string
	ConsumedAt   time.Time
}

// Service implements credential issuance and redemption.
//
// Issuance policy: at most one live credential per identity, and a second
// issue while one is live is rejected with AlreadyIssued. An expired or
// consumed credential frees the slot; nothing is superseded in place.
type Service struct {
	store     Store
	signer    *Signer
	verified  VerificationSource
	artifacts ArtifactSink
	locks     keylock.Keyed
	auditor   audit.Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	ttl       time.Duration
	now       func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithTTL overrides the credential validity window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics installs the process metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditor installs the audit recorder.
func WithAuditor(rec audit.Recorder) Option {
	return func(s *Service) { s.auditor = rec }
}

// WithArtifacts installs the artifact sink. Issued credentials get a QR
// image; redeemed ones lose it.
func WithArtifacts(sink ArtifactSink) Option {
	return func(s *Service) { s.artifacts = sink }
}

// NewService creates the credential service.
func NewService(store Store, signer *Signer, verified VerificationSource, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		signer:   signer,
		verified: verified,
		auditor:  audit.NopRecorder{},
		logger:   logger,
		tracer:   otel.Tracer("electorate/credential"),
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints a credential for a verified identity.
//
// Preconditions checked in order: the identity must be verified on the
// ledger (NotVerified otherwise), and no live credential may exist for it
// (AlreadyIssued otherwise).
func (s *Service) Issue(ctx context.Context, key domain.IdentityKey) (_ *Issued, err error) {
	ctx, span := s.tracer.Start(ctx, "credential.Issue",
		trace.WithAttributes(attribute.String("identity_key", key.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()
	defer func() { s.countIssue(err) }()

	ok, err := s.verified.Verified(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotVerified, "identity is not verified")
	}

	// Same-identity issuance serializes here, so the live check and the
	// insert below form one critical section. The store's own uniqueness
	// guard settles races between instances.
	lock := s.locks.Lock(key)
	defer lock.Unlock()

	now := s.now()
	if _, err := s.store.FindLive(ctx, key, now); err == nil {
		return nil, dErrors.New(dErrors.CodeAlreadyIssued, "a live credential already exists for this identity")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "credential store unavailable")
	}

	cred := &Credential{
		ID:          domain.NewCredentialID(),
		IdentityKey: key,
		Nonce:       uuid.NewString(),
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.ttl),
	}
	env, err := s.signer.Sign(Payload{
		CredentialID: cred.ID.String(),
		IdentityKey:  key.String(),
		Nonce:        cred.Nonce,
		IssuedAt:     cred.IssuedAt.Unix(),
		ExpiresAt:    cred.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, err
	}
	encoded, err := EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}

	if err := s.store.Insert(ctx, cred); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeAlreadyIssued, "a live credential already exists for this identity")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "credential store unavailable")
	}

	issued := &Issued{Credential: cred, Envelope: encoded}
	if s.artifacts != nil {
		// Artifact failure does not void the issuance; the envelope itself
		// is the credential, the image is a convenience.
		url, aerr := s.artifacts.Render(ctx, cred.ID, encoded)
		if aerr != nil {
			s.logger.Warn("credential artifact render failed",
				slog.String("credential_id", cred.ID.String()),
				slog.String("error", aerr.Error()),
			)
		} else {
			issued.ArtifactURL = url
		}
	}

	event := audit.New(audit.ActionCredentialIssued, now)
	event.IdentityKey = key.String()
	event.CredentialID = cred.ID.String()
	event.Outcome = "issued"
	s.auditor.Record(ctx, event)

	s.logger.Info("credential issued",
		slog.String("credential_id", cred.ID.String()),
		slog.Time("expires_at", cred.ExpiresAt),
	)
	return issued, nil
}

// Redeem consumes a credential exactly once.
//
// Check order: envelope shape, issuer signature, validity window, identity
// verification, then the store's atomic check-and-set. The CAS is the race
// arbiter; everything before it only rejects requests that could never win.
// Redemption failures are terminal for the caller: nothing here retries.
func (s *Service) Redeem(ctx context.Context, encoded string) (_ *Redeemed, err error) {
	ctx, span := s.tracer.Start(ctx, "credential.Redeem")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()
	defer func() { s.countRedeem(err) }()

	env, err := DecodeEnvelope(encoded)
	if err != nil {
		return nil, err
	}
	if err := s.signer.Verify(env); err != nil {
		s.denied(ctx, env, "signature_invalid")
		return nil, err
	}

	id, err := domain.ParseCredentialID(env.Payload.CredentialID)
	if err != nil {
		return nil, err
	}
	key, err := domain.ParseIdentityKey(env.Payload.IdentityKey)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("credential_id", id.String()))

	now := s.now()
	if !now.Before(time.Unix(env.Payload.ExpiresAt, 0)) {
		s.denied(ctx, env, "expired")
		return nil, dErrors.New(dErrors.CodeExpired, "credential has expired")
	}

	ok, err := s.verified.Verified(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.denied(ctx, env, "not_verified")
		return nil, dErrors.New(dErrors.CodeNotVerified, "identity is not verified")
	}

	cred, err := s.store.Consume(ctx, id, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			s.denied(ctx, env, "not_found")
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "credential does not exist")
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			s.denied(ctx, env, "already_consumed")
			return nil, dErrors.Wrap(err, dErrors.CodeAlreadyConsumed, "credential was already redeemed")
		case errors.Is(err, sentinel.ErrExpired):
			s.denied(ctx, env, "expired")
			return nil, dErrors.Wrap(err, dErrors.CodeExpired, "credential has expired")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "credential store unavailable")
		}
	}

	if s.artifacts != nil {
		if aerr := s.artifacts.Remove(ctx, cred.ID); aerr != nil {
			s.logger.Warn("credential artifact removal failed",
				slog.String("credential_id", cred.ID.String()),
				slog.String("error", aerr.Error()),
			)
		}
	}

	event := audit.New(audit.ActionCredentialRedeemed, now)
	event.IdentityKey = cred.IdentityKey.String()
	event.CredentialID = cred.ID.String()
	event.Outcome = "success"
	s.auditor.Record(ctx, event)

	s.logger.Info("credential redeemed", slog.String("credential_id", cred.ID.String()))
	return &Redeemed{
		CredentialID: cred.ID,
		VoterRef:     cred.IdentityKey.String(),
		ConsumedAt:   *cred.ConsumedAt,
	}, nil
}

func (s *Service) denied(ctx context.Context, env Envelope, reason string) {
	event := audit.New(audit.ActionRedemptionDenied, s.now())
	event.IdentityKey = env.Payload.IdentityKey
	event.CredentialID = env.Payload.CredentialID
	event.Outcome = reason
	s.auditor.Record(ctx, event)
}

func (s *Service) countIssue(err error) {
	if s.metrics == nil {
		return
	}
	result := "issued"
	if err != nil {
		result = string(dErrors.CodeOf(err))
	}
	s.metrics.CredentialsIssued.WithLabelValues(result).Inc()
}

func (s *Service) countRedeem(err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(dErrors.CodeOf(err))
	}
	s.metrics.CredentialsRedeemed.WithLabelValues(result).Inc()
}
