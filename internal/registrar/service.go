package registrar

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"electorate/internal/audit"
	"electorate/internal/eligibility"
	"electorate/internal/identity/hasher"
	"electorate/internal/identity/keyderive"
	"electorate/internal/ledger"
	"electorate/internal/platform/metrics"
	"electorate/internal/vault"
	"electorate/pkg/domain"
	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/circuit"
	"electorate/pkg/platform/keylock"
	"electorate/pkg/platform/sentinel"
)

// Defaults for the confirmation await. Confirmation latency is the only
// externally-bounded wait in the system; past the timeout the submission is
// failed-but-retryable, never a fatal abort.
const (
	DefaultConfirmTimeout = 15 * time.Second
	DefaultConfirmPoll    = 200 * time.Millisecond
)

// Service is the dual-ledger registrar.
type Service struct {
	ledger   ledger.Ledger
	vault    vault.Store
	sealer   *vault.Sealer
	deriver  *keyderive.Deriver
	screener *eligibility.Screener
	breaker  *circuit.Breaker
	locks    keylock.Keyed
	auditor  audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	confirmTimeout time.Duration
	confirmPoll    time.Duration
	now            func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithScreener installs eligibility screening ahead of registration.
func WithScreener(s *eligibility.Screener) Option {
	return func(svc *Service) { svc.screener = s }
}

// WithBreaker installs a circuit breaker on the ledger submit path.
func WithBreaker(b *circuit.Breaker) Option {
	return func(svc *Service) { svc.breaker = b }
}

// WithAuditor installs the audit recorder.
func WithAuditor(rec audit.Recorder) Option {
	return func(svc *Service) { svc.auditor = rec }
}

// WithMetrics installs the process metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

// WithConfirmTimeout bounds the confirmation await.
func WithConfirmTimeout(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.confirmTimeout = d
		}
	}
}

// WithConfirmPoll sets the confirmation polling interval.
func WithConfirmPoll(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.confirmPoll = d
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// NewService creates the registrar.
func NewService(lgr ledger.Ledger, store vault.Store, sealer *vault.Sealer, deriver *keyderive.Deriver, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		ledger:         lgr,
		vault:          store,
		sealer:         sealer,
		deriver:        deriver,
		auditor:        audit.NopRecorder{},
		logger:         logger,
		tracer:         otel.Tracer("electorate/registrar"),
		confirmTimeout: DefaultConfirmTimeout,
		confirmPoll:    DefaultConfirmPoll,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register runs one registration attempt through its state machine.
//
// Order of operations: eligibility screen, fingerprints, per-key lock,
// uniqueness precheck against both stores, key derivation, ledger submit
// with confirmation await, vault write. The vault write happens regardless
// of the ledger outcome; only a vault failure after a successful ledger
// write is an error (OrphanedLedgerEntry).
func (s *Service) Register(ctx context.Context, fullName, nationalID string) (_ *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "registrar.Register")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()
	defer func() { s.countRegistration(err) }()

	state := StateReceived

	if s.screener != nil {
		if err := s.screener.Screen(ctx, fullName, nationalID); err != nil {
			return nil, err
		}
	}

	nameFp, err := hasher.NameFingerprint(fullName)
	if err != nil {
		return nil, err
	}
	idFp, err := hasher.IdentifierFingerprint(nationalID)
	if err != nil {
		return nil, err
	}
	key := hasher.IdentityKey(nameFp, idFp)
	state = s.advance(key, state, StateFingerprintsComputed)
	span.SetAttributes(attribute.String("identity_key", key.String()))

	// Same-identity attempts serialize here; different identities proceed
	// in parallel on other stripes.
	lock := s.locks.Lock(key)
	defer lock.Unlock()

	if err := s.checkNotRegistered(ctx, key, idFp); err != nil {
		return nil, err
	}

	keypair, err := s.deriver.Derive(nationalID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	state = s.advance(key, state, StateLedgerSubmitted)
	outcome := s.submitRegistration(ctx, ledger.Record{
		IdentityKey:     key,
		NameFingerprint: nameFp,
		IDFingerprint:   idFp,
		RegisteredAt:    now,
	})
	switch outcome.Status {
	case LedgerOK:
		state = s.advance(key, state, StateLedgerConfirmed)
	case LedgerDegraded:
		state = s.advance(key, state, StateLedgerFailed)
		s.logger.Warn("ledger unavailable, degrading to vault-only registration",
			slog.String("identity_key", key.String()),
			slog.String("error", outcome.Err.Error()),
		)
		event := audit.New(audit.ActionLedgerDegraded, now)
		event.IdentityKey = key.String()
		event.Detail = outcome.Err.Error()
		s.auditor.Record(ctx, event)
	}

	sealedPII, err := s.sealRecord(key, fullName, nationalID, keypair)
	if err != nil {
		return nil, err
	}

	rec := &vault.Record{
		IdentityKey:    key,
		IDFingerprint:  idFp,
		Ciphertext:     sealedPII.ciphertext,
		Nonce:          sealedPII.nonce,
		DerivedAddress: keypair.Address.Hex(),
		LedgerTxRef:    outcome.TxRef,
		CreatedAt:      now,
	}
	if err := s.vault.Insert(ctx, rec); err != nil {
		if outcome.Status == LedgerOK {
			outcome.Status = LedgerOrphaned
			outcome.Err = err
			return nil, s.reportOrphan(ctx, key, outcome)
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeAlreadyRegistered, "identity is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "vault store unavailable")
	}
	state = s.advance(key, state, StateVaultWritten)

	final := StateComplete
	if outcome.Status != LedgerOK {
		final = StatePartialFailure
	}
	state = s.advance(key, state, final)

	event := audit.New(audit.ActionRegistered, now)
	event.IdentityKey = key.String()
	event.Outcome = string(final)
	s.auditor.Record(ctx, event)

	return &Result{
		IdentityKey:    key,
		DerivedAddress: rec.DerivedAddress,
		Registered:     true,
		OnLedger:       outcome.Status == LedgerOK,
		LedgerTxRef:    outcome.TxRef,
		FinalState:     state,
	}, nil
}

// Verify flips a registration to verified. Admin-gated upstream.
//
// The current state is checked before any transaction is emitted: verifying
// an already-verified identity returns AlreadyVerified without touching the
// ledger, and the ledger's own single-flip rule backstops the check.
func (s *Service) Verify(ctx context.Context, key domain.IdentityKey) (_ *VerifyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "registrar.Verify",
		trace.WithAttributes(attribute.String("identity_key", key.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()
	defer func() { s.countVerification(err) }()

	lock := s.locks.Lock(key)
	defer lock.Unlock()

	vaultRec, err := s.vault.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "identity is not registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "vault store unavailable")
	}
	if vaultRec.Verified {
		return nil, dErrors.New(dErrors.CodeAlreadyVerified, "identity is already verified")
	}

	ledgerRec, err := s.ledger.Read(ctx, key)
	switch {
	case err == nil:
		if ledgerRec.Verified {
			// Mirror lagged behind the ledger; settle it and report the
			// conflict without emitting a transaction.
			if mErr := s.vault.MarkVerified(ctx, key, s.orNow(ledgerRec.VerifiedAt)); mErr != nil {
				s.logger.Warn("verification mirror settle failed", slog.String("error", mErr.Error()))
			}
			return nil, dErrors.New(dErrors.CodeAlreadyVerified, "identity is already verified")
		}
	case errors.Is(err, sentinel.ErrNotFound):
		// Vault-only registration still awaiting reconciliation; the
		// verification transaction has nothing to attach to yet.
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "registration not yet mirrored to the ledger")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unreachable")
	}

	now := s.now()
	verifyRec := *ledgerRec
	verifyRec.Verified = true
	verifyRec.VerifiedAt = &now

	outcome := s.submitAndAwait(ctx, verifyRec)
	if outcome.Status != LedgerOK {
		if errors.Is(outcome.Err, sentinel.ErrInvalidState) {
			return nil, dErrors.Wrap(outcome.Err, dErrors.CodeAlreadyVerified, "identity is already verified")
		}
		return nil, dErrors.Wrap(outcome.Err, dErrors.CodeUnavailable, "verification could not reach the ledger")
	}

	if err := s.vault.MarkVerified(ctx, key, now); err != nil {
		// Ledger verification landed; a stale mirror here is reconciler
		// work, not a failed verification.
		s.logger.Warn("verification mirror update failed",
			slog.String("identity_key", key.String()),
			slog.String("error", err.Error()),
		)
	}

	event := audit.New(audit.ActionVerified, now)
	event.IdentityKey = key.String()
	event.Outcome = "verified"
	s.auditor.Record(ctx, event)

	return &VerifyResult{IdentityKey: key, Verified: true, LedgerTxRef: outcome.TxRef}, nil
}

// SubmitRegistration mirrors an unmirrored vault record onto the ledger.
// Used by the reconciler; per-key locking and confirmation await match the
// request path.
func (s *Service) SubmitRegistration(ctx context.Context, rec *vault.Record) (domain.TxRef, error) {
	lock := s.locks.Lock(rec.IdentityKey)
	defer lock.Unlock()

	// Another writer may have mirrored the record in the meantime.
	existing, err := s.ledger.Read(ctx, rec.IdentityKey)
	if err == nil && existing != nil {
		return "", sentinel.ErrConflict
	}
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return "", err
	}

	pii, err := s.openPII(rec)
	if err != nil {
		return "", err
	}
	nameFp, err := hasher.NameFingerprint(pii.FullName)
	if err != nil {
		return "", err
	}

	outcome := s.submitAndAwait(ctx, ledger.Record{
		IdentityKey:     rec.IdentityKey,
		NameFingerprint: nameFp,
		IDFingerprint:   rec.IDFingerprint,
		RegisteredAt:    rec.CreatedAt,
	})
	if outcome.Status != LedgerOK {
		return "", outcome.Err
	}
	return outcome.TxRef, nil
}

// reportOrphan records the one outcome that is an integrity error rather
// than a degradation: a confirmed ledger entry whose vault write failed.
// Alerted, never repaired silently.
func (s *Service) reportOrphan(ctx context.Context, key domain.IdentityKey, outcome LedgerOutcome) error {
	if s.metrics != nil {
		s.metrics.OrphanedLedgerEntries.Inc()
	}
	event := audit.New(audit.ActionOrphanDetected, s.now())
	event.IdentityKey = key.String()
	event.Outcome = string(outcome.Status)
	event.Detail = "vault write failed after confirmed ledger write"
	s.auditor.Record(ctx, event)
	s.logger.Error("orphaned ledger entry",
		slog.String("identity_key", key.String()),
		slog.String("ledger_status", string(outcome.Status)),
		slog.String("ledger_tx_ref", outcome.TxRef.String()),
	)
	return dErrors.Wrap(outcome.Err, dErrors.CodeIntegrity, "ledger entry has no vault record")
}

// checkNotRegistered rejects duplicates against both stores. The vault is
// checked first (it holds every registration, mirrored or not); the ledger
// check catches entries whose vault half was lost.
func (s *Service) checkNotRegistered(ctx context.Context, key domain.IdentityKey, idFp domain.Fingerprint) error {
	_, err := s.vault.GetByIDFingerprint(ctx, idFp)
	switch {
	case err == nil:
		return dErrors.New(dErrors.CodeAlreadyRegistered, "identity is already registered")
	case !errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "vault store unavailable")
	}

	_, err = s.ledger.Read(ctx, key)
	switch {
	case err == nil:
		return dErrors.New(dErrors.CodeAlreadyRegistered, "identity is already registered on the ledger")
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case errors.Is(err, sentinel.ErrUnavailable):
		// Degraded-mode registration proceeds on the vault's uniqueness
		// constraint alone; a ledger duplicate would surface at
		// reconciliation as a submit conflict.
		return nil
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unreachable")
	}
}

// submitRegistration wraps submitAndAwait with the circuit breaker, so a
// flapping ledger stops costing every registration the full await window.
func (s *Service) submitRegistration(ctx context.Context, rec ledger.Record) LedgerOutcome {
	if s.breaker != nil && s.breaker.IsOpen() {
		return LedgerOutcome{Status: LedgerDegraded, Err: sentinel.ErrUnavailable}
	}

	outcome := s.submitAndAwait(ctx, rec)

	if s.breaker != nil {
		switch outcome.Status {
		case LedgerOK:
			if _, change := s.breaker.RecordSuccess(); change.Closed {
				s.logger.Info("ledger circuit closed")
				s.setBreakerGauge(0)
			}
		case LedgerDegraded:
			if _, change := s.breaker.RecordFailure(); change.Opened {
				s.logger.Warn("ledger circuit opened")
				s.setBreakerGauge(1)
			}
		}
	}
	return outcome
}

// submitAndAwait submits one record and waits for its confirmation within
// the configured window.
func (s *Service) submitAndAwait(ctx context.Context, rec ledger.Record) LedgerOutcome {
	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveLedgerSubmit(s.now().Sub(start))
		}
	}()

	submitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ref, err := s.ledger.Submit(submitCtx, rec)
	if err != nil {
		return LedgerOutcome{Status: LedgerDegraded, Err: err}
	}

	for {
		status, err := s.ledger.Confirm(submitCtx, ref)
		if err == nil {
			switch status {
			case ledger.StatusConfirmed:
				return LedgerOutcome{Status: LedgerOK, TxRef: ref}
			case ledger.StatusReverted:
				return LedgerOutcome{Status: LedgerDegraded, TxRef: ref, Err: dErrors.New(dErrors.CodeUnavailable, "ledger transaction reverted")}
			}
		} else if !errors.Is(err, sentinel.ErrUnavailable) {
			return LedgerOutcome{Status: LedgerDegraded, TxRef: ref, Err: err}
		}

		select {
		case <-submitCtx.Done():
			return LedgerOutcome{
				Status: LedgerDegraded,
				TxRef:  ref,
				Err:    dErrors.Wrap(submitCtx.Err(), dErrors.CodeTimeout, "ledger confirmation timed out"),
			}
		case <-time.After(s.confirmPoll):
		}
	}
}

type sealed struct {
	ciphertext []byte
	nonce      []byte
}

// sealRecord seals the PII envelope: the raw fields plus the derived private
// key. The key is re-derivable from salt and identifier at any time; storing
// it sealed only spares the deriver a round trip when signing on the
// voter's behalf, and it exists nowhere outside the envelope.
func (s *Service) sealRecord(key domain.IdentityKey, fullName, nationalID string, keypair *keyderive.Keypair) (sealed, error) {
	pii, err := vault.PII{
		FullName:   fullName,
		NationalID: nationalID,
		DerivedKey: keypair.PrivateHex(),
	}.Encode()
	if err != nil {
		return sealed{}, err
	}
	ciphertext, nonce, err := s.sealer.Seal(key, pii)
	if err != nil {
		return sealed{}, err
	}
	return sealed{ciphertext: ciphertext, nonce: nonce}, nil
}

func (s *Service) openPII(rec *vault.Record) (vault.PII, error) {
	plaintext, err := s.sealer.Open(rec.IdentityKey, rec.Ciphertext, rec.Nonce)
	if err != nil {
		return vault.PII{}, err
	}
	return vault.DecodePII(plaintext)
}

func (s *Service) advance(key domain.IdentityKey, from, to State) State {
	s.logger.Debug("registration state",
		slog.String("identity_key", key.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return to
}

func (s *Service) orNow(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return s.now()
}

func (s *Service) setBreakerGauge(v float64) {
	if s.metrics != nil {
		s.metrics.LedgerBreakerState.Set(v)
	}
}

func (s *Service) countRegistration(err error) {
	if s.metrics == nil {
		return
	}
	outcome := "registered"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
	}
	s.metrics.RegistrationsTotal.WithLabelValues(outcome).Inc()
}

func (s *Service) countVerification(err error) {
	if s.metrics == nil {
		return
	}
	outcome := "verified"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
	}
	s.metrics.VerificationsTotal.WithLabelValues(outcome).Inc()
}
