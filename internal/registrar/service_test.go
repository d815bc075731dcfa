package registrar

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"electorate/internal/audit"
	"electorate/internal/identity/hasher"
	"electorate/internal/identity/keyderive"
	"electorate/internal/ledger/memledger"
	"electorate/internal/vault"
	"electorate/pkg/domain"
	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/circuit"
	"electorate/pkg/platform/sentinel"
)

const (
	testName = "Jonas Basanavičius"
	testNID  = "39010112348"
)

type captureAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureAuditor) Record(_ context.Context, event audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureAuditor) byAction(action audit.Action) []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Event
	for _, e := range c.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	ledger  *memledger.Ledger
	vault   *vault.InMemoryStore
	sealer  *vault.Sealer
	auditor *captureAuditor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	lgr, err := memledger.New()
	require.NoError(t, err)

	sealer, err := vault.NewSealer(bytes.Repeat([]byte{0x42}, vault.MasterKeySize))
	require.NoError(t, err)
	deriver, err := keyderive.New(bytes.Repeat([]byte{0x07}, keyderive.SaltSize))
	require.NoError(t, err)

	f := &fixture{
		ledger:  lgr,
		vault:   vault.NewInMemoryStore(),
		sealer:  sealer,
		auditor: &captureAuditor{},
	}
	base := []Option{
		WithAuditor(f.auditor),
		WithConfirmTimeout(time.Second),
		WithConfirmPoll(time.Millisecond),
	}
	f.svc = NewService(lgr, f.vault, sealer, deriver,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		append(base, opts...)...,
	)
	return f
}

func identityKeyFor(t *testing.T, name, nid string) domain.IdentityKey {
	t.Helper()
	nameFp, err := hasher.NameFingerprint(name)
	require.NoError(t, err)
	idFp, err := hasher.IdentifierFingerprint(nid)
	require.NoError(t, err)
	return hasher.IdentityKey(nameFp, idFp)
}

func TestRegister_Complete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, testName, testNID)
	require.NoError(t, err)

	assert.True(t, res.Registered)
	assert.True(t, res.OnLedger)
	assert.False(t, res.LedgerTxRef.IsNil())
	assert.Equal(t, StateComplete, res.FinalState)
	assert.Equal(t, identityKeyFor(t, testName, testNID), res.IdentityKey)

	t.Run("ledger holds the record", func(t *testing.T) {
		rec, err := f.ledger.Read(ctx, res.IdentityKey)
		require.NoError(t, err)
		assert.False(t, rec.Verified)
		assert.Equal(t, res.IdentityKey, rec.IdentityKey)
	})

	t.Run("vault record is mirrored and sealed", func(t *testing.T) {
		rec, err := f.vault.GetByKey(ctx, res.IdentityKey)
		require.NoError(t, err)
		assert.Equal(t, res.LedgerTxRef, rec.LedgerTxRef)
		assert.Equal(t, res.DerivedAddress, rec.DerivedAddress)

		plaintext, err := f.sealer.Open(rec.IdentityKey, rec.Ciphertext, rec.Nonce)
		require.NoError(t, err)
		pii, err := vault.DecodePII(plaintext)
		require.NoError(t, err)
		assert.Equal(t, testName, pii.FullName)
		assert.Equal(t, testNID, pii.NationalID)
		assert.NotEmpty(t, pii.DerivedKey)
	})

	t.Run("registration audited", func(t *testing.T) {
		events := f.auditor.byAction(audit.ActionRegistered)
		require.Len(t, events, 1)
		assert.Equal(t, string(StateComplete), events[0].Outcome)
	})
}

func TestRegister_DuplicateRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, testName, testNID)
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, testName, testNID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyRegistered), "got %v", err)

	t.Run("same identifier different name", func(t *testing.T) {
		_, err := f.svc.Register(ctx, "Another Name", testNID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyRegistered), "got %v", err)
	})
}

// A ledger entry with no vault record (lost off-chain store) still blocks
// re-registration through the ledger-side check.
func TestRegister_LedgerOnlyDuplicateRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, testName, testNID)
	require.NoError(t, err)

	// Fresh vault, same ledger.
	lonely := newFixture(t)
	lonely.svc.ledger = f.ledger

	_, err = lonely.svc.Register(ctx, testName, testNID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyRegistered), "got %v", err)
}

func TestRegister_LedgerOutageDegrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.SetUnavailable(true)

	res, err := f.svc.Register(ctx, testName, testNID)
	require.NoError(t, err, "availability outranks mirroring")

	assert.True(t, res.Registered)
	assert.False(t, res.OnLedger)
	assert.True(t, res.LedgerTxRef.IsNil())
	assert.Equal(t, StatePartialFailure, res.FinalState)

	rec, err := f.vault.GetByKey(ctx, res.IdentityKey)
	require.NoError(t, err)
	assert.False(t, rec.Mirrored(), "ledgerTxRef stays null for the reconciler")

	assert.Len(t, f.auditor.byAction(audit.ActionLedgerDegraded), 1)
}

type insertFailStore struct {
	*vault.InMemoryStore
	failInsert bool
}

func (s *insertFailStore) Insert(ctx context.Context, rec *vault.Record) error {
	if s.failInsert {
		return sentinel.ErrUnavailable
	}
	return s.InMemoryStore.Insert(ctx, rec)
}

func TestRegister_OrphanedLedgerEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failing := &insertFailStore{InMemoryStore: f.vault, failInsert: true}
	f.svc.vault = failing

	_, err := f.svc.Register(ctx, testName, testNID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrity), "got %v", err)

	// The ledger entry exists; the inconsistency is alerted, not repaired.
	key := identityKeyFor(t, testName, testNID)
	_, lerr := f.ledger.Read(ctx, key)
	assert.NoError(t, lerr)

	events := f.auditor.byAction(audit.ActionOrphanDetected)
	require.Len(t, events, 1)
	assert.Equal(t, string(LedgerOrphaned), events[0].Outcome)
}

// Every lifecycle state of a clean registration shows up in the transition
// log, submission included.
func TestRegister_StateTransitionsLogged(t *testing.T) {
	ctx := context.Background()

	lgr, err := memledger.New()
	require.NoError(t, err)
	sealer, err := vault.NewSealer(bytes.Repeat([]byte{0x42}, vault.MasterKeySize))
	require.NoError(t, err)
	deriver, err := keyderive.New(bytes.Repeat([]byte{0x07}, keyderive.SaltSize))
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	svc := NewService(lgr, vault.NewInMemoryStore(), sealer, deriver, logger,
		WithConfirmTimeout(time.Second),
		WithConfirmPoll(time.Millisecond),
	)

	_, err = svc.Register(ctx, testName, testNID)
	require.NoError(t, err)

	for _, state := range []State{
		StateFingerprintsComputed,
		StateLedgerSubmitted,
		StateLedgerConfirmed,
		StateVaultWritten,
		StateComplete,
	} {
		assert.Contains(t, buf.String(), "to="+string(state))
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("unregistered identity", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Verify(ctx, identityKeyFor(t, testName, testNID))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
	})

	t.Run("verifies exactly once", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.Register(ctx, testName, testNID)
		require.NoError(t, err)

		vres, err := f.svc.Verify(ctx, res.IdentityKey)
		require.NoError(t, err)
		assert.True(t, vres.Verified)
		assert.False(t, vres.LedgerTxRef.IsNil())

		ledgerRec, err := f.ledger.Read(ctx, res.IdentityKey)
		require.NoError(t, err)
		assert.True(t, ledgerRec.Verified)

		vaultRec, err := f.vault.GetByKey(ctx, res.IdentityKey)
		require.NoError(t, err)
		assert.True(t, vaultRec.Verified)

		heightAfterVerify := f.ledger.Height()
		_, err = f.svc.Verify(ctx, res.IdentityKey)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyVerified), "got %v", err)
		assert.Equal(t, heightAfterVerify, f.ledger.Height(), "no extra ledger transaction for the repeat")
	})

	t.Run("unmirrored registration cannot verify yet", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.SetUnavailable(true)
		res, err := f.svc.Register(ctx, testName, testNID)
		require.NoError(t, err)
		f.ledger.SetUnavailable(false)

		_, err = f.svc.Verify(ctx, res.IdentityKey)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable), "got %v", err)
	})

	t.Run("stale mirror settles without a new transaction", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.Register(ctx, testName, testNID)
		require.NoError(t, err)

		// Verify on the ledger directly; the vault mirror stays stale.
		now := time.Now().UTC()
		rec, err := f.ledger.Read(ctx, res.IdentityKey)
		require.NoError(t, err)
		verifyRec := *rec
		verifyRec.Verified = true
		verifyRec.VerifiedAt = &now
		_, err = f.ledger.Submit(ctx, verifyRec)
		require.NoError(t, err)
		height := f.ledger.Height()

		_, err = f.svc.Verify(ctx, res.IdentityKey)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyVerified), "got %v", err)
		assert.Equal(t, height, f.ledger.Height())

		vaultRec, err := f.vault.GetByKey(ctx, res.IdentityKey)
		require.NoError(t, err)
		assert.True(t, vaultRec.Verified, "mirror settled from ledger truth")
	})
}

func TestRegister_ConcurrentSameIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const goroutines = 16
	var wg sync.WaitGroup
	var wins, duplicates atomic.Int32

	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Register(ctx, testName, testNID)
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeAlreadyRegistered):
				duplicates.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one registration wins")
	assert.Equal(t, int32(goroutines-1), duplicates.Load())
}

func TestRegister_BreakerShortCircuits(t *testing.T) {
	breaker := circuit.New("ledger", circuit.WithFailureThreshold(2))
	f := newFixture(t, WithBreaker(breaker))
	ctx := context.Background()

	f.ledger.SetUnavailable(true)
	_, err := f.svc.Register(ctx, "Voter One", "39010112348")
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "Voter Two", "38607123416")
	require.NoError(t, err)
	require.True(t, breaker.IsOpen(), "two consecutive failures open the circuit")

	// Ledger recovers, but the open breaker keeps degrading until a success
	// is recorded through it; this registration must not reach the ledger.
	f.ledger.SetUnavailable(false)
	res, err := f.svc.Register(ctx, "Voter Three", "46003021238")
	require.NoError(t, err)
	assert.False(t, res.OnLedger)
	_, err = f.ledger.Read(ctx, res.IdentityKey)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestSubmitRegistration_Reconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.SetUnavailable(true)
	res, err := f.svc.Register(ctx, testName, testNID)
	require.NoError(t, err)
	f.ledger.SetUnavailable(false)

	rec, err := f.vault.GetByKey(ctx, res.IdentityKey)
	require.NoError(t, err)

	ref, err := f.svc.SubmitRegistration(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ref.IsNil())

	ledgerRec, err := f.ledger.Read(ctx, res.IdentityKey)
	require.NoError(t, err)
	assert.Equal(t, res.IdentityKey, ledgerRec.IdentityKey)

	t.Run("second submission conflicts", func(t *testing.T) {
		_, err := f.svc.SubmitRegistration(ctx, rec)
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})
}
