package reconcile

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"electorate/internal/audit"
	"electorate/internal/identity/keyderive"
	"electorate/internal/ledger"
	"electorate/internal/ledger/memledger"
	"electorate/internal/registrar"
	"electorate/internal/vault"
)

type fixture struct {
	registrar *registrar.Service
	ledger    *memledger.Ledger
	vault     *vault.InMemoryStore
	events    *audit.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	lgr, err := memledger.New()
	require.NoError(t, err)

	sealer, err := vault.NewSealer(bytes.Repeat([]byte{0x11}, vault.MasterKeySize))
	require.NoError(t, err)
	deriver, err := keyderive.New(bytes.Repeat([]byte{0x22}, keyderive.SaltSize))
	require.NoError(t, err)

	f := &fixture{
		ledger: lgr,
		vault:  vault.NewInMemoryStore(),
		events: audit.NewInMemoryStore(),
	}
	f.registrar = registrar.NewService(lgr, f.vault, sealer, deriver,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		registrar.WithConfirmTimeout(time.Second),
		registrar.WithConfirmPoll(time.Millisecond),
	)
	return f
}

func (f *fixture) reconciler(t *testing.T, opts ...Option) *Reconciler {
	t.Helper()
	return New(f.vault, f.registrar,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		append([]Option{WithAuditor(recorderFunc(func(ctx context.Context, e audit.Event) {
			_ = f.events.Append(ctx, e)
		}))}, opts...)...,
	)
}

type recorderFunc func(context.Context, audit.Event)

func (fn recorderFunc) Record(ctx context.Context, e audit.Event) { fn(ctx, e) }

func TestRunOnce_BackfillsOutageRegistrations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.SetUnavailable(true)
	res, err := f.registrar.Register(ctx, "Jonas Basanavičius", "39010112348")
	require.NoError(t, err)
	require.False(t, res.OnLedger)
	f.ledger.SetUnavailable(false)

	rec := f.reconciler(t)
	report, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Repaired: 1}, report)

	t.Run("mirror settled", func(t *testing.T) {
		vaultRec, err := f.vault.GetByKey(ctx, res.IdentityKey)
		require.NoError(t, err)
		assert.True(t, vaultRec.Mirrored())
	})

	t.Run("single ledger entry, no duplicate", func(t *testing.T) {
		ledgerRec, err := f.ledger.Read(ctx, res.IdentityKey)
		require.NoError(t, err)
		assert.Equal(t, res.IdentityKey, ledgerRec.IdentityKey)
		assert.Equal(t, 2, f.ledger.Height(), "genesis plus one registration")
	})

	t.Run("repair audited", func(t *testing.T) {
		events := f.events.All()
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionReconcilerRepaired, events[0].Action)
		assert.Equal(t, res.IdentityKey.String(), events[0].IdentityKey)
	})

	t.Run("queue drained", func(t *testing.T) {
		report, err := rec.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, Report{}, report)
	})
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	report, err := f.reconciler(t).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestRunOnce_LedgerStillDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.SetUnavailable(true)
	_, err := f.registrar.Register(ctx, "Jonas Basanavičius", "39010112348")
	require.NoError(t, err)

	report, err := f.reconciler(t).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Failed: 1}, report)

	t.Run("record stays queued for the next pass", func(t *testing.T) {
		queued, err := f.vault.ListUnmirrored(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, queued, 1)
	})
}

func TestRunOnce_ConflictIsNotRepaired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.SetUnavailable(true)
	res, err := f.registrar.Register(ctx, "Jonas Basanavičius", "39010112348")
	require.NoError(t, err)
	f.ledger.SetUnavailable(false)

	// The identity lands on the ledger behind the reconciler's back.
	vaultRec, err := f.vault.GetByKey(ctx, res.IdentityKey)
	require.NoError(t, err)
	_, err = f.ledger.Submit(ctx, ledger.Record{
		IdentityKey:   res.IdentityKey,
		IDFingerprint: vaultRec.IDFingerprint,
		RegisteredAt:  vaultRec.CreatedAt,
	})
	require.NoError(t, err)

	report, err := f.reconciler(t).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Failed: 1}, report)

	// No guessed reference: the mirror stays unmirrored for an operator.
	vaultRec, err = f.vault.GetByKey(ctx, res.IdentityKey)
	require.NoError(t, err)
	assert.True(t, vaultRec.LedgerTxRef.IsNil())
}

func TestRunOnce_BatchSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.SetUnavailable(true)
	ids := []string{"39010112348", "38607123416", "46003021238"}
	names := []string{"Voter One", "Voter Two", "Voter Three"}
	for i := range ids {
		_, err := f.registrar.Register(ctx, names[i], ids[i])
		require.NoError(t, err)
	}
	f.ledger.SetUnavailable(false)

	rec := f.reconciler(t, WithBatchSize(2), WithRateLimit(1000))
	report, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2, Repaired: 2}, report)

	report, err = rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Repaired: 1}, report)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.reconciler(t, WithInterval(time.Millisecond)).Run(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop on cancel")
	}
}
