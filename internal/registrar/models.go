// Package registrar orchestrates the dual write a registration consists of:
// the authoritative ledger entry and the encrypted off-chain vault record.
//
// Policy: availability over strict mirroring. The ledger goes first because
// its writes are the hard ones to reverse, but a ledger failure degrades the
// registration to vault-only instead of aborting it; the reconciler settles
// the difference later. The one outcome that is an error rather than a
// degradation is the inverse gap, a ledger entry with no vault record.
package registrar

import (
	"electorate/pkg/domain"
)

// State names a registration attempt's position in its lifecycle. States are
// logged per transition so a stuck attempt can be placed exactly.
type State string

const (
	StateReceived             State = "received"
	StateFingerprintsComputed State = "fingerprints_computed"
	StateLedgerSubmitted      State = "ledger_submitted"
	StateLedgerConfirmed      State = "ledger_confirmed"
	StateLedgerFailed         State = "ledger_failed"
	StateVaultWritten         State = "vault_written"
	StateComplete             State = "complete"
	StatePartialFailure       State = "partial_failure"
)

// LedgerStatus tags the three-way outcome of the ledger side of a write.
// This replaces catch-and-continue control flow: callers switch on the tag,
// nothing is swallowed.
type LedgerStatus string

const (
	// LedgerOK: submitted and confirmed within the await window.
	LedgerOK LedgerStatus = "confirmed"
	// LedgerDegraded: submission failed or confirmation did not arrive; the
	// vault write proceeds and the reconciler owns the retry.
	LedgerDegraded LedgerStatus = "degraded"
	// LedgerOrphaned: the ledger write landed but the vault write after it
	// failed. Integrity alert; requires backfill, never silent repair.
	LedgerOrphaned LedgerStatus = "orphaned"
)

// LedgerOutcome carries the tag plus the evidence behind it.
type LedgerOutcome struct {
	Status LedgerStatus
	TxRef  domain.TxRef
	Err    error
}

// Result is what a completed (possibly degraded) registration reports.
type Result struct {
	IdentityKey    domain.IdentityKey
	DerivedAddress string
	Registered     bool
	OnLedger       bool
	LedgerTxRef    domain.TxRef
	FinalState     State
}

// VerifyResult reports a verification transition.
type VerifyResult struct {
	IdentityKey domain.IdentityKey
	Verified    bool
	LedgerTxRef domain.TxRef
}
