// Package ledger defines the authoritative registration ledger contract.
//
// The ledger is an external collaborator behind a narrow interface: records
// go in via Submit, settle asynchronously, and are read back by identity key.
// It is append-only; the only in-place mutation a record ever sees is the
// single verified flip, and implementations enforce that at the ledger
// itself, not just in calling services.
package ledger

import (
	"context"
	"time"

	"electorate/pkg/domain"
)

// Record is a voter registration as the ledger stores it. It carries only
// fingerprints; raw identity fields never reach the ledger.
type Record struct {
	IdentityKey     domain.IdentityKey
	NameFingerprint domain.Fingerprint
	IDFingerprint   domain.Fingerprint
	Verified        bool
	RegisteredAt    time.Time
	VerifiedAt      *time.Time
}

// ConfirmStatus is the settlement state of a submitted transaction.
type ConfirmStatus string

const (
	StatusPending   ConfirmStatus = "pending"
	StatusConfirmed ConfirmStatus = "confirmed"
	StatusReverted  ConfirmStatus = "reverted"
)

// Ledger is the write/read contract. Implementations translate their own
// failures into sentinel errors:
//
//	Submit: sentinel.ErrConflict for a duplicate registration,
//	        sentinel.ErrNotFound for a verification of an unknown key,
//	        sentinel.ErrInvalidState for a second verification,
//	        sentinel.ErrUnavailable when the ledger cannot be reached.
//	Confirm: sentinel.ErrNotFound for an unknown reference.
//	Read: sentinel.ErrNotFound for an unknown key.
//
// Submitting rec.Verified == false registers a new identity; submitting
// rec.Verified == true appends the verification entry for an existing one.
type Ledger interface {
	Submit(ctx context.Context, rec Record) (domain.TxRef, error)
	Confirm(ctx context.Context, ref domain.TxRef) (ConfirmStatus, error)
	Read(ctx context.Context, key domain.IdentityKey) (*Record, error)
}
