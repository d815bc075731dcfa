package vault

import (
	"context"
	"time"

	"electorate/pkg/domain"
)

// Store persists vault records. Implementations are pure I/O: validation and
// state decisions live in the services.
//
// Uniqueness invariants enforced by every implementation:
//   - one record per identity key
//   - one record per national-identifier fingerprint
//
// Both violations surface as sentinel.ErrConflict.
type Store interface {
	// Insert writes a new record. ErrConflict if the identity key or the
	// identifier fingerprint is already present.
	Insert(ctx context.Context, rec *Record) error

	// GetByKey returns the record for an identity key. ErrNotFound if absent.
	GetByKey(ctx context.Context, key domain.IdentityKey) (*Record, error)

	// GetByIDFingerprint returns the record holding the identifier
	// fingerprint. ErrNotFound if absent.
	GetByIDFingerprint(ctx context.Context, fp domain.Fingerprint) (*Record, error)

	// SetLedgerRef fills the ledger reference of an unmirrored record.
	// ErrNotFound if the record is absent; ErrInvalidState if a different
	// reference is already set. Setting the same reference again is a no-op
	// so reconciler retries stay idempotent.
	SetLedgerRef(ctx context.Context, key domain.IdentityKey, ref domain.TxRef) error

	// MarkVerified updates the verification mirror columns.
	// ErrNotFound if the record is absent.
	MarkVerified(ctx context.Context, key domain.IdentityKey, at time.Time) error

	// ListUnmirrored returns up to limit records with no ledger reference,
	// oldest first. The reconciler drains this queue.
	ListUnmirrored(ctx context.Context, limit int) ([]*Record, error)
}
