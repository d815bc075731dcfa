package credential

import (
	"context"
	"time"

	"electorate/pkg/domain"
)

// Store persists credentials. Implementations are pure I/O and return
// sentinel errors; the service translates them into the redemption taxonomy.
//
// Consume is the contract that carries the single-use guarantee: it must be
// an atomic compare-and-set on the consumed flag, never a read followed by a
// write. Every implementation settles concurrent redemption with whatever
// primitive its backend makes atomic (mutex, conditional UPDATE, Lua script).
type Store interface {
	// Insert writes a new credential. ErrConflict if the ID already exists.
	Insert(ctx context.Context, cred *Credential) error

	// GetByID returns the credential. ErrNotFound if absent.
	GetByID(ctx context.Context, id domain.CredentialID) (*Credential, error)

	// FindLive returns the unconsumed, unexpired credential for an identity,
	// or ErrNotFound when no credential currently blocks issuance.
	FindLive(ctx context.Context, key domain.IdentityKey, now time.Time) (*Credential, error)

	// Consume atomically flips the consumed flag. Exactly one concurrent
	// caller succeeds; the rest get ErrAlreadyUsed. ErrNotFound for an
	// unknown ID, ErrExpired when the credential lapsed before the flip.
	Consume(ctx context.Context, id domain.CredentialID, now time.Time) (*Credential, error)

	// HasConsumed reports whether any credential of the identity was ever
	// consumed. Feeds the status read path only.
	HasConsumed(ctx context.Context, key domain.IdentityKey) (bool, error)
}
