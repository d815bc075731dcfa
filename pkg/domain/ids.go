// Package domain provides typed identifiers shared across the service.
//
// Identifiers are domain primitives: construct them via the Parse functions at
// trust boundaries so validity is enforced once, then carry the typed value.
// Direct conversion bypasses validation and is reserved for test fixtures and
// values produced by the hashing pipeline itself.
package domain

import (
	"encoding/hex"

	"github.com/google/uuid"

	dErrors "electorate/pkg/domain-errors"
)

// HashSize is the byte length of field fingerprints and identity keys.
const HashSize = 32

// Fingerprint is a 32-byte digest of a single normalized identity field.
// Two voters sharing a name share a name fingerprint; the pairing with the
// national-identifier fingerprint is what identifies a voter.
type Fingerprint [HashSize]byte

// FingerprintFromBytes constructs a Fingerprint from raw digest output.
// The slice must be exactly HashSize bytes.
func FingerprintFromBytes(b []byte) (Fingerprint, error) {
	var f Fingerprint
	if len(b) != HashSize {
		return f, dErrors.Newf(dErrors.CodeInvariantViolation, "fingerprint must be %d bytes, got %d", HashSize, len(b))
	}
	copy(f[:], b)
	return f, nil
}

// ParseFingerprint validates and decodes a hex-encoded fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	if s == "" {
		return f, dErrors.New(dErrors.CodeInvalidInput, "fingerprint cannot be empty")
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != HashSize {
		return f, dErrors.New(dErrors.CodeInvalidInput, "fingerprint must be 64 hex characters")
	}
	copy(f[:], b)
	return f, nil
}

// String returns the lowercase hex encoding.
func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// Bytes returns a copy of the digest bytes.
func (f Fingerprint) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, f[:])
	return b
}

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// IdentityKey is the 32-byte key a voter is registered under, on the ledger
// and in the off-chain stores. It is derived from the pair of field
// fingerprints and carries no recoverable personal data.
type IdentityKey [HashSize]byte

// IdentityKeyFromBytes constructs an IdentityKey from raw digest output.
func IdentityKeyFromBytes(b []byte) (IdentityKey, error) {
	var k IdentityKey
	if len(b) != HashSize {
		return k, dErrors.Newf(dErrors.CodeInvariantViolation, "identity key must be %d bytes, got %d", HashSize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// ParseIdentityKey validates and decodes a hex-encoded identity key from
// external input.
func ParseIdentityKey(s string) (IdentityKey, error) {
	var k IdentityKey
	if s == "" {
		return k, dErrors.New(dErrors.CodeInvalidInput, "identity key cannot be empty")
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != HashSize {
		return k, dErrors.New(dErrors.CodeInvalidInput, "identity key must be 64 hex characters")
	}
	copy(k[:], b)
	if (IdentityKey{}) == IdentityKey(k) {
		return IdentityKey{}, dErrors.New(dErrors.CodeInvalidInput, "identity key cannot be all zeroes")
	}
	return k, nil
}

// String returns the lowercase hex encoding.
func (k IdentityKey) String() string { return hex.EncodeToString(k[:]) }

// Bytes returns a copy of the key bytes.
func (k IdentityKey) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, k[:])
	return b
}

// IsZero reports whether the key is unset.
func (k IdentityKey) IsZero() bool { return k == IdentityKey{} }

// TxRef references a confirmed or pending ledger transaction. The format is
// owned by the ledger implementation; this layer treats it as opaque.
type TxRef string

// ParseTxRef validates a transaction reference from external input.
func ParseTxRef(s string) (TxRef, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "transaction reference cannot be empty")
	}
	return TxRef(s), nil
}

// String returns the reference as a string.
func (r TxRef) String() string { return string(r) }

// IsNil reports whether no transaction reference is present. A nil reference
// on a vault record marks a registration still awaiting ledger mirroring.
func (r TxRef) IsNil() bool { return r == "" }

// CredentialID uniquely identifies an issued voting credential.
type CredentialID uuid.UUID

// NewCredentialID generates a random credential ID.
func NewCredentialID() CredentialID { return CredentialID(uuid.New()) }

// ParseCredentialID validates and parses a credential ID from external input.
func ParseCredentialID(s string) (CredentialID, error) {
	if s == "" {
		return CredentialID{}, dErrors.New(dErrors.CodeInvalidInput, "credential id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return CredentialID{}, dErrors.New(dErrors.CodeInvalidInput, "credential id must be a valid UUID")
	}
	if u == uuid.Nil {
		return CredentialID{}, dErrors.New(dErrors.CodeInvalidInput, "credential id cannot be nil")
	}
	return CredentialID(u), nil
}

// String returns the canonical UUID string.
func (c CredentialID) String() string { return uuid.UUID(c).String() }

// IsNil reports whether the ID is unset.
func (c CredentialID) IsNil() bool { return uuid.UUID(c) == uuid.Nil }
