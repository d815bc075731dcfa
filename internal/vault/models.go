// Package vault is the off-chain side of a registration: encrypted PII plus
// the mirror of what the ledger knows.
//
// The vault is the availability store. A registration survives here even when
// the ledger rejects or times out; the reconciler later settles the mirror
// columns (ledger ref, verified flag) against ledger truth.
package vault

import (
	"encoding/json"
	"time"

	"electorate/pkg/domain"
	dErrors "electorate/pkg/domain-errors"
)

// Record is one registered voter as the off-chain store sees them.
//
// LedgerTxRef is nil ("") while the registration has not been mirrored to the
// ledger; those records are the reconciler's work queue. Verified and
// VerifiedAt mirror the ledger's verification state for cheap status reads
// and may lag the ledger.
type Record struct {
	IdentityKey    domain.IdentityKey
	IDFingerprint  domain.Fingerprint
	Ciphertext     []byte
	Nonce          []byte
	DerivedAddress string
	LedgerTxRef    domain.TxRef
	Verified       bool
	VerifiedAt     *time.Time
	CreatedAt      time.Time
}

// Mirrored reports whether the registration has a confirmed ledger entry.
func (r *Record) Mirrored() bool { return !r.LedgerTxRef.IsNil() }

// PII is the plaintext that only ever exists inside a sealed envelope or in
// request-scoped memory. DerivedKey is the hex form of the voter's derived
// private key; it is re-derivable from the identifier, so the sealed copy is
// a convenience, not the only holder of the secret.
type PII struct {
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	DerivedKey string `json:"derived_key,omitempty"`
}

// Encode serializes PII for sealing.
func (p PII) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode pii")
	}
	return b, nil
}

// DecodePII parses an opened envelope back into PII.
func DecodePII(b []byte) (PII, error) {
	var p PII
	if err := json.Unmarshal(b, &p); err != nil {
		return PII{}, dErrors.Wrap(err, dErrors.CodeIntegrity, "vault plaintext is not valid pii")
	}
	return p, nil
}
