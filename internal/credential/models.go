// Package credential mints and redeems single-use voting credentials.
//
// A credential is a signed, time-bound envelope handed to a verified voter.
// Issuance enforces at most one live credential per identity; redemption is
// an atomic check-and-set in the backing store, so under concurrent attempts
// exactly one caller wins and every other observes AlreadyConsumed.
package credential

import (
	"time"

	"electorate/pkg/domain"
)

// Credential is the stored side of an issued voting token. The envelope the
// voter holds carries the same fields plus the issuer signature; the store
// row is what the consumed flag lives on.
type Credential struct {
	ID          domain.CredentialID
	IdentityKey domain.IdentityKey
	Nonce       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Consumed    bool
	ConsumedAt  *time.Time
}

// Live reports whether the credential still blocks issuance of another one:
// not consumed and not expired at the given instant.
func (c *Credential) Live(now time.Time) bool {
	return !c.Consumed && now.Before(c.ExpiresAt)
}

// Payload is the signed portion of the envelope. Field order is fixed; the
// serialized form is the exact byte string the issuer signature covers.
type Payload struct {
	CredentialID string `json:"cid"`
	IdentityKey  string `json:"key"`
	Nonce        string `json:"nonce"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

// Envelope is the complete artifact the voter presents at redemption:
// the payload plus the issuer's recoverable secp256k1 signature.
type Envelope struct {
	Version   int     `json:"v"`
	Payload   Payload `json:"payload"`
	Signature string  `json:"sig"`
}

// EnvelopeVersion is the current wire version. Decoding rejects others.
const EnvelopeVersion = 1
