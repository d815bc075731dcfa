// Package keyderive turns a national identifier into a reproducible secp256k1
// keypair.
//
// The derivation is a pure function of (salt, identifier): nothing is stored,
// and the same voter always resolves to the same key and address. The salt is
// a process-wide secret loaded at startup; it must never be logged or
// persisted alongside derived material, because salt plus identifier
// reproduces the private key.
package keyderive

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/normalize"
)

// SaltSize is the required salt length in bytes.
const SaltSize = 32

// maxSeedRetries bounds the weak-seed recovery loop. A single retry fires
// with probability around 2^-128, so hitting the cap means the input pipeline
// is broken, not that we were unlucky.
const maxSeedRetries = 8

var retrySeparator = []byte("electorate.keyderive.retry.v1")

// Keypair is a derived signing identity.
type Keypair struct {
	Private *ecdsa.PrivateKey
	Address common.Address
}

// PublicKey returns the public half.
func (k *Keypair) PublicKey() *ecdsa.PublicKey {
	return &k.Private.PublicKey
}

// PrivateHex returns the private scalar hex-encoded, the form sealed into a
// vault envelope. Callers must never log or persist it unencrypted.
func (k *Keypair) PrivateHex() string {
	return hex.EncodeToString(crypto.FromECDSA(k.Private))
}

// Deriver derives keypairs under a fixed secret salt.
type Deriver struct {
	salt []byte
}

// New creates a Deriver. The salt must be exactly SaltSize bytes of secret
// random material; rotating it re-keys every voter, so rotation is an offline
// migration, not a restart-time swap.
func New(salt []byte) (*Deriver, error) {
	if len(salt) != SaltSize {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "derivation salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	d := &Deriver{salt: make([]byte, SaltSize)}
	copy(d.salt, salt)
	return d, nil
}

// Derive returns the keypair for a national identifier.
//
// The seed is HMAC-SHA256(salt, canonical identifier) interpreted as a
// secp256k1 scalar. If the seed falls outside the valid scalar range it is
// re-derived under a retry separator rather than reduced modulo the curve
// order; modular reduction would silently map two seeds to one key.
func (d *Deriver) Derive(nationalID string) (*Keypair, error) {
	canonical := normalize.Identifier(nationalID)
	if canonical == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "national identifier cannot be empty")
	}

	seed := d.mac(nil, []byte(canonical))
	for attempt := 1; ; attempt++ {
		priv, err := crypto.ToECDSA(seed)
		if err == nil {
			return &Keypair{
				Private: priv,
				Address: crypto.PubkeyToAddress(priv.PublicKey),
			}, nil
		}
		if attempt > maxSeedRetries {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "key derivation exhausted seed retries")
		}
		seed = d.mac([]byte{byte(attempt)}, []byte(canonical))
	}
}

func (d *Deriver) mac(attempt, canonical []byte) []byte {
	m := hmac.New(sha256.New, d.salt)
	if attempt != nil {
		m.Write(retrySeparator)
		m.Write(attempt)
	}
	m.Write(canonical)
	return m.Sum(nil)
}
