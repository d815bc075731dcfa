// Package hasher computes the one-way fingerprints a voter is known by.
//
// Raw identity fields never leave this package unhashed: callers pass the
// field, get a 32-byte Keccak-256 digest of its canonical form, and store or
// transmit only the digest. Name and identifier are fingerprinted
// independently; the registration identity key binds the pair.
package hasher

import (
	"golang.org/x/crypto/sha3"

	"electorate/pkg/domain"
	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/normalize"
)

// Domain separation prefixes. Digests of different field kinds must never
// collide even for equal input strings.
var (
	namePrefix       = []byte("voter.name.v1")
	identifierPrefix = []byte("voter.nid.v1")
	identityPrefix   = []byte("voter.identity.v1")
)

// NameFingerprint returns the digest of the canonicalized full name.
func NameFingerprint(fullName string) (domain.Fingerprint, error) {
	canonical := normalize.FullName(fullName)
	if canonical == "" {
		return domain.Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "full name cannot be empty")
	}
	return fingerprint(namePrefix, canonical)
}

// IdentifierFingerprint returns the digest of the canonicalized national
// identifier.
func IdentifierFingerprint(nationalID string) (domain.Fingerprint, error) {
	canonical := normalize.Identifier(nationalID)
	if canonical == "" {
		return domain.Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "national identifier cannot be empty")
	}
	return fingerprint(identifierPrefix, canonical)
}

// IdentityKey derives the on-ledger identity key from the fingerprint pair.
// The key commits to both fields, so voters sharing a name (or, in a
// collision of issuing schemes, an identifier) still map to distinct keys.
func IdentityKey(nameFp, idFp domain.Fingerprint) domain.IdentityKey {
	sum := keccak256(identityPrefix, nameFp.Bytes(), idFp.Bytes())
	var k domain.IdentityKey
	copy(k[:], sum)
	return k
}

func fingerprint(prefix []byte, canonical string) (domain.Fingerprint, error) {
	return domain.FingerprintFromBytes(keccak256(prefix, []byte(canonical)))
}

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
