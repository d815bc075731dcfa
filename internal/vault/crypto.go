package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"electorate/pkg/domain"
	dErrors "electorate/pkg/domain-errors"
)

// MasterKeySize is the required master key length in bytes.
const MasterKeySize = 32

var kdfInfo = []byte("electorate.vault.record.v1")

// Sealer encrypts and decrypts PII envelopes.
//
// Each record is encrypted under its own key, derived from the master key and
// the record's identity key via HKDF. The identity key also rides along as
// AEAD associated data, so a ciphertext copied onto another record fails to
// open even though the envelope itself is intact.
type Sealer struct {
	master []byte
}

// NewSealer creates a Sealer from the process master key. The key lives only
// in memory; there is no persistence path for it in this package.
func NewSealer(masterKey []byte) (*Sealer, error) {
	if len(masterKey) != MasterKeySize {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "vault master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	s := &Sealer{master: make([]byte, MasterKeySize)}
	copy(s.master, masterKey)
	return s, nil
}

// Seal encrypts plaintext for the given record. Returns ciphertext and the
// random nonce; both are stored, neither is secret.
func (s *Sealer) Seal(key domain.IdentityKey, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := s.recordAEAD(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate nonce")
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, key.Bytes())
	return ciphertext, nonce, nil
}

// Open decrypts a stored envelope.
//
// Authentication failure means the record was tampered with, corrupted, or
// sealed under different key material. That is data loss, not a transient
// fault: the error carries the integrity code and callers must never retry.
func (s *Sealer) Open(key domain.IdentityKey, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := s.recordAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, dErrors.New(dErrors.CodeIntegrity, "vault envelope nonce has wrong length")
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, key.Bytes())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIntegrity, "vault record failed authentication")
	}
	return plaintext, nil
}

func (s *Sealer) recordAEAD(key domain.IdentityKey) (cipher.AEAD, error) {
	recordKey := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, s.master, key.Bytes(), kdfInfo)
	if _, err := io.ReadFull(kdf, recordKey); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "derive record key")
	}
	c, err := chacha20poly1305.New(recordKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "init record cipher")
	}
	return c, nil
}
