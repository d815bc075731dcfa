package credential

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/domain"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewSigner(priv)
}

func testPayload() Payload {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	return Payload{
		CredentialID: domain.NewCredentialID().String(),
		IdentityKey:  testKey(0x11).String(),
		Nonce:        "8a9d79be-9c1b-4f6a-9e34-0a46e2f9f2d5",
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(30 * time.Minute).Unix(),
	}
}

func TestSigner_SignVerifyRoundTrip(t *testing.T) {
	s := testSigner(t)

	env, err := s.Sign(testPayload())
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.NoError(t, s.Verify(env))
}

func TestSigner_RejectsTamperedPayload(t *testing.T) {
	s := testSigner(t)
	env, err := s.Sign(testPayload())
	require.NoError(t, err)

	t.Run("expiry extended", func(t *testing.T) {
		tampered := env
		tampered.Payload.ExpiresAt += 3600
		err := s.Verify(tampered)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeSignatureInvalid))
	})

	t.Run("identity swapped", func(t *testing.T) {
		tampered := env
		tampered.Payload.IdentityKey = testKey(0x22).String()
		err := s.Verify(tampered)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeSignatureInvalid))
	})

	t.Run("signature truncated", func(t *testing.T) {
		tampered := env
		tampered.Signature = tampered.Signature[:10]
		err := s.Verify(tampered)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeSignatureInvalid))
	})

	t.Run("signature bit flipped", func(t *testing.T) {
		raw, err := hex.DecodeString(env.Signature)
		require.NoError(t, err)
		raw[0] ^= 0x01
		tampered := env
		tampered.Signature = hex.EncodeToString(raw)
		assert.True(t, dErrors.HasCode(s.Verify(tampered), dErrors.CodeSignatureInvalid))
	})
}

func TestSigner_RejectsForeignIssuer(t *testing.T) {
	issuer := testSigner(t)
	forger := testSigner(t)

	env, err := forger.Sign(testPayload())
	require.NoError(t, err)

	err = issuer.Verify(env)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSignatureInvalid))
}

func TestEnvelope_EncodeDecodeRoundTrip(t *testing.T) {
	s := testSigner(t)
	env, err := s.Sign(testPayload())
	require.NoError(t, err)

	encoded, err := EncodeEnvelope(env)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
	assert.NoError(t, s.Verify(decoded))
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"not base58":     "0OIl+/=",
		"not json":       "3vQB7B6MdGQZ",
		"empty json doc": "AQ4", // base58 of "{}": version 0 is rejected
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope(input)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
		})
	}
}

func TestNewSignerFromHex(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	s, err := NewSignerFromHex(hex.EncodeToString(crypto.FromECDSA(priv)))
	require.NoError(t, err)

	env, err := s.Sign(testPayload())
	require.NoError(t, err)
	assert.NoError(t, s.Verify(env))

	_, err = NewSignerFromHex("not-a-key")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func FuzzDecodeEnvelope(f *testing.F) {
	f.Add("")
	f.Add("3vQB7B6MdGQZ")
	f.Add("AQ4")
	f.Fuzz(func(t *testing.T, input string) {
		// Decoding must never panic, whatever the input.
		env, err := DecodeEnvelope(input)
		if err == nil && env.Version != EnvelopeVersion {
			t.Fatalf("accepted envelope with version %d", env.Version)
		}
	})
}
