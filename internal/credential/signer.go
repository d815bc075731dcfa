package credential

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"

	dErrors "electorate/pkg/domain-errors"
)

// Signer signs and verifies credential envelopes with the issuer's secp256k1
// key. The signature is recoverable, so verification needs only the issuer's
// public key compiled into the verifier side.
type Signer struct {
	priv *ecdsa.PrivateKey
	pub  []byte
}

// NewSigner creates a Signer from the issuer private key.
func NewSigner(priv *ecdsa.PrivateKey) *Signer {
	return &Signer{
		priv: priv,
		pub:  crypto.FromECDSAPub(&priv.PublicKey),
	}
}

// NewSignerFromHex parses a hex-encoded issuer private key, as carried in
// configuration.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "issuer key is not a valid secp256k1 private key")
	}
	return NewSigner(priv), nil
}

// Sign produces the envelope for a payload.
func (s *Signer) Sign(p Payload) (Envelope, error) {
	sig, err := crypto.Sign(payloadDigest(p), s.priv)
	if err != nil {
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeInternal, "sign credential payload")
	}
	return Envelope{
		Version:   EnvelopeVersion,
		Payload:   p,
		Signature: hex.EncodeToString(sig),
	}, nil
}

// Verify checks that the envelope's signature was produced by the issuer key
// over exactly this payload. Any mismatch, malformed signature included,
// reports CodeSignatureInvalid; the verifier never reveals which byte failed.
func (s *Signer) Verify(env Envelope) error {
	sig, err := hex.DecodeString(env.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return dErrors.New(dErrors.CodeSignatureInvalid, "credential signature is malformed")
	}
	recovered, err := crypto.Ecrecover(payloadDigest(env.Payload), sig)
	if err != nil || !bytes.Equal(recovered, s.pub) {
		return dErrors.New(dErrors.CodeSignatureInvalid, "credential signature does not match the issuer")
	}
	return nil
}

// payloadDigest is the Keccak-256 digest the signature covers. A domain
// prefix keeps credential signatures distinct from any other signature the
// issuer key might ever produce.
func payloadDigest(p Payload) []byte {
	enc, _ := json.Marshal(p)
	return crypto.Keccak256([]byte("electorate.credential.v1"), enc)
}

// EncodeEnvelope serializes an envelope to its compact base58 wire form, the
// string embedded in the QR artifact.
func EncodeEnvelope(env Envelope) (string, error) {
	enc, err := json.Marshal(env)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "encode credential envelope")
	}
	return base58.Encode(enc), nil
}

// DecodeEnvelope parses the wire form back into an envelope. Shape errors are
// CodeInvalidInput; they say nothing about signature validity.
func DecodeEnvelope(s string) (Envelope, error) {
	if s == "" {
		return Envelope{}, dErrors.New(dErrors.CodeInvalidInput, "credential envelope cannot be empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return Envelope{}, dErrors.New(dErrors.CodeInvalidInput, "credential envelope is not valid base58")
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, dErrors.New(dErrors.CodeInvalidInput, "credential envelope is not valid")
	}
	if env.Version != EnvelopeVersion {
		return Envelope{}, dErrors.Newf(dErrors.CodeInvalidInput, "unsupported credential envelope version %d", env.Version)
	}
	return env, nil
}
