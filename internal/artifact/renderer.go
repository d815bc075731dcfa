package artifact

import (
	"context"
	"fmt"
	"log/slog"

	qrcode "github.com/skip2/go-qrcode"

	"electorate/pkg/domain"
)

// DefaultQRSize is the rendered image edge in pixels.
const DefaultQRSize = 512

// Renderer turns credential envelopes into QR images in object storage.
// The envelope is base58 text, well within QR capacity at medium error
// correction.
type Renderer struct {
	store  ObjectStore
	size   int
	logger *slog.Logger
}

// NewRenderer creates a renderer writing size-pixel images.
func NewRenderer(store ObjectStore, size int, logger *slog.Logger) *Renderer {
	if size <= 0 {
		size = DefaultQRSize
	}
	return &Renderer{store: store, size: size, logger: logger}
}

func credentialPath(id domain.CredentialID) string {
	return "credentials/" + id.String() + ".png"
}

// Render encodes the envelope as a PNG QR code and stores it, returning the
// object URL.
func (r *Renderer) Render(ctx context.Context, id domain.CredentialID, envelope string) (string, error) {
	png, err := qrcode.Encode(envelope, qrcode.Medium, r.size)
	if err != nil {
		return "", fmt.Errorf("encode credential qr: %w", err)
	}
	url, err := r.store.Put(ctx, credentialPath(id), png)
	if err != nil {
		return "", err
	}
	r.logger.Debug("credential artifact stored",
		slog.String("credential_id", id.String()),
		slog.String("url", url),
	)
	return url, nil
}

// Fetch returns the stored image. sentinel.ErrNotFound after redemption or
// for an unknown credential.
func (r *Renderer) Fetch(ctx context.Context, id domain.CredentialID) ([]byte, error) {
	return r.store.Get(ctx, credentialPath(id))
}

// Remove deletes the image. Called after redemption; a redeemed credential's
// QR must stop being servable.
func (r *Renderer) Remove(ctx context.Context, id domain.CredentialID) error {
	return r.store.Delete(ctx, credentialPath(id))
}
