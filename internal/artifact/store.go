// Package artifact renders issued credentials as scannable QR images and
// keeps them in object storage until redemption.
package artifact

import "context"

// ObjectStore is the storage contract. Keys are slash-separated paths;
// implementations return sentinel.ErrNotFound for unknown paths.
type ObjectStore interface {
	// Put writes an object and returns its retrievable URL.
	Put(ctx context.Context, path string, data []byte) (string, error)

	// Get returns an object's bytes.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes an object. Deleting an absent object is not an error;
	// removal runs after redemption and must be idempotent.
	Delete(ctx context.Context, path string) error
}
