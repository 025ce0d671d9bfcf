// Package storage persists generated artifacts and user media and purges
// ephemeral objects once they expire.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore is the byte-level backend behind AssetStore.
type ObjectStore interface {
	Driver() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	URL(key string) string
}
