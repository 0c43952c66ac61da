package ports

import (
	"context"
	"time"
)

// KeyValueStore is a flat byte store. Get returns an error wrapping
// domain.ErrRecordNotFound for missing keys; Delete of a missing key is not an error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Sealer encrypts and authenticates opaque payloads.
type Sealer interface {
	Seal(plaintext []byte) (nonce []byte, ciphertext []byte, err error)
	Open(nonce []byte, ciphertext []byte) ([]byte, error)
}
