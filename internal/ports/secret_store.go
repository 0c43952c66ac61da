package ports

import "context"

// SecretStore keeps account secrets. Get returns an error wrapping
// domain.ErrSecretNotFound when the key does not exist.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
