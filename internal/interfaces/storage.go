package interfaces

import (
	"context"
	"errors"
)

// ErrNotFound is returned (wrapped) by KeyValueStorage.Get when the key is absent.
var ErrNotFound = errors.New("key not found")

// StorageManager provides access to the configured storage backend.
// Implementations can be swapped (badger, redis, sqlite, memory).
type StorageManager interface {
	KeyValueStorage() KeyValueStorage
	Backend() string
	Close() error
}

// KeyValueStorage provides basic key-value operations.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context) (map[string]string, error)
	// Update replaces the value under key with fn's result as one atomic
	// read-modify-write. fn gets the current value and whether the key exists.
	// It may run more than once if another writer changes key first, so it
	// must be safe to repeat. An error from fn
	// aborts the update and is returned unchanged.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// UpdateFunc computes the next value for KeyValueStorage.Update.
type UpdateFunc func(current string, found bool) (string, error)
