package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUpdateConflict = errors.New("update conflict")
	ErrUnavailable    = errors.New("storage unavailable")
)

// UpdateFunc receives the current value of a key and returns its replacement.
// Returning an error aborts the update and leaves the key untouched.
type UpdateFunc func(val []byte) ([]byte, error)

// Storage is a TTL keyed byte store. Take and Update are atomic against
// concurrent callers of the same backend, including other processes sharing it.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, expiresIn time.Duration) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, expiresAt time.Time) error
	// Take reads and removes a key in one step. Only one of any number of
	// concurrent callers receives the value, the rest get ErrNotFound.
	Take(ctx context.Context, key string) ([]byte, error)
	// Update replaces the value of an existing key, keeping its expiry.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

type Store[T any] interface {
	Storage() Storage
	Get(ctx context.Context, key string) (T, error)
	Set(ctx context.Context, key string, val T, expiresIn time.Duration) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, expiresAt time.Time) error
	Take(ctx context.Context, key string) (T, error)
	Update(ctx context.Context, key string, fn func(val *T) error) (T, error)
}
