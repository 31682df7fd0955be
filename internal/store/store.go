package store

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

type store[T any] struct {
	storage Storage
}

func (s *store[T]) Storage() Storage {
	return s.storage
}

func (s *store[T]) decode(data []byte) (T, error) {
	var obj T
	err := json.Unmarshal(data, &obj)
	return obj, err
}

func (s *store[T]) Get(ctx context.Context, key string) (T, error) {
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.decode(data)
}

func (s *store[T]) Set(ctx context.Context, key string, val T, expiresIn time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, key, data, expiresIn)
}

func (s *store[T]) Delete(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, key)
}

func (s *store[T]) Expire(ctx context.Context, key string, expiresAt time.Time) error {
	return s.storage.Expire(ctx, key, expiresAt)
}

func (s *store[T]) Take(ctx context.Context, key string) (T, error) {
	data, err := s.storage.Take(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.decode(data)
}

// Update decodes the current value, applies fn and writes the result back
// atomically. The returned value is the one that was committed.
func (s *store[T]) Update(ctx context.Context, key string, fn func(val *T) error) (T, error) {
	var committed T
	err := s.storage.Update(ctx, key, func(data []byte) ([]byte, error) {
		obj, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		if err := fn(&obj); err != nil {
			committed = obj
			return nil, err
		}
		committed = obj
		return json.Marshal(obj)
	})
	return committed, err
}

func New[T any](storage Storage, keyPrefix string) Store[T] {
	return &store[T]{
		storage: StorageWithPrefix(storage, keyPrefix),
	}
}
