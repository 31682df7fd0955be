package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("connection refused")

type failingStorage struct {
	Storage
	failing bool
}

func (s *failingStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failing {
		return nil, errBackendDown
	}
	return s.Storage.Get(ctx, key)
}

func newTestBreaker(underlying Storage) Storage {
	return WithCircuitBreaker(underlying, BreakerSettings{
		Name:         "test",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})
}

func TestBreakerOpensOnBackendFailures(t *testing.T) {
	ctx := context.Background()
	backend := &failingStorage{Storage: NewMemoryStorage(), failing: true}
	storage := newTestBreaker(backend)

	for i := 0; i < 3; i++ {
		_, err := storage.Get(ctx, "k")
		assert.ErrorIs(t, err, errBackendDown)
	}

	backend.failing = false
	_, err := storage.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBreakerIgnoresDomainOutcomes(t *testing.T) {
	ctx := context.Background()
	storage := newTestBreaker(NewMemoryStorage())

	for i := 0; i < 5; i++ {
		_, err := storage.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}

	require.NoError(t, storage.Set(ctx, "k", []byte("v"), time.Minute))
	for i := 0; i < 5; i++ {
		err := storage.Update(ctx, "k", func(val []byte) ([]byte, error) {
			return nil, errRejected
		})
		assert.ErrorIs(t, err, errRejected)
		var aborted *abortedError
		assert.False(t, errors.As(err, &aborted))
	}

	val, err := storage.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}
