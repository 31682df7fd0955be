package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khanghh/kguard/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name         string
	MaxRequests  uint32        // requests let through while half-open
	Interval     time.Duration // closed state counter reset period
	Timeout      time.Duration // open state duration before probing
	MinRequests  uint32
	FailureRatio float64
}

// abortedError carries an error returned by an UpdateFunc through the
// breaker without counting it as a storage failure.
type abortedError struct {
	err error
}

func (e *abortedError) Error() string { return e.err.Error() }
func (e *abortedError) Unwrap() error { return e.err }

type breakerStorage struct {
	underlying Storage
	name       string
	cb         *gobreaker.CircuitBreaker[[]byte]
}

func isStorageSuccess(err error) bool {
	var aborted *abortedError
	return err == nil ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &aborted)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (s *breakerStorage) execute(call func() ([]byte, error)) ([]byte, error) {
	val, err := s.cb.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.StoreBreakerRejections.WithLabelValues(s.name).Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var aborted *abortedError
	if errors.As(err, &aborted) {
		return nil, aborted.err
	}
	return val, err
}

func (s *breakerStorage) Get(ctx context.Context, key string) ([]byte, error) {
	return s.execute(func() ([]byte, error) {
		return s.underlying.Get(ctx, key)
	})
}

func (s *breakerStorage) Set(ctx context.Context, key string, val []byte, expiresIn time.Duration) error {
	_, err := s.execute(func() ([]byte, error) {
		return nil, s.underlying.Set(ctx, key, val, expiresIn)
	})
	return err
}

func (s *breakerStorage) Delete(ctx context.Context, key string) error {
	_, err := s.execute(func() ([]byte, error) {
		return nil, s.underlying.Delete(ctx, key)
	})
	return err
}

func (s *breakerStorage) Expire(ctx context.Context, key string, expiresAt time.Time) error {
	_, err := s.execute(func() ([]byte, error) {
		return nil, s.underlying.Expire(ctx, key, expiresAt)
	})
	return err
}

func (s *breakerStorage) Take(ctx context.Context, key string) ([]byte, error) {
	return s.execute(func() ([]byte, error) {
		return s.underlying.Take(ctx, key)
	})
}

func (s *breakerStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	wrapped := func(val []byte) ([]byte, error) {
		newVal, err := fn(val)
		if err != nil {
			return nil, &abortedError{err: err}
		}
		return newVal, nil
	}
	_, err := s.execute(func() ([]byte, error) {
		return nil, s.underlying.Update(ctx, key, wrapped)
	})
	return err
}

// WithCircuitBreaker fails storage calls fast once the backend has been
// failing, so callers see ErrUnavailable instead of piling up on timeouts.
func WithCircuitBreaker(storage Storage, settings BreakerSettings) Storage {
	metrics.StoreBreakerState.WithLabelValues(settings.Name).Set(0)
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Storage circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.StoreBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		IsSuccessful: isStorageSuccess,
	})
	return &breakerStorage{
		underlying: storage,
		name:       settings.Name,
		cb:         cb,
	}
}
