package store

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gofiber/storage/memory/v2"
)

const expiryHeaderLen = 8

// MemoryStorage keeps records in process memory. Every record is prefixed
// with its absolute expiry so that Update can keep the remaining TTL.
type MemoryStorage struct {
	mu  sync.Mutex
	db  *memory.Storage
	now func() time.Time
}

func (s *MemoryStorage) encode(val []byte, expiresAt time.Time) []byte {
	buf := make([]byte, expiryHeaderLen+len(val))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(buf, uint64(expiresAt.UnixNano()))
	}
	copy(buf[expiryHeaderLen:], val)
	return buf
}

func (s *MemoryStorage) load(key string) ([]byte, time.Time, error) {
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(raw) < expiryHeaderLen {
		return nil, time.Time{}, ErrNotFound
	}
	var expiresAt time.Time
	if nanos := binary.BigEndian.Uint64(raw); nanos != 0 {
		expiresAt = time.Unix(0, int64(nanos))
		if !s.now().Before(expiresAt) {
			s.db.Delete(key)
			return nil, time.Time{}, ErrNotFound
		}
	}
	val := make([]byte, len(raw)-expiryHeaderLen)
	copy(val, raw[expiryHeaderLen:])
	return val, expiresAt, nil
}

func (s *MemoryStorage) store(key string, val []byte, expiresAt time.Time) error {
	var exp time.Duration
	if !expiresAt.IsZero() {
		exp = expiresAt.Sub(s.now())
		if exp <= 0 {
			return s.db.Delete(key)
		}
		// the backing store expires with second granularity
		exp += time.Second
	}
	return s.db.Set(key, s.encode(val, expiresAt), exp)
}

func (s *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	val, _, err := s.load(key)
	return val, err
}

func (s *MemoryStorage) Set(ctx context.Context, key string, val []byte, expiresIn time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var expiresAt time.Time
	if expiresIn > 0 {
		expiresAt = s.now().Add(expiresIn)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(key, val, expiresAt)
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, err := s.load(key); err != nil {
		return err
	}
	return s.db.Delete(key)
}

func (s *MemoryStorage) Expire(ctx context.Context, key string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	val, _, err := s.load(key)
	if err != nil {
		return err
	}
	return s.store(key, val, expiresAt)
}

func (s *MemoryStorage) Take(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	val, _, err := s.load(key)
	if err != nil {
		return nil, err
	}
	return val, s.db.Delete(key)
}

func (s *MemoryStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	val, expiresAt, err := s.load(key)
	if err != nil {
		return err
	}
	newVal, err := fn(val)
	if err != nil {
		return err
	}
	return s.store(key, newVal, expiresAt)
}

func (s *MemoryStorage) Close() error {
	return s.db.Close()
}

func NewMemoryStorage() *MemoryStorage {
	return NewMemoryStorageWithClock(time.Now)
}

func NewMemoryStorageWithClock(now func() time.Time) *MemoryStorage {
	return &MemoryStorage{
		db:  memory.New(),
		now: now,
	}
}
