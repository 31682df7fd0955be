package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/khanghh/kguard/params"
)

// BadgerStorage is an embedded storage for single node deployments that must
// survive restarts. Take and Update run inside serializable transactions.
type BadgerStorage struct {
	db *badger.DB
}

func (s *BadgerStorage) DB() *badger.DB {
	return s.db
}

func (s *BadgerStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *BadgerStorage) Set(ctx context.Context, key string, val []byte, expiresIn time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), val)
		if expiresIn > 0 {
			e = e.WithTTL(expiresIn)
		}
		return txn.SetEntry(e)
	})
}

func (s *BadgerStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *BadgerStorage) Expire(ctx context.Context, key string, expiresAt time.Time) error {
	return s.update(ctx, key, func(txn *badger.Txn, item *badger.Item) error {
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		ttl := time.Until(expiresAt)
		if ttl <= 0 {
			return txn.Delete(item.KeyCopy(nil))
		}
		return txn.SetEntry(badger.NewEntry(item.KeyCopy(nil), val).WithTTL(ttl))
	})
}

func (s *BadgerStorage) Take(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.update(ctx, key, func(txn *badger.Txn, item *badger.Item) error {
		var err error
		val, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.Delete(item.KeyCopy(nil))
	})
	return val, err
}

func (s *BadgerStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return s.update(ctx, key, func(txn *badger.Txn, item *badger.Item) error {
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		newVal, err := fn(val)
		if err != nil {
			return err
		}
		e := badger.NewEntry(item.KeyCopy(nil), newVal)
		e.ExpiresAt = item.ExpiresAt()
		return txn.SetEntry(e)
	})
}

// update runs fn against an existing key, retrying when a concurrent
// transaction commits a conflicting write first.
func (s *BadgerStorage) update(ctx context.Context, key string, fn func(txn *badger.Txn, item *badger.Item) error) error {
	for i := 0; i < params.StoreUpdateMaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return err
			}
			return fn(txn, item)
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return ErrUpdateConflict
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func NewBadgerStorage(db *badger.DB) *BadgerStorage {
	return &BadgerStorage{
		db: db,
	}
}

func OpenBadgerStorage(dir string, inMemory bool) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return NewBadgerStorage(db), nil
}
