package main

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/khanghh/kguard/internal/common"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func redisCheck(rdb redis.UniversalClient) common.ReadinessCheck {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

func databaseCheck(db *gorm.DB) common.ReadinessCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func badgerCheck(db *badger.DB) common.ReadinessCheck {
	return func(ctx context.Context) error {
		if db.IsClosed() {
			return errors.New("badger closed")
		}
		return nil
	}
}
