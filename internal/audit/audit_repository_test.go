package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/khanghh/kguard/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestAuditEntryRepositoryChain(t *testing.T) {
	repo := NewAuditEntryRepository(openTestDB(t))
	chain := NewChain(repo, "db")
	ctx := context.Background()
	entries := appendEvents(t, chain, 4)

	head, err := repo.Head(ctx, "db")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, entries[3].ID, head.ID)

	result, err := chain.VerifyAuditRange(ctx, entries[0].ID, entries[3].ID)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, 4, result.EntriesVerified)
	assert.Equal(t, entries[3].Hash, result.FinalHash)
}

func TestAuditEntryRepositoryRejectsTakenSequence(t *testing.T) {
	repo := NewAuditEntryRepository(openTestDB(t))
	chain := NewChain(repo, "db")
	ctx := context.Background()
	entries := appendEvents(t, chain, 1)

	duplicate := *entries[0]
	duplicate.ID = model.GenerateID()
	err := repo.Insert(ctx, &duplicate)
	assert.ErrorIs(t, err, ErrSequenceConflict)

	other := duplicate
	other.ID = model.GenerateID()
	other.ChainID = "other"
	assert.NoError(t, repo.Insert(ctx, &other))
}

func TestAuditEntryRepositoryEmptyChain(t *testing.T) {
	repo := NewAuditEntryRepository(openTestDB(t))
	head, err := repo.Head(context.Background(), "empty")
	require.NoError(t, err)
	assert.Nil(t, head)

	_, err = repo.FindByID(context.Background(), "empty", 1)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestAuditEntryRepositoryFind(t *testing.T) {
	db := openTestDB(t)
	chain := NewChain(NewAuditEntryRepository(db), "db")
	ctx := context.Background()

	_, err := chain.Append(ctx, Event{Actor: "alice", Action: ActionReplayDetected, Status: model.AuditStatusFailed})
	require.NoError(t, err)
	_, err = chain.Append(ctx, Event{Actor: "bob", Action: ActionCredentialIssued, Status: model.AuditStatusSuccess})
	require.NoError(t, err)

	critical, err := chain.Query(ctx, Filter{Severity: SeverityCritical})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, "alice", critical[0].Actor)

	all, err := chain.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.True(t, VerifyRange(all).IsValid)
}
