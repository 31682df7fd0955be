package audit

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/khanghh/kguard/model"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

const mysqlDuplicateEntry = 1062

type auditEntryRepository struct {
	db *gorm.DB
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// Head always reads from the primary, a lagging replica would hand out a
// sequence that is already taken.
func (r *auditEntryRepository) Head(ctx context.Context, chainID string) (*model.AuditEntry, error) {
	var entry model.AuditEntry
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("chain_id = ?", chainID).
		Order("seq DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *auditEntryRepository) Insert(ctx context.Context, entry *model.AuditEntry) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	if isDuplicateKey(err) {
		return ErrSequenceConflict
	}
	return err
}

func (r *auditEntryRepository) FindByID(ctx context.Context, chainID string, id uint64) (*model.AuditEntry, error) {
	var entry model.AuditEntry
	err := r.db.WithContext(ctx).
		Where("chain_id = ? AND id = ?", chainID, id).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *auditEntryRepository) Range(ctx context.Context, chainID string, fromSeq, toSeq uint64) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := r.db.WithContext(ctx).
		Where("chain_id = ? AND seq BETWEEN ? AND ?", chainID, fromSeq, toSeq).
		Order("seq ASC").
		Find(&entries).Error
	return entries, err
}

func (r *auditEntryRepository) Find(ctx context.Context, chainID string, filter Filter) ([]model.AuditEntry, error) {
	tx := r.db.WithContext(ctx).Where("chain_id = ?", chainID)
	if filter.Actor != "" {
		tx = tx.Where("actor = ?", filter.Actor)
	}
	if filter.Action != "" {
		tx = tx.Where("action = ?", filter.Action)
	}
	if filter.Resource != "" {
		tx = tx.Where("resource = ?", filter.Resource)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		tx = tx.Where("severity = ?", filter.Severity)
	}
	if !filter.From.IsZero() {
		tx = tx.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		tx = tx.Where("timestamp <= ?", filter.To)
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var entries []model.AuditEntry
	err := tx.Order("seq ASC").Find(&entries).Error
	return entries, err
}

func NewAuditEntryRepository(db *gorm.DB) Repository {
	return &auditEntryRepository{
		db: db,
	}
}
