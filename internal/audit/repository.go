package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/khanghh/kguard/model"
)

type Repository interface {
	// Head returns the entry with the highest sequence, or nil for an empty chain.
	Head(ctx context.Context, chainID string) (*model.AuditEntry, error)
	// Insert stores entry, failing with ErrSequenceConflict if its sequence is taken.
	Insert(ctx context.Context, entry *model.AuditEntry) error
	FindByID(ctx context.Context, chainID string, id uint64) (*model.AuditEntry, error)
	// Range returns entries with fromSeq <= seq <= toSeq in sequence order.
	Range(ctx context.Context, chainID string, fromSeq, toSeq uint64) ([]model.AuditEntry, error)
	Find(ctx context.Context, chainID string, filter Filter) ([]model.AuditEntry, error)
}

// MemoryRepository keeps chains in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	chains map[string][]model.AuditEntry
}

func (r *MemoryRepository) Head(ctx context.Context, chainID string) (*model.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.chains[chainID]
	if len(entries) == 0 {
		return nil, nil
	}
	head := entries[len(entries)-1]
	return &head, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, entry *model.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.chains[entry.ChainID]
	if entry.Seq != uint64(len(entries))+1 {
		return ErrSequenceConflict
	}
	r.chains[entry.ChainID] = append(entries, *entry)
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, chainID string, id uint64) (*model.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.chains[chainID] {
		if entry.ID == id {
			found := entry
			return &found, nil
		}
	}
	return nil, ErrEntryNotFound
}

func (r *MemoryRepository) Range(ctx context.Context, chainID string, fromSeq, toSeq uint64) ([]model.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []model.AuditEntry
	for _, entry := range r.chains[chainID] {
		if entry.Seq >= fromSeq && entry.Seq <= toSeq {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (r *MemoryRepository) Find(ctx context.Context, chainID string, filter Filter) ([]model.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []model.AuditEntry
	for _, entry := range r.chains[chainID] {
		if !filter.match(&entry) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func (f *Filter) match(entry *model.AuditEntry) bool {
	switch {
	case f.Actor != "" && entry.Actor != f.Actor:
		return false
	case f.Action != "" && entry.Action != f.Action:
		return false
	case f.Resource != "" && entry.Resource != f.Resource:
		return false
	case f.Status != "" && entry.Status != f.Status:
		return false
	case f.Severity != "" && entry.Severity != f.Severity:
		return false
	case !f.From.IsZero() && entry.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && entry.Timestamp.After(f.To):
		return false
	}
	return true
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		chains: make(map[string][]model.AuditEntry),
	}
}
