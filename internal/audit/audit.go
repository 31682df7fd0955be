package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/khanghh/kguard/internal/metrics"
	"github.com/khanghh/kguard/model"
	"github.com/khanghh/kguard/params"
)

var validate = validator.New()

// Chain is an append-only hash-linked log. Appends from any number of
// goroutines or processes sharing the repository are serialized by the
// repository's unique sequence constraint, no lock is held across I/O.
type Chain struct {
	chainID string
	repo    Repository
	now     func() time.Time
}

func encodeDetails(details map[string]any) (string, error) {
	if len(details) == 0 {
		return "", nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Chain) ChainID() string {
	return c.chainID
}

func (c *Chain) Append(ctx context.Context, event Event) (*model.AuditEntry, error) {
	if err := validate.Struct(&event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	details, err := encodeDetails(event.Details)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	for attempt := 0; attempt < params.AuditAppendMaxRetries; attempt++ {
		head, err := c.repo.Head(ctx, c.chainID)
		if err != nil {
			return nil, err
		}

		entry := &model.AuditEntry{
			ID:        model.GenerateID(),
			ChainID:   c.chainID,
			Seq:       1,
			Timestamp: c.now().UTC().Truncate(time.Microsecond),
			Actor:     event.Actor,
			Action:    event.Action,
			Resource:  event.Resource,
			Status:    event.Status,
			Severity:  Severity(event.Action, event.Status),
			Details:   details,
		}
		if head != nil {
			prevHash := head.Hash
			entry.Seq = head.Seq + 1
			entry.PreviousHash = &prevHash
		}
		if entry.Hash, err = ComputeHash(entry); err != nil {
			return nil, err
		}

		err = c.repo.Insert(ctx, entry)
		if errors.Is(err, ErrSequenceConflict) {
			metrics.AuditAppendConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.AuditAppends.WithLabelValues(entry.Severity).Inc()
		return entry, nil
	}

	slog.Error("Audit append gave up after sequence conflicts", "chain", c.chainID, "action", event.Action)
	return nil, ErrAppendContention
}

// VerifyRange checks an ordered slice of entries and reports the first
// entry whose hash or link to its predecessor does not hold.
func (c *Chain) VerifyRange(entries []model.AuditEntry) VerifyResult {
	return VerifyRange(entries)
}

// VerifyAuditRange loads the entries between two entry ids, inclusive, and
// verifies them.
func (c *Chain) VerifyAuditRange(ctx context.Context, startID, endID uint64) (*VerifyResult, error) {
	start, err := c.repo.FindByID(ctx, c.chainID, startID)
	if err != nil {
		return nil, err
	}
	end, err := c.repo.FindByID(ctx, c.chainID, endID)
	if err != nil {
		return nil, err
	}
	if start.Seq > end.Seq {
		return nil, ErrInvalidRange
	}
	entries, err := c.repo.Range(ctx, c.chainID, start.Seq, end.Seq)
	if err != nil {
		return nil, err
	}
	result := VerifyRange(entries)
	return &result, nil
}

func (c *Chain) Query(ctx context.Context, filter Filter) ([]model.AuditEntry, error) {
	return c.repo.Find(ctx, c.chainID, filter)
}

func VerifyRange(entries []model.AuditEntry) VerifyResult {
	result := VerifyResult{IsValid: true}
	for i := range entries {
		entry := &entries[i]
		if !linked(entries, i) {
			return broken(result, entry)
		}
		computed, err := ComputeHash(entry)
		if err != nil || computed != entry.Hash {
			return broken(result, entry)
		}
		result.EntriesVerified++
		result.FinalHash = entry.Hash
	}
	return result
}

func linked(entries []model.AuditEntry, i int) bool {
	entry := &entries[i]
	if i == 0 {
		// the first entry of a chain has no predecessor, any later one must
		return (entry.Seq == 1) == (entry.PreviousHash == nil)
	}
	prev := &entries[i-1]
	return entry.Seq == prev.Seq+1 &&
		entry.PreviousHash != nil &&
		*entry.PreviousHash == prev.Hash
}

func broken(result VerifyResult, entry *model.AuditEntry) VerifyResult {
	result.IsValid = false
	result.BrokenAt = entry.ID
	return result
}

func NewChain(repo Repository, chainID string) *Chain {
	return &Chain{
		chainID: chainID,
		repo:    repo,
		now:     time.Now,
	}
}
