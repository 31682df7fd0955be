package challenge

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/khanghh/kguard/internal/audit"
	"github.com/khanghh/kguard/internal/metrics"
	"github.com/khanghh/kguard/internal/store"
	"github.com/khanghh/kguard/model"
	"github.com/khanghh/kguard/params"
)

// TrapInspector reports decoy hits recorded against a challenge out of band.
type TrapInspector interface {
	IsTriggered(ctx context.Context, challengeID string) (bool, error)
}

type AuditRecorder interface {
	Append(ctx context.Context, event audit.Event) (*model.AuditEntry, error)
}

type VerifyRequest struct {
	ChallengeID string
	Selected    []int
	// DecoyTriggered carries the verdict of an interaction evaluation made by the caller.
	DecoyTriggered bool
}

type VerifyResult struct {
	IsValid    bool   `json:"isValid"`
	Reason     string `json:"reason"`
	Score      int    `json:"score"`
	Suspicious bool   `json:"suspicious"`
	OwnerHint  string `json:"-"`
}

// Verifier is the only component that consumes challenges.
type Verifier struct {
	challengeStore store.Store[Challenge]
	traps          TrapInspector
	auditor        AuditRecorder
	now            func() time.Time
}

func normalizeSelection(selected []int) []int {
	set := slices.Clone(selected)
	slices.Sort(set)
	return slices.Compact(set)
}

func intersects(a, b []int) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}

func (v *Verifier) judge(ch *Challenge, selected []int, decoyTriggered bool) *VerifyResult {
	if decoyTriggered || intersects(selected, ch.HoneytrapPositions) {
		return &VerifyResult{Reason: ReasonHoneytrapTriggered, Suspicious: true}
	}
	if slices.Equal(selected, ch.TargetPositions) {
		return &VerifyResult{IsValid: true, Reason: ReasonValidSelection, Score: params.GridFullScore}
	}
	result := &VerifyResult{Reason: ReasonIncorrectSelection}
	if len(selected) > 0 {
		result.Score = params.GridPartialScore
	}
	return result
}

// Verify consumes the challenge and judges the selection against it. Whatever
// the outcome, a second call for the same challenge reports it as consumed.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.ChallengeID == "" {
		return nil, ErrChallengeIDEmpty
	}

	ch, err := v.challengeStore.Take(ctx, req.ChallengeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.ErrorContext(ctx, "Failed to consume challenge", "challengeID", req.ChallengeID, "error", err)
		return nil, err
	}

	var result *VerifyResult
	if errors.Is(err, store.ErrNotFound) || ch.IsExpired(v.now()) {
		result = &VerifyResult{Reason: ReasonExpiredOrConsumed}
	} else {
		ch.Consumed = true
		decoyTriggered := req.DecoyTriggered
		if !decoyTriggered && v.traps != nil {
			decoyTriggered, err = v.traps.IsTriggered(ctx, ch.ID)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to inspect honeytraps", "challengeID", ch.ID, "error", err)
				return nil, err
			}
		}
		result = v.judge(&ch, normalizeSelection(req.Selected), decoyTriggered)
		result.OwnerHint = ch.OwnerHint
	}
	metrics.ChallengeVerifications.WithLabelValues(result.Reason).Inc()

	if err := v.record(ctx, req, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (v *Verifier) record(ctx context.Context, req VerifyRequest, result *VerifyResult) error {
	actor := result.OwnerHint
	if actor == "" {
		actor = "unknown"
	}
	action := audit.ActionGridVerified
	if result.Reason == ReasonHoneytrapTriggered {
		action = audit.ActionHoneytrapTriggered
	}
	status := model.AuditStatusFailed
	if result.IsValid {
		status = model.AuditStatusSuccess
	}
	_, err := v.auditor.Append(ctx, audit.Event{
		Actor:    actor,
		Action:   action,
		Resource: "challenge:" + req.ChallengeID,
		Status:   status,
		Details: map[string]any{
			"score":      result.Score,
			"reason":     result.Reason,
			"selections": len(req.Selected),
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record grid verification", "challengeID", req.ChallengeID, "error", err)
	}
	return err
}

func NewVerifier(storage store.Storage, traps TrapInspector, auditor AuditRecorder) *Verifier {
	return &Verifier{
		challengeStore: newChallengeStore(storage),
		traps:          traps,
		auditor:        auditor,
		now:            time.Now,
	}
}
