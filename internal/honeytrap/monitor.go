package honeytrap

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/khanghh/kguard/internal/audit"
	"github.com/khanghh/kguard/internal/common"
	"github.com/khanghh/kguard/internal/metrics"
	"github.com/khanghh/kguard/internal/store"
	"github.com/khanghh/kguard/model"
	"github.com/khanghh/kguard/params"
)

type AuditRecorder interface {
	Append(ctx context.Context, event audit.Event) (*model.AuditEntry, error)
}

type MonitorConfig struct {
	DecoyCount int
	TTL        time.Duration // must match the challenge TTL
	MinElapsed time.Duration
	MaxElapsed time.Duration
}

type Monitor struct {
	decoyStore store.Store[DecoySet]
	auditor    AuditRecorder
	config     MonitorConfig
	now        func() time.Time
}

func randomKind() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(decoyKinds))))
	if err != nil {
		return "", err
	}
	return decoyKinds[n.Int64()], nil
}

func newDecoy(index int) (Decoy, error) {
	kind, err := randomKind()
	if err != nil {
		return Decoy{}, err
	}
	suffix, err := common.RandomHex(4)
	if err != nil {
		return Decoy{}, err
	}
	secret, err := common.RandomHex(params.HoneytrapDecoySecretBytes)
	if err != nil {
		return Decoy{}, err
	}
	return Decoy{
		ID:            uuid.NewString(),
		Kind:          kind,
		Name:          fmt.Sprintf("decoy_%d_%s", index, suffix),
		BindingSecret: secret,
	}, nil
}

// AttachDecoys binds a fresh set of invisible decoys to a challenge and
// records the issuance of the challenge. Only decoy ids are returned.
func (m *Monitor) AttachDecoys(ctx context.Context, challengeID string, actor string) (*DecoyView, error) {
	if challengeID == "" {
		return nil, ErrChallengeIDEmpty
	}
	now := m.now()
	set := DecoySet{
		SessionID:    challengeID,
		Decoys:       make([]Decoy, 0, m.config.DecoyCount),
		TriggeredIDs: []string{},
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.config.TTL),
	}
	view := &DecoyView{ChallengeID: challengeID}
	for i := 0; i < m.config.DecoyCount; i++ {
		decoy, err := newDecoy(i)
		if err != nil {
			return nil, err
		}
		set.Decoys = append(set.Decoys, decoy)
		view.DecoyIDs = append(view.DecoyIDs, decoy.ID)
	}

	if err := m.decoyStore.Set(ctx, challengeID, set, m.config.TTL); err != nil {
		slog.ErrorContext(ctx, "Failed to persist decoy set", "challengeID", challengeID, "error", err)
		return nil, err
	}

	_, err := m.auditor.Append(ctx, audit.Event{
		Actor:    actor,
		Action:   audit.ActionChallengeIssued,
		Resource: "challenge:" + challengeID,
		Status:   model.AuditStatusSuccess,
		Details:  map[string]any{"decoys": len(set.Decoys)},
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (m *Monitor) markTriggered(ctx context.Context, challengeID string, ids []string) error {
	_, err := m.decoyStore.Update(ctx, challengeID, func(set *DecoySet) error {
		if !set.markTriggered(ids) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// EvaluateInteraction inspects the interaction log of a challenge. A log
// entry that targets a decoy is a hard signal and is persisted against the
// challenge; an elapsed time outside the human window is advisory only.
func (m *Monitor) EvaluateInteraction(ctx context.Context, challengeID string, events []InteractionEvent, elapsed time.Duration) (*Evaluation, error) {
	if challengeID == "" {
		return nil, ErrChallengeIDEmpty
	}
	eval := &Evaluation{
		TriggeredIDs:  []string{},
		TimingAnomaly: elapsed < m.config.MinElapsed || elapsed > m.config.MaxElapsed,
	}

	set, err := m.decoyStore.Get(ctx, challengeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		for _, ev := range events {
			if set.has(ev.Target) && !slices.Contains(eval.TriggeredIDs, ev.Target) {
				eval.TriggeredIDs = append(eval.TriggeredIDs, ev.Target)
			}
		}
	}
	eval.Triggered = len(eval.TriggeredIDs) > 0

	if eval.Triggered {
		err := m.markTriggered(ctx, challengeID, eval.TriggeredIDs)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		metrics.HoneytrapSignals.WithLabelValues("decoy_triggered").Inc()
	}
	if eval.TimingAnomaly {
		metrics.HoneytrapSignals.WithLabelValues("timing_anomaly").Inc()
	}
	if eval.Suspicious() {
		slog.WarnContext(ctx, "Suspicious interaction", "challengeID", challengeID,
			"triggered", eval.TriggeredIDs, "elapsed", elapsed, "timingAnomaly", eval.TimingAnomaly)
		if err := m.recordSuspicious(ctx, challengeID, map[string]any{
			"triggeredIds":  eval.TriggeredIDs,
			"timingAnomaly": eval.TimingAnomaly,
			"elapsedMs":     elapsed.Milliseconds(),
		}); err != nil {
			return nil, err
		}
	}
	return eval, nil
}

// RecordTrigger registers a single decoy hit reported outside of a
// verification, for example by a beacon embedded in the decoy.
func (m *Monitor) RecordTrigger(ctx context.Context, challengeID string, decoyID string) error {
	if challengeID == "" {
		return ErrChallengeIDEmpty
	}
	_, err := m.decoyStore.Update(ctx, challengeID, func(set *DecoySet) error {
		if !set.has(decoyID) {
			return ErrUnknownDecoy
		}
		if !set.markTriggered([]string{decoyID}) {
			return errUnchanged
		}
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrDecoySetNotFound
	case errors.Is(err, errUnchanged):
		return nil
	case err != nil:
		return err
	}
	metrics.HoneytrapSignals.WithLabelValues("decoy_triggered").Inc()
	return m.recordSuspicious(ctx, challengeID, map[string]any{
		"triggeredIds": []string{decoyID},
		"source":       "beacon",
	})
}

func (m *Monitor) IsTriggered(ctx context.Context, challengeID string) (bool, error) {
	set, err := m.decoyStore.Get(ctx, challengeID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(set.TriggeredIDs) > 0, nil
}

func (m *Monitor) recordSuspicious(ctx context.Context, challengeID string, details map[string]any) error {
	_, err := m.auditor.Append(ctx, audit.Event{
		Actor:    "challenge:" + challengeID,
		Action:   audit.ActionSuspiciousActivity,
		Resource: "challenge:" + challengeID,
		Status:   model.AuditStatusFailed,
		Details:  details,
	})
	return err
}

func NewMonitor(storage store.Storage, auditor AuditRecorder, config MonitorConfig) *Monitor {
	return &Monitor{
		decoyStore: newDecoyStore(storage),
		auditor:    auditor,
		config:     config,
		now:        time.Now,
	}
}
