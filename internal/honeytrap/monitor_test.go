package honeytrap

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/khanghh/kguard/internal/audit"
	"github.com/khanghh/kguard/internal/store"
	"github.com/khanghh/kguard/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = MonitorConfig{
	DecoyCount: 5,
	TTL:        10 * time.Minute,
	MinElapsed: 2 * time.Second,
	MaxElapsed: 30 * time.Second,
}

func setupMonitor(t *testing.T) (*Monitor, *audit.Chain, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	chain := audit.NewChain(audit.NewMemoryRepository(), "test")
	return NewMonitor(store.NewRedisStorage(rdb), chain, testConfig), chain, mr
}

func auditEntries(t *testing.T, chain *audit.Chain, action string) []model.AuditEntry {
	entries, err := chain.Query(context.Background(), audit.Filter{Action: action})
	require.NoError(t, err)
	return entries
}

func TestAttachDecoys(t *testing.T) {
	monitor, chain, _ := setupMonitor(t)
	ctx := context.Background()

	view, err := monitor.AttachDecoys(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", view.ChallengeID)
	require.Len(t, view.DecoyIDs, 5)

	set, err := monitor.decoyStore.Get(ctx, "c1")
	require.NoError(t, err)
	names := make(map[string]bool)
	for i, decoy := range set.Decoys {
		assert.Equal(t, view.DecoyIDs[i], decoy.ID)
		assert.Contains(t, decoyKinds, decoy.Kind)
		assert.True(t, strings.HasPrefix(decoy.Name, "decoy_"))
		assert.Len(t, decoy.BindingSecret, 32)
		names[decoy.Name] = true
	}
	assert.Len(t, names, 5)
	assert.Empty(t, set.TriggeredIDs)

	issued := auditEntries(t, chain, audit.ActionChallengeIssued)
	require.Len(t, issued, 1)
	assert.Equal(t, "alice", issued[0].Actor)

	_, err = monitor.AttachDecoys(ctx, "", "alice")
	assert.ErrorIs(t, err, ErrChallengeIDEmpty)
}

func TestDecoySetExpiresWithChallenge(t *testing.T) {
	monitor, _, mr := setupMonitor(t)
	ctx := context.Background()

	view, err := monitor.AttachDecoys(ctx, "c1", "alice")
	require.NoError(t, err)
	mr.FastForward(601 * time.Second)

	_, err = monitor.decoyStore.Get(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, monitor.RecordTrigger(ctx, "c1", view.DecoyIDs[0]), ErrDecoySetNotFound)
}

func TestEvaluateInteraction(t *testing.T) {
	tests := []struct {
		name          string
		hitDecoy      bool
		elapsed       time.Duration
		wantTriggered bool
		wantTiming    bool
	}{
		{"human", false, 5 * time.Second, false, false},
		{"too fast", false, 1500 * time.Millisecond, false, true},
		{"too slow", false, 31 * time.Second, false, true},
		{"decoy hit", true, 5 * time.Second, true, false},
		{"decoy hit and too fast", true, time.Second, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor, chain, _ := setupMonitor(t)
			ctx := context.Background()
			view, err := monitor.AttachDecoys(ctx, "c1", "alice")
			require.NoError(t, err)

			events := []InteractionEvent{{Target: "cell-3", Type: "click", At: 1200}}
			if tt.hitDecoy {
				events = append(events,
					InteractionEvent{Target: view.DecoyIDs[1], Type: "focus", At: 300},
					InteractionEvent{Target: view.DecoyIDs[1], Type: "input", At: 310},
				)
			}

			eval, err := monitor.EvaluateInteraction(ctx, "c1", events, tt.elapsed)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTriggered, eval.Triggered)
			assert.Equal(t, tt.wantTiming, eval.TimingAnomaly)

			triggered, err := monitor.IsTriggered(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantTriggered, triggered)

			suspicious := auditEntries(t, chain, audit.ActionSuspiciousActivity)
			if tt.wantTriggered || tt.wantTiming {
				require.Len(t, suspicious, 1)
				assert.Equal(t, audit.SeverityHigh, suspicious[0].Severity)
				assert.Equal(t, model.AuditStatusFailed, suspicious[0].Status)
			} else {
				assert.Empty(t, suspicious)
			}
			if tt.wantTriggered {
				assert.Equal(t, []string{view.DecoyIDs[1]}, eval.TriggeredIDs)
			}
		})
	}
}

func TestEvaluateInteractionWithoutDecoys(t *testing.T) {
	monitor, _, _ := setupMonitor(t)
	eval, err := monitor.EvaluateInteraction(context.Background(), "unknown", []InteractionEvent{{Target: "x"}}, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, eval.Triggered)
	assert.False(t, eval.Suspicious())
}

func TestRecordTrigger(t *testing.T) {
	monitor, chain, _ := setupMonitor(t)
	ctx := context.Background()
	view, err := monitor.AttachDecoys(ctx, "c1", "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, monitor.RecordTrigger(ctx, "c1", "not-a-decoy"), ErrUnknownDecoy)
	assert.ErrorIs(t, monitor.RecordTrigger(ctx, "c2", view.DecoyIDs[0]), ErrDecoySetNotFound)

	require.NoError(t, monitor.RecordTrigger(ctx, "c1", view.DecoyIDs[0]))
	require.NoError(t, monitor.RecordTrigger(ctx, "c1", view.DecoyIDs[0]))

	triggered, err := monitor.IsTriggered(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Len(t, auditEntries(t, chain, audit.ActionSuspiciousActivity), 1)
}

func TestConcurrentTriggersAreAllKept(t *testing.T) {
	monitor, _, _ := setupMonitor(t)
	ctx := context.Background()
	view, err := monitor.AttachDecoys(ctx, "c1", "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range view.DecoyIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, monitor.RecordTrigger(ctx, "c1", id))
		}(id)
	}
	wg.Wait()

	set, err := monitor.decoyStore.Get(ctx, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, view.DecoyIDs, set.TriggeredIDs)
}
