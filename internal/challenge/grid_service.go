package challenge

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/khanghh/kguard/internal/common"
	"github.com/khanghh/kguard/internal/metrics"
	"github.com/khanghh/kguard/internal/store"
)

type GridConfig struct {
	Size           int
	TargetCount    int
	HoneytrapCount int
	ChallengeTTL   time.Duration
}

// GridService issues grid challenges. The layout of a grid is a uniformly
// random permutation: its first TargetCount slots carry the target, the
// next HoneytrapCount slots are honeytraps, the rest are neutral.
type GridService struct {
	challengeStore store.Store[Challenge]
	tokenKey       []byte
	config         GridConfig
	permute        func(n int) ([]int, error)
	now            func() time.Time
}

func randomPermutation(n int) ([]int, error) {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		k := int(j.Int64())
		perm[i], perm[k] = perm[k], perm[i]
	}
	return perm, nil
}

func (s *GridService) displayToken(challengeID string, icon string, position int) string {
	return common.CalculateHash(s.tokenKey, challengeID, icon, position)
}

func (s *GridService) fillerIcons(targetIcon string, n int) ([]string, error) {
	pool := make([]string, 0, len(IconSet)-1)
	for _, icon := range IconSet {
		if icon != targetIcon {
			pool = append(pool, icon)
		}
	}
	order, err := randomPermutation(len(pool))
	if err != nil {
		return nil, err
	}
	icons := make([]string, n)
	for i := range icons {
		icons[i] = pool[order[i%len(pool)]]
	}
	return icons, nil
}

func (s *GridService) layout(challengeID string, targetIcon string) (*Challenge, error) {
	cfg := s.config
	perm, err := s.permute(cfg.Size)
	if err != nil {
		return nil, err
	}
	fillers, err := s.fillerIcons(targetIcon, cfg.Size-cfg.TargetCount)
	if err != nil {
		return nil, err
	}

	ch := &Challenge{
		ID:    challengeID,
		Cells: make([]Cell, cfg.Size),
	}
	for slot, position := range perm {
		cell := Cell{Position: position, Kind: CellKindNeutral}
		switch {
		case slot < cfg.TargetCount:
			cell.Kind = CellKindTarget
			cell.Icon = targetIcon
			ch.TargetPositions = append(ch.TargetPositions, position)
		case slot < cfg.TargetCount+cfg.HoneytrapCount:
			cell.Kind = CellKindHoneytrap
			cell.Icon = fillers[slot-cfg.TargetCount]
			ch.HoneytrapPositions = append(ch.HoneytrapPositions, position)
		default:
			cell.Icon = fillers[slot-cfg.TargetCount]
		}
		cell.DisplayToken = s.displayToken(challengeID, cell.Icon, position)
		ch.Cells[position] = cell
	}
	slices.Sort(ch.TargetPositions)
	slices.Sort(ch.HoneytrapPositions)
	return ch, nil
}

// CreateChallenge lays out a fresh grid hiding targetIcon for ownerHint and
// persists it for the challenge TTL.
func (s *GridService) CreateChallenge(ctx context.Context, ownerHint string, targetIcon string) (*ChallengeView, error) {
	ownerHint = strings.TrimSpace(ownerHint)
	if ownerHint == "" {
		return nil, ErrOwnerHintEmpty
	}
	if !IsKnownIcon(targetIcon) {
		return nil, ErrUnknownIcon
	}

	ch, err := s.layout(uuid.NewString(), targetIcon)
	if err != nil {
		return nil, err
	}
	ch.OwnerHint = ownerHint
	ch.CreatedAt = s.now()
	ch.ExpiresAt = ch.CreatedAt.Add(s.config.ChallengeTTL)

	if err := s.challengeStore.Set(ctx, ch.ID, *ch, s.config.ChallengeTTL); err != nil {
		slog.ErrorContext(ctx, "Failed to persist challenge", "challengeID", ch.ID, "error", err)
		return nil, err
	}
	metrics.ChallengesIssued.Inc()

	view := &ChallengeView{
		ChallengeID: ch.ID,
		Cells:       make([]CellView, len(ch.Cells)),
		ExpiresIn:   int(s.config.ChallengeTTL.Seconds()),
		ExpiresAt:   ch.ExpiresAt,
	}
	for i, cell := range ch.Cells {
		view.Cells[i] = CellView{
			Position:     cell.Position,
			Icon:         cell.Icon,
			DisplayToken: cell.DisplayToken,
		}
	}
	return view, nil
}

func (s *GridService) ChallengeTTL() time.Duration {
	return s.config.ChallengeTTL
}

func NewGridService(storage store.Storage, masterKey string, config GridConfig) (*GridService, error) {
	if config.TargetCount < 1 || config.HoneytrapCount < 0 || config.TargetCount+config.HoneytrapCount >= config.Size {
		return nil, ErrInvalidLayout
	}
	tokenKey, err := common.DeriveKey(masterKey, "grid-display-token", 32)
	if err != nil {
		return nil, err
	}
	return &GridService{
		challengeStore: newChallengeStore(storage),
		tokenKey:       tokenKey,
		config:         config,
		permute:        randomPermutation,
		now:            time.Now,
	}, nil
}
