package challenge

import (
	"slices"
	"time"

	"github.com/khanghh/kguard/internal/store"
	"github.com/khanghh/kguard/params"
)

const (
	CellKindTarget    = "target"
	CellKindHoneytrap = "honeytrap"
	CellKindNeutral   = "neutral"
)

const (
	ReasonValidSelection     = "valid_selection"
	ReasonIncorrectSelection = "incorrect_selection"
	ReasonHoneytrapTriggered = "honeytrap_triggered"
	ReasonExpiredOrConsumed  = "challenge_expired_or_consumed"
)

// IconSet is the vocabulary grid cells are drawn from.
var IconSet = []string{
	"bank", "lock", "shield", "dollar",
	"card", "password", "key", "check",
	"phone", "email", "inbox", "document",
	"user", "computer", "globe", "settings",
}

func IsKnownIcon(icon string) bool {
	return slices.Contains(IconSet, icon)
}

type Cell struct {
	Position     int    `json:"position"`
	Kind         string `json:"kind"`
	Icon         string `json:"icon"`
	DisplayToken string `json:"displayToken"`
}

// Challenge is the server side record of a grid. It only ever leaves the
// store through Take, which destroys it.
type Challenge struct {
	ID                 string    `json:"id"`
	OwnerHint          string    `json:"ownerHint"`
	Cells              []Cell    `json:"cells"`
	TargetPositions    []int     `json:"targetPositions"`
	HoneytrapPositions []int     `json:"honeytrapPositions"`
	CreatedAt          time.Time `json:"createdAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
	Consumed           bool      `json:"consumed"`
}

func (c *Challenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CellView is what a client gets to render. The kind of a cell is never part of it.
type CellView struct {
	Position     int    `json:"position"`
	Icon         string `json:"icon"`
	DisplayToken string `json:"displayToken"`
}

type ChallengeView struct {
	ChallengeID string     `json:"challengeId"`
	Cells       []CellView `json:"cells"`
	ExpiresIn   int        `json:"expiresIn"` // seconds
	ExpiresAt   time.Time  `json:"expiresAt"`
}

func newChallengeStore(storage store.Storage) store.Store[Challenge] {
	return store.New[Challenge](storage, params.ChallengeKeyPrefix)
}
