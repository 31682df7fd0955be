package honeytrap

import (
	"errors"
	"slices"
	"time"

	"github.com/khanghh/kguard/internal/store"
	"github.com/khanghh/kguard/params"
)

const (
	KindHiddenInput     = "hidden_input"
	KindHiddenLink      = "hidden_link"
	KindInvisibleButton = "invisible_button"
	KindDecoyFormField  = "decoy_form_field"
	KindCSSInvisible    = "css_invisible_element"
	KindOffScreen       = "off_screen_element"
)

var decoyKinds = []string{
	KindHiddenInput, KindHiddenLink, KindInvisibleButton,
	KindDecoyFormField, KindCSSInvisible, KindOffScreen,
}

var (
	ErrChallengeIDEmpty = errors.New("challenge id cannot be empty")
	ErrDecoySetNotFound = errors.New("decoy set not found")
	ErrUnknownDecoy     = errors.New("unknown decoy")
	errUnchanged        = errors.New("unchanged")
)

type Decoy struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Name          string `json:"name"`
	BindingSecret string `json:"bindingSecret"`
}

// DecoySet lives exactly as long as the challenge it guards. TriggeredIDs
// only ever grows.
type DecoySet struct {
	SessionID    string    `json:"sessionId"`
	Decoys       []Decoy   `json:"decoys"`
	TriggeredIDs []string  `json:"triggeredIds"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s *DecoySet) has(decoyID string) bool {
	return slices.ContainsFunc(s.Decoys, func(d Decoy) bool { return d.ID == decoyID })
}

// markTriggered appends the ids not seen before and reports whether any were.
func (s *DecoySet) markTriggered(ids []string) bool {
	changed := false
	for _, id := range ids {
		if !slices.Contains(s.TriggeredIDs, id) {
			s.TriggeredIDs = append(s.TriggeredIDs, id)
			changed = true
		}
	}
	return changed
}

type DecoyView struct {
	ChallengeID string   `json:"challengeId"`
	DecoyIDs    []string `json:"decoyIds"`
}

type InteractionEvent struct {
	Target string `json:"target"`
	Type   string `json:"type"`
	At     int64  `json:"at"` // milliseconds since the grid was shown
}

type Evaluation struct {
	Triggered     bool     `json:"triggered"`
	TriggeredIDs  []string `json:"triggeredIds"`
	TimingAnomaly bool     `json:"timingAnomaly"`
}

func (e *Evaluation) Suspicious() bool {
	return e.Triggered || e.TimingAnomaly
}

func newDecoyStore(storage store.Storage) store.Store[DecoySet] {
	return store.New[DecoySet](storage, params.HoneytrapKeyPrefix)
}
