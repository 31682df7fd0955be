package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/khanghh/kguard/internal/challenge"
	"github.com/khanghh/kguard/internal/credential"
	"github.com/khanghh/kguard/internal/honeytrap"
)

type ChallengeService interface {
	CreateChallenge(ctx context.Context, ownerHint string, targetIcon string) (*challenge.ChallengeView, error)
}

type DecoyMonitor interface {
	AttachDecoys(ctx context.Context, challengeID string, actor string) (*honeytrap.DecoyView, error)
	EvaluateInteraction(ctx context.Context, challengeID string, events []honeytrap.InteractionEvent, elapsed time.Duration) (*honeytrap.Evaluation, error)
}

type GridVerifier interface {
	Verify(ctx context.Context, req challenge.VerifyRequest) (*challenge.VerifyResult, error)
}

type CredentialIssuer interface {
	Issue(ctx context.Context, subjectID string, kind string, extra map[string]any) (*credential.IssuedCredential, error)
}

type ChallengeSession struct {
	*challenge.ChallengeView
	DecoyIDs []string `json:"decoyIds"`
}

type CompleteRequest struct {
	ChallengeID  string
	Selected     []int
	Interactions []honeytrap.InteractionEvent
	Elapsed      time.Duration
}

type CompleteResult struct {
	Verification *challenge.VerifyResult      `json:"verification"`
	Signals      *honeytrap.Evaluation        `json:"signals"`
	Access       *credential.IssuedCredential `json:"access,omitempty"`
	Refresh      *credential.IssuedCredential `json:"refresh,omitempty"`
}

// AuthorizeService runs a challenge from issuance to credential minting.
type AuthorizeService struct {
	challenges ChallengeService
	monitor    DecoyMonitor
	verifier   GridVerifier
	issuer     CredentialIssuer
}

// BeginChallenge issues a grid challenge guarded by a fresh decoy set.
func (s *AuthorizeService) BeginChallenge(ctx context.Context, ownerHint string, targetIcon string) (*ChallengeSession, error) {
	view, err := s.challenges.CreateChallenge(ctx, ownerHint, targetIcon)
	if err != nil {
		return nil, err
	}
	decoys, err := s.monitor.AttachDecoys(ctx, view.ChallengeID, ownerHint)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to attach decoys", "challengeID", view.ChallengeID, "error", err)
		return nil, err
	}
	return &ChallengeSession{ChallengeView: view, DecoyIDs: decoys.DecoyIDs}, nil
}

// CompleteChallenge evaluates the interaction signals, consumes the challenge
// and, only on a valid selection, mints an access and refresh credential for
// the challenge owner.
func (s *AuthorizeService) CompleteChallenge(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	if req.ChallengeID == "" {
		return nil, ErrChallengeIDEmpty
	}
	signals, err := s.monitor.EvaluateInteraction(ctx, req.ChallengeID, req.Interactions, req.Elapsed)
	if err != nil {
		return nil, err
	}
	verification, err := s.verifier.Verify(ctx, challenge.VerifyRequest{
		ChallengeID:    req.ChallengeID,
		Selected:       req.Selected,
		DecoyTriggered: signals.Triggered,
	})
	if err != nil {
		return nil, err
	}
	verification.Suspicious = verification.Suspicious || signals.Suspicious()

	result := &CompleteResult{Verification: verification, Signals: signals}
	if !verification.IsValid {
		return result, nil
	}

	claims := map[string]any{
		"challengeId":   req.ChallengeID,
		"score":         verification.Score,
		"timingAnomaly": signals.TimingAnomaly,
	}
	if result.Access, err = s.issuer.Issue(ctx, verification.OwnerHint, credential.KindAccess, claims); err != nil {
		return nil, err
	}
	if result.Refresh, err = s.issuer.Issue(ctx, verification.OwnerHint, credential.KindRefresh, claims); err != nil {
		return nil, err
	}
	return result, nil
}

func NewAuthorizeService(challenges ChallengeService, monitor DecoyMonitor, verifier GridVerifier, issuer CredentialIssuer) *AuthorizeService {
	return &AuthorizeService{
		challenges: challenges,
		monitor:    monitor,
		verifier:   verifier,
		issuer:     issuer,
	}
}
