package audit

import (
	"time"
)

const (
	ActionChallengeIssued    = "challenge_issued"
	ActionGridVerified       = "grid_verified"
	ActionHoneytrapTriggered = "honeytrap_triggered"
	ActionSuspiciousActivity = "suspicious_activity"
	ActionCredentialIssued   = "credential_issued"
	ActionCredentialVerified = "credential_verified"
	ActionCredentialForged   = "credential_forged"
	ActionCredentialRevoked  = "credential_revoked"
	ActionCredentialRedeemed = "credential_redeemed"
	ActionReplayDetected     = "replay_detected"
	ActionDeviceMismatch     = "device_mismatch"
	ActionFailedAuth         = "failed_auth"
	ActionAccessDenied       = "access_denied"
	ActionInvalidToken       = "invalid_token"
)

// Event is what callers hand to Append. Severity, hashes and ordering are
// derived by the chain.
type Event struct {
	Actor    string         `json:"actor"    validate:"required,max=128"`
	Action   string         `json:"action"   validate:"required,max=64"`
	Resource string         `json:"resource" validate:"max=256"`
	Status   string         `json:"status"   validate:"required,oneof=success failed"`
	Details  map[string]any `json:"details,omitempty"`
}

type Filter struct {
	Actor    string
	Action   string
	Resource string
	Status   string
	Severity string
	From     time.Time
	To       time.Time
	Limit    int
}

type VerifyResult struct {
	IsValid         bool   `json:"isValid"`
	EntriesVerified int    `json:"entriesVerified"`
	BrokenAt        uint64 `json:"brokenAt,string,omitempty"`
	FinalHash       string `json:"finalHash"`
}
