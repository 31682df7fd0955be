package audit

import (
	"strings"

	"github.com/khanghh/kguard/model"
)

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityInfo     = "info"
)

var criticalActions = map[string]struct{}{
	ActionCredentialForged:   {},
	ActionHoneytrapTriggered: {},
	ActionReplayDetected:     {},
	ActionDeviceMismatch:     {},
}

var sensitiveActions = map[string]struct{}{
	ActionGridVerified:       {},
	ActionCredentialVerified: {},
	ActionCredentialRedeemed: {},
	ActionSuspiciousActivity: {},
	ActionFailedAuth:         {},
	ActionAccessDenied:       {},
	ActionInvalidToken:       {},
}

// Severity classifies an event from its action and status alone.
func Severity(action string, status string) string {
	failed := status == model.AuditStatusFailed
	if _, ok := criticalActions[action]; ok && failed {
		return SeverityCritical
	}
	if _, ok := sensitiveActions[action]; ok && failed {
		return SeverityHigh
	}
	switch {
	case strings.Contains(action, "threat_detected"):
		return SeverityHigh
	case strings.Contains(action, "warning"):
		return SeverityMedium
	default:
		return SeverityInfo
	}
}
