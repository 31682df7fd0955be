package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChallengesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kguard_challenges_issued_total",
			Help: "Total number of grid challenges issued",
		},
	)

	ChallengeVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguard_challenge_verifications_total",
			Help: "Total number of grid verifications by outcome reason",
		},
		[]string{"reason"}, // ok, incorrect_selection, honeytrap_triggered, challenge_expired_or_consumed
	)

	HoneytrapSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguard_honeytrap_signals_total",
			Help: "Total number of suspicious interaction signals",
		},
		[]string{"signal"}, // decoy_triggered, timing_anomaly
	)

	CredentialsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguard_credentials_issued_total",
			Help: "Total number of credentials issued by kind",
		},
		[]string{"kind"},
	)

	CredentialVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguard_credential_verifications_total",
			Help: "Total number of credential verifications by outcome reason",
		},
		[]string{"reason"},
	)

	// CredentialReplayAttempts spikes indicate stolen credentials being replayed.
	CredentialReplayAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kguard_credential_replay_attempts_total",
			Help: "Total number of already used credentials presented again",
		},
	)

	AuditAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguard_audit_appends_total",
			Help: "Total number of audit entries appended by severity",
		},
		[]string{"severity"},
	)

	AuditAppendConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kguard_audit_append_conflicts_total",
			Help: "Total number of audit appends retried after losing the sequence race",
		},
	)

	StoreBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kguard_store_breaker_state",
			Help: "Storage circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	StoreBreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguard_store_breaker_rejections_total",
			Help: "Total number of storage calls rejected by an open circuit",
		},
		[]string{"name"},
	)
)
