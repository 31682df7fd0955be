package params

import "time"

const (
	ServerBodyLimit           = 1048576 // 1 MiB
	ServerIdleTimeout         = 30 * time.Second
	ServerReadTimeout         = 10 * time.Second
	ServerWriteTimeout        = 10 * time.Second
	RequestTimeout            = 8 * time.Second // deadline of store, signer and audit calls made by a request
	ChallengeKeyPrefix        = "c:"
	HoneytrapKeyPrefix        = "h:"
	CredentialKeyPrefix       = "t:"
	GridSize                  = 16               // 4x4 grid
	GridTargetCount           = 1                // number of cells carrying the target icon
	GridHoneytrapCount        = 2                // number of honeytrap cells per grid
	GridChallengeExpiration   = 10 * time.Minute // challenge and decoy set time to live
	GridPartialScore          = 25               // score of a non-empty incorrect selection
	GridFullScore             = 100              // score of an exact selection
	HoneytrapDecoyCount       = 5                // invisible decoys attached to every challenge
	HoneytrapDecoySecretBytes = 16               // random bytes of decoy binding secret
	InteractionMinElapsed     = 2 * time.Second  // faster solves are flagged as automated
	InteractionMaxElapsed     = 30 * time.Second // slower solves are flagged as relayed
	AccessTokenExpiration     = 1 * time.Minute  // one-time-use access credential lifetime
	RefreshTokenExpiration    = 1 * time.Hour    // refresh credential lifetime
	CredentialRegistryGrace   = 1 * time.Minute  // registry record outlives its credential by this much
	CredentialIssuer          = "kguard"
	CredentialAudience        = "banking_partner"
	AuditChainID              = "default"
	AuditGenesisInput         = "kguard-audit-genesis"
	AuditAppendMaxRetries     = 64               // sequence conflicts tolerated by a single append
	StoreUpdateMaxRetries     = 32               // optimistic transaction retries of a store update
	HealthCheckServerAddr     = ":3001"          // health check server address
)

var (
	Version = "0.1.0"
)

func VersionWithCommit(gitCommit, gitDate string) string {
	version := Version
	if len(gitCommit) >= 8 {
		version += "-" + gitCommit[:8]
	}
	if gitDate != "" {
		version += "-" + gitDate
	}
	return version
}
