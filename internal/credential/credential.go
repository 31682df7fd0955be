package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/khanghh/kguard/internal/store"
	"github.com/khanghh/kguard/params"
)

const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

const (
	ReasonValid             = "valid"
	ReasonExpired           = "expired"
	ReasonInvalidSignature  = "invalid_signature"
	ReasonNotFoundOrExpired = "not_found_or_expired"
	ReasonRevoked           = "revoked"
	ReasonAlreadyUsed       = "already_used"
	ReasonWrongKind         = "wrong_kind"
)

// Claims is the signed payload. Caller supplied claims are nested under ext
// so they can never shadow the registered ones.
type Claims struct {
	Kind  string         `json:"kind"`
	Extra map[string]any `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// Record is the replay registry entry of a credential. It outlives the
// credential by a grace period so a late replay is still told apart from a
// token that never existed.
type Record struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subjectId"`
	Kind      string     `json:"kind"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

type IssuedCredential struct {
	Token        string    `json:"token"`
	CredentialID string    `json:"credentialId"`
	Kind         string    `json:"kind"`
	ExpiresIn    int64     `json:"expiresIn"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type VerifyResult struct {
	Valid            bool           `json:"valid"`
	Reason           string         `json:"reason"`
	SubjectID        string         `json:"subjectId,omitempty"`
	CredentialID     string         `json:"credentialId,omitempty"`
	Kind             string         `json:"kind,omitempty"`
	SuspiciousReplay bool           `json:"suspiciousReplay"`
	Claims           map[string]any `json:"claims,omitempty"`
}

type RedeemResult struct {
	VerifyResult
	Access  *IssuedCredential `json:"access,omitempty"`
	Refresh *IssuedCredential `json:"refresh,omitempty"`
}

func newRegistryStore(storage store.Storage) store.Store[Record] {
	return store.New[Record](storage, params.CredentialKeyPrefix)
}
