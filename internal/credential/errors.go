package credential

import "errors"

var (
	ErrSigningKeyMissing  = errors.New("signing key missing")
	ErrUnsupportedKey     = errors.New("unsupported key type")
	ErrUnknownKeyID       = errors.New("unknown key id")
	ErrSubjectEmpty       = errors.New("subject id cannot be empty")
	ErrUnknownKind        = errors.New("unknown credential kind")
	ErrCredentialIDEmpty  = errors.New("credential id cannot be empty")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrInvalidTTL         = errors.New("access credential ttl must not exceed refresh ttl")

	errRevoked     = errors.New("revoked")
	errAlreadyUsed = errors.New("already used")
	errUnchanged   = errors.New("unchanged")
)
