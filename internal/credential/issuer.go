package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/khanghh/kguard/internal/audit"
	"github.com/khanghh/kguard/internal/metrics"
	"github.com/khanghh/kguard/internal/store"
	"github.com/khanghh/kguard/model"
)

type AuditRecorder interface {
	Append(ctx context.Context, event audit.Event) (*model.AuditEntry, error)
}

type IssuerConfig struct {
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RegistryGrace time.Duration
}

// Issuer signs credentials and is the only writer of their used and
// revoked flags.
type Issuer struct {
	keyring  *Keyring
	registry store.Store[Record]
	auditor  AuditRecorder
	config   IssuerConfig
	now      func() time.Time
}

func (i *Issuer) ttl(kind string) (time.Duration, error) {
	switch kind {
	case KindAccess:
		return i.config.AccessTTL, nil
	case KindRefresh:
		return i.config.RefreshTTL, nil
	}
	return 0, ErrUnknownKind
}

// Issue signs a new credential for subjectID and registers it for one-time use.
func (i *Issuer) Issue(ctx context.Context, subjectID string, kind string, extra map[string]any) (*IssuedCredential, error) {
	if subjectID == "" {
		return nil, ErrSubjectEmpty
	}
	ttl, err := i.ttl(kind)
	if err != nil {
		return nil, err
	}

	now := i.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Kind:  kind,
		Extra: extra,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.config.Issuer,
			Subject:   subjectID,
			Audience:  jwt.ClaimStrings{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signing := i.keyring.SigningKey()
	token := jwt.NewWithClaims(signing.Method, claims)
	token.Header["kid"] = signing.ID
	signed, err := token.SignedString(signing.Private)
	if err != nil {
		return nil, err
	}

	record := Record{
		ID:        claims.ID,
		SubjectID: subjectID,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := i.registry.Set(ctx, record.ID, record, ttl+i.config.RegistryGrace); err != nil {
		slog.ErrorContext(ctx, "Failed to register credential", "jti", record.ID, "error", err)
		return nil, err
	}
	metrics.CredentialsIssued.WithLabelValues(kind).Inc()

	_, err = i.auditor.Append(ctx, audit.Event{
		Actor:    subjectID,
		Action:   audit.ActionCredentialIssued,
		Resource: "credential:" + record.ID,
		Status:   model.AuditStatusSuccess,
		Details:  map[string]any{"kind": kind, "expiresIn": int64(ttl.Seconds())},
	})
	if err != nil {
		return nil, err
	}
	return &IssuedCredential{
		Token:        signed,
		CredentialID: record.ID,
		Kind:         kind,
		ExpiresIn:    int64(ttl.Seconds()),
		ExpiresAt:    expiresAt,
	}, nil
}

func (i *Issuer) parse(tokenStr string) (*Claims, string) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(i.keyring.Algorithms()),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithAudience(i.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	var claims Claims
	_, err := parser.ParseWithClaims(tokenStr, &claims, i.keyring.keyFunc)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return &claims, ReasonExpired
	default:
		return nil, ReasonInvalidSignature
	}
	if claims.ID == "" || (claims.Kind != KindAccess && claims.Kind != KindRefresh) {
		return nil, ReasonInvalidSignature
	}
	return &claims, ""
}

// consume checks the signature and then marks the registry record used in
// one compare-and-set. Of any number of concurrent callers presenting the
// same credential exactly one sees it valid.
func (i *Issuer) consume(ctx context.Context, tokenStr string, wantKind string) (*VerifyResult, error) {
	claims, reason := i.parse(tokenStr)
	result := &VerifyResult{Reason: reason}
	if claims != nil {
		result.SubjectID = claims.Subject
		result.CredentialID = claims.ID
		result.Kind = claims.Kind
	}
	if reason != "" {
		return result, nil
	}
	if wantKind != "" && claims.Kind != wantKind {
		result.Reason = ReasonWrongKind
		return result, nil
	}

	now := i.now()
	_, err := i.registry.Update(ctx, claims.ID, func(rec *Record) error {
		switch {
		case rec.Revoked:
			return errRevoked
		case rec.Used:
			return errAlreadyUsed
		case !rec.ExpiresAt.After(now):
			return store.ErrNotFound
		}
		rec.Used = true
		rec.UsedAt = &now
		return nil
	})
	switch {
	case err == nil:
		result.Valid = true
		result.Reason = ReasonValid
		result.Claims = claims.Extra
	case errors.Is(err, store.ErrNotFound):
		result.Reason = ReasonNotFoundOrExpired
	case errors.Is(err, errRevoked):
		result.Reason = ReasonRevoked
	case errors.Is(err, errAlreadyUsed):
		result.Reason = ReasonAlreadyUsed
		result.SuspiciousReplay = true
		metrics.CredentialReplayAttempts.Inc()
		slog.WarnContext(ctx, "Credential replay detected", "jti", claims.ID, "subject", claims.Subject)
	default:
		slog.ErrorContext(ctx, "Failed to consume credential", "jti", claims.ID, "error", err)
		return nil, err
	}
	return result, nil
}

func (i *Issuer) record(ctx context.Context, action string, result *VerifyResult) error {
	switch result.Reason {
	case ReasonInvalidSignature:
		action = audit.ActionCredentialForged
	case ReasonAlreadyUsed:
		action = audit.ActionReplayDetected
	}
	actor := result.SubjectID
	if actor == "" {
		actor = "unknown"
	}
	resource := "credential"
	if result.CredentialID != "" {
		resource = "credential:" + result.CredentialID
	}
	status := model.AuditStatusFailed
	if result.Valid {
		status = model.AuditStatusSuccess
	}
	_, err := i.auditor.Append(ctx, audit.Event{
		Actor:    actor,
		Action:   action,
		Resource: resource,
		Status:   status,
		Details:  map[string]any{"reason": result.Reason, "kind": result.Kind},
	})
	return err
}

// VerifySignatureAndConsume validates a presented credential and consumes it.
// Every outcome other than an infrastructure fault is reported in the result.
func (i *Issuer) VerifySignatureAndConsume(ctx context.Context, token string) (*VerifyResult, error) {
	result, err := i.consume(ctx, token, "")
	if err != nil {
		return nil, err
	}
	metrics.CredentialVerifications.WithLabelValues(result.Reason).Inc()
	if err := i.record(ctx, audit.ActionCredentialVerified, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Redeem consumes a refresh credential and rotates it into a new access and
// refresh pair carrying the same caller claims.
func (i *Issuer) Redeem(ctx context.Context, refreshToken string) (*RedeemResult, error) {
	verified, err := i.consume(ctx, refreshToken, KindRefresh)
	if err != nil {
		return nil, err
	}
	metrics.CredentialVerifications.WithLabelValues(verified.Reason).Inc()
	if err := i.record(ctx, audit.ActionCredentialRedeemed, verified); err != nil {
		return nil, err
	}

	result := &RedeemResult{VerifyResult: *verified}
	if !verified.Valid {
		return result, nil
	}
	if result.Access, err = i.Issue(ctx, verified.SubjectID, KindAccess, verified.Claims); err != nil {
		return nil, err
	}
	if result.Refresh, err = i.Issue(ctx, verified.SubjectID, KindRefresh, verified.Claims); err != nil {
		return nil, err
	}
	return result, nil
}

// Revoke marks a credential revoked. Revoking an unknown or already expired
// credential is a no-op.
func (i *Issuer) Revoke(ctx context.Context, credentialID string, actor string) error {
	if credentialID == "" {
		return ErrCredentialIDEmpty
	}
	now := i.now()
	_, err := i.registry.Update(ctx, credentialID, func(rec *Record) error {
		if rec.Revoked {
			return errUnchanged
		}
		rec.Revoked = true
		rec.RevokedAt = &now
		return nil
	})
	found := true
	switch {
	case errors.Is(err, store.ErrNotFound):
		found = false
	case errors.Is(err, errUnchanged), err == nil:
	default:
		slog.ErrorContext(ctx, "Failed to revoke credential", "jti", credentialID, "error", err)
		return err
	}

	if actor == "" {
		actor = "unknown"
	}
	_, err = i.auditor.Append(ctx, audit.Event{
		Actor:    actor,
		Action:   audit.ActionCredentialRevoked,
		Resource: "credential:" + credentialID,
		Status:   model.AuditStatusSuccess,
		Details:  map[string]any{"found": found},
	})
	return err
}

// Status reads a registry record without touching it.
func (i *Issuer) Status(ctx context.Context, credentialID string) (*Record, error) {
	if credentialID == "" {
		return nil, ErrCredentialIDEmpty
	}
	rec, err := i.registry.Get(ctx, credentialID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (i *Issuer) PublicKeys() ([]PublicKey, error) {
	return i.keyring.PublicKeys()
}

func NewIssuer(keyring *Keyring, storage store.Storage, auditor AuditRecorder, config IssuerConfig) (*Issuer, error) {
	if keyring == nil {
		return nil, ErrSigningKeyMissing
	}
	if config.AccessTTL > config.RefreshTTL {
		return nil, ErrInvalidTTL
	}
	return &Issuer{
		keyring:  keyring,
		registry: newRegistryStore(storage),
		auditor:  auditor,
		config:   config,
		now:      time.Now,
	}, nil
}
