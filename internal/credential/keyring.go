package credential

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Key is an asymmetric key pair, or a public key alone when the key is kept
// for verification of credentials signed before a rotation.
type Key struct {
	ID      string
	Method  jwt.SigningMethod
	Private crypto.Signer
	Public  crypto.PublicKey
}

func (k *Key) CanSign() bool {
	return k.Private != nil
}

type PublicKey struct {
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
	PEM       string `json:"pem"`
	Active    bool   `json:"active"`
}

// Keyring holds one active signing key and any number of verification keys.
type Keyring struct {
	signing *Key
	keys    map[string]*Key
	order   []string
	methods []string
}

func keyID(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8]), nil
}

func methodFor(pub crypto.PublicKey) (jwt.SigningMethod, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA, nil
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		switch k.Curve.Params().BitSize {
		case 256:
			return jwt.SigningMethodES256, nil
		case 384:
			return jwt.SigningMethodES384, nil
		case 521:
			return jwt.SigningMethodES512, nil
		}
	}
	return nil, ErrUnsupportedKey
}

func newKey(priv crypto.Signer, pub crypto.PublicKey) (*Key, error) {
	method, err := methodFor(pub)
	if err != nil {
		return nil, err
	}
	kid, err := keyID(pub)
	if err != nil {
		return nil, err
	}
	return &Key{ID: kid, Method: method, Private: priv, Public: pub}, nil
}

// GenerateKey creates a fresh Ed25519 signing key.
func GenerateKey() (*Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newKey(priv, pub)
}

// ParsePrivateKeyPEM accepts Ed25519, ECDSA and RSA private keys.
func ParsePrivateKeyPEM(data []byte) (*Key, error) {
	if priv, err := jwt.ParseEdPrivateKeyFromPEM(data); err == nil {
		signer, ok := priv.(crypto.Signer)
		if !ok {
			return nil, ErrUnsupportedKey
		}
		return newKey(signer, signer.Public())
	}
	if priv, err := jwt.ParseECPrivateKeyFromPEM(data); err == nil {
		return newKey(priv, priv.Public())
	}
	if priv, err := jwt.ParseRSAPrivateKeyFromPEM(data); err == nil {
		return newKey(priv, priv.Public())
	}
	return nil, ErrUnsupportedKey
}

// ParsePublicKeyPEM returns a verification only key.
func ParsePublicKeyPEM(data []byte) (*Key, error) {
	if pub, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return newKey(nil, pub)
	}
	if pub, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return newKey(nil, pub)
	}
	if pub, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return newKey(nil, pub)
	}
	return nil, ErrUnsupportedKey
}

func MarshalPrivateKeyPEM(key *Key) ([]byte, error) {
	if !key.CanSign() {
		return nil, ErrSigningKeyMissing
	}
	der, err := x509.MarshalPKCS8PrivateKey(key.Private)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func MarshalPublicKeyPEM(key *Key) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key.Public)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func (r *Keyring) add(key *Key) {
	if _, exists := r.keys[key.ID]; exists {
		return
	}
	r.keys[key.ID] = key
	r.order = append(r.order, key.ID)
	for _, alg := range r.methods {
		if alg == key.Method.Alg() {
			return
		}
	}
	r.methods = append(r.methods, key.Method.Alg())
}

// Algorithms lists the signing methods a token may use to verify against this keyring.
func (r *Keyring) Algorithms() []string {
	return r.methods
}

func (r *Keyring) SigningKey() *Key {
	return r.signing
}

func (r *Keyring) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	key, ok := r.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}
	if token.Method.Alg() != key.Method.Alg() {
		return nil, fmt.Errorf("%w: %s", jwt.ErrTokenSignatureInvalid, token.Method.Alg())
	}
	return key.Public, nil
}

func (r *Keyring) PublicKeys() ([]PublicKey, error) {
	ret := make([]PublicKey, 0, len(r.order))
	for _, kid := range r.order {
		key := r.keys[kid]
		data, err := MarshalPublicKeyPEM(key)
		if err != nil {
			return nil, err
		}
		ret = append(ret, PublicKey{
			KeyID:     kid,
			Algorithm: key.Method.Alg(),
			PEM:       string(data),
			Active:    kid == r.signing.ID,
		})
	}
	return ret, nil
}

func NewKeyring(signing *Key, verificationKeys ...*Key) (*Keyring, error) {
	if signing == nil || !signing.CanSign() {
		return nil, ErrSigningKeyMissing
	}
	r := &Keyring{signing: signing, keys: make(map[string]*Key)}
	r.add(signing)
	for _, key := range verificationKeys {
		r.add(key)
	}
	return r, nil
}

// LoadKeyring reads the active signing key and the verification keys of
// previous rotations from PEM files. A verification file may hold either a
// public or a private key.
func LoadKeyring(signingKeyFile string, verificationKeyFiles []string) (*Keyring, error) {
	if signingKeyFile == "" {
		return nil, ErrSigningKeyMissing
	}
	data, err := os.ReadFile(signingKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	signing, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse signing key %s: %w", signingKeyFile, err)
	}

	var verificationKeys []*Key
	for _, file := range verificationKeyFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read verification key: %w", err)
		}
		key, err := ParsePublicKeyPEM(data)
		if err != nil {
			key, err = ParsePrivateKeyPEM(data)
		}
		if err != nil {
			return nil, fmt.Errorf("parse verification key %s: %w", file, err)
		}
		key.Private = nil
		verificationKeys = append(verificationKeys, key)
	}
	return NewKeyring(signing, verificationKeys...)
}
