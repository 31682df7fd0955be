package credential

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrivateKeyPEM(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	edKey, err := GenerateKey()
	require.NoError(t, err)

	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	edPEM, err := MarshalPrivateKeyPEM(edKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		alg  string
	}{
		{"ed25519 pkcs8", edPEM, "EdDSA"},
		{"ecdsa sec1", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: ecDER}), "ES256"},
		{"rsa pkcs1", pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}), "RS256"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParsePrivateKeyPEM(tt.data)
			require.NoError(t, err)
			assert.True(t, key.CanSign())
			assert.Equal(t, tt.alg, key.Method.Alg())
			assert.Len(t, key.ID, 16)

			pubPEM, err := MarshalPublicKeyPEM(key)
			require.NoError(t, err)
			pub, err := ParsePublicKeyPEM(pubPEM)
			require.NoError(t, err)
			assert.False(t, pub.CanSign())
			assert.Equal(t, key.ID, pub.ID)

			signed, err := jwt.NewWithClaims(key.Method, jwt.MapClaims{"sub": "x"}).SignedString(key.Private)
			require.NoError(t, err)
			_, err = jwt.Parse(signed, func(*jwt.Token) (any, error) { return pub.Public, nil })
			assert.NoError(t, err)
		})
	}

	_, err = ParsePrivateKeyPEM([]byte("not a key"))
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestNewKeyringRequiresSigningKey(t *testing.T) {
	_, err := NewKeyring(nil)
	assert.ErrorIs(t, err, ErrSigningKeyMissing)

	key, err := GenerateKey()
	require.NoError(t, err)
	_, err = NewKeyring(&Key{ID: key.ID, Method: key.Method, Public: key.Public})
	assert.ErrorIs(t, err, ErrSigningKeyMissing)
}

func TestLoadKeyring(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}

	active, err := GenerateKey()
	require.NoError(t, err)
	retired, err := GenerateKey()
	require.NoError(t, err)
	activePEM, err := MarshalPrivateKeyPEM(active)
	require.NoError(t, err)
	retiredPEM, err := MarshalPrivateKeyPEM(retired)
	require.NoError(t, err)

	keyring, err := LoadKeyring(write("active.pem", activePEM), []string{write("retired.pem", retiredPEM)})
	require.NoError(t, err)
	assert.Equal(t, active.ID, keyring.SigningKey().ID)
	assert.Equal(t, []string{"EdDSA"}, keyring.Algorithms())
	assert.False(t, keyring.keys[retired.ID].CanSign())

	_, err = LoadKeyring("", nil)
	assert.ErrorIs(t, err, ErrSigningKeyMissing)
	_, err = LoadKeyring(filepath.Join(dir, "missing.pem"), nil)
	assert.Error(t, err)
}
