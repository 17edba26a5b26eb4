package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portraitStudio/internal/config"
)

func newTestKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		Email: "ada@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid-42",
			Issuer:    "https://securetoken.example.com/portrait",
			Audience:  jwt.ClaimStrings{"portrait"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestValidateTokenAcceptsSignedToken(t *testing.T) {
	key, pub := newTestKey(t)
	v, err := NewVerifier(pub, "https://securetoken.example.com/portrait", "portrait")
	require.NoError(t, err)

	claims, err := v.ValidateToken(signToken(t, key, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "uid-42", claims.UserID())
	assert.Equal(t, "ada@example.com", claims.Email)
}

func TestValidateTokenRejects(t *testing.T) {
	key, pub := newTestKey(t)
	otherKey, _ := newTestKey(t)
	v, err := NewVerifier(pub, "https://securetoken.example.com/portrait", "portrait")
	require.NoError(t, err)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}

	noSubject := validClaims()
	noSubject.Subject = ""

	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: "  "},
		{name: "expired", token: signToken(t, key, expired)},
		{name: "wrong audience", token: signToken(t, key, wrongAudience)},
		{name: "no subject", token: signToken(t, key, noSubject)},
		{name: "other key", token: signToken(t, otherKey, validClaims())},
		{name: "hmac", token: hmacToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.ValidateToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}

func TestLoadVerifierReadsFile(t *testing.T) {
	key, pub := newTestKey(t)
	path := filepath.Join(t.TempDir(), "id_token.pub")
	require.NoError(t, os.WriteFile(path, pub, 0o600))

	v, err := LoadVerifier(config.AuthConfig{PublicKeyPath: path})
	require.NoError(t, err)

	claims, err := v.ValidateToken(signToken(t, key, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "uid-42", claims.Subject)

	_, err = LoadVerifier(config.AuthConfig{PublicKeyPath: filepath.Join(t.TempDir(), "missing.pub")})
	assert.Error(t, err)
}

func TestNewVerifierRequiresKey(t *testing.T) {
	_, err := NewVerifier(nil, "", "")
	assert.EqualError(t, err, "public key pem is required")

	_, err = NewVerifier([]byte("not a key"), "", "")
	assert.Error(t, err)
}
