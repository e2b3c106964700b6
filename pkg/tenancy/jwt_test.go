package tenancy

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePublicKey(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwt.pub")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return path
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func bearer(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestJWTResolver(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	resolver, err := NewJWTResolver(JWTConfig{
		OrganizationClaim: "tenant.org",
		PublicKeyPath:     writePublicKey(t, key),
		Issuer:            "https://idp.example.com",
	}, nil)
	require.NoError(t, err)

	valid := jwt.MapClaims{
		"sub":    "alice",
		"iss":    "https://idp.example.com",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"tenant": map[string]any{"org": "org-1"},
	}

	a, err := resolver.Resolve(bearer(sign(t, key, valid)))
	require.NoError(t, err)
	assert.Equal(t, Actor{Organization: "org-1", User: "alice"}, a)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"not a jwt", "abc"},
		{"wrong key", sign(t, other, valid)},
		{"expired", sign(t, key, jwt.MapClaims{"sub": "alice", "iss": "https://idp.example.com", "exp": time.Now().Add(-time.Hour).Unix(), "tenant": map[string]any{"org": "org-1"}})},
		{"wrong issuer", sign(t, key, jwt.MapClaims{"sub": "alice", "iss": "https://evil.example.com", "tenant": map[string]any{"org": "org-1"}})},
		{"no organization", sign(t, key, jwt.MapClaims{"sub": "alice", "iss": "https://idp.example.com"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(bearer(tt.token))
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestJWTResolverUnverified(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	resolver, err := NewJWTResolver(JWTConfig{}, nil)
	require.NoError(t, err)

	a, err := resolver.Resolve(bearer(sign(t, key, jwt.MapClaims{"org": "org-2"})))
	require.NoError(t, err)
	assert.Equal(t, Actor{Organization: "org-2", User: "anonymous"}, a)

	_, err = resolver.Resolve(bearer(sign(t, key, jwt.MapClaims{"org": "org-2", "exp": time.Now().Add(-time.Hour).Unix()})))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewJWTResolverBadKey(t *testing.T) {
	_, err := NewJWTResolver(JWTConfig{PublicKeyPath: filepath.Join(t.TempDir(), "missing.pub")}, nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "garbage.pub")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0o600))
	_, err = NewJWTResolver(JWTConfig{PublicKeyPath: path}, nil)
	assert.Error(t, err)
}

func TestMiddlewareUnauthenticated(t *testing.T) {
	resolver, err := NewJWTResolver(JWTConfig{}, nil)
	require.NoError(t, err)
	handler := Middleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, bearer(""))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "unauthenticated", body["error"])
}
