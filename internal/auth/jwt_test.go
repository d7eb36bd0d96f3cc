package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/s3proxy/s3proxy/internal/config"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuthenticatorAcceptsValidHS256Token(t *testing.T) {
	a, err := newJWTAuthenticator(config.JWTConfig{Algorithm: "HS256", Secret: "shared-secret"})
	require.NoError(t, err)

	token := signHS256(t, "shared-secret", jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPut, "http://example.test/key", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	subject, authErr := a.Authenticate(req)
	require.Nil(t, authErr)
	require.Equal(t, "user-123", subject)
}

func TestJWTAuthenticatorRejectsExpiredToken(t *testing.T) {
	a, err := newJWTAuthenticator(config.JWTConfig{Algorithm: "HS256", Secret: "shared-secret"})
	require.NoError(t, err)

	token := signHS256(t, "shared-secret", jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPut, "http://example.test/key", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, authErr := a.Authenticate(req)
	require.NotNil(t, authErr)
	require.EqualValues(t, "AuthExpired", authErr.Kind)
}

func TestJWTAuthenticatorRejectsWrongSecret(t *testing.T) {
	a, err := newJWTAuthenticator(config.JWTConfig{Algorithm: "HS256", Secret: "shared-secret"})
	require.NoError(t, err)

	token := signHS256(t, "wrong-secret", jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPut, "http://example.test/key", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, authErr := a.Authenticate(req)
	require.NotNil(t, authErr)
}

func TestJWTAuthenticatorExtractsFromQueryParam(t *testing.T) {
	a, err := newJWTAuthenticator(config.JWTConfig{Algorithm: "HS256", Secret: "shared-secret", TokenSources: []string{"query:token"}})
	require.NoError(t, err)

	token := signHS256(t, "shared-secret", jwt.MapClaims{
		"sub": "user-456",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPut, "http://example.test/key?token="+token, nil)

	subject, authErr := a.Authenticate(req)
	require.Nil(t, authErr)
	require.Equal(t, "user-456", subject)
}

func TestJWTAuthenticatorMissingTokenRejected(t *testing.T) {
	a, err := newJWTAuthenticator(config.JWTConfig{Algorithm: "HS256", Secret: "shared-secret"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "http://example.test/key", nil)

	_, authErr := a.Authenticate(req)
	require.NotNil(t, authErr)
	require.EqualValues(t, "AuthMissing", authErr.Kind)
}
