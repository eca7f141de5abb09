package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"go.uber.org/zap"
)

func signToken(t *testing.T, key *rsa.PrivateKey, scopes map[string]bool, ttl time.Duration) string {
	t.Helper()
	claims := domain.CustomClaims{
		UserID: "op-1",
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifyToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewRSAValidator(&key.PublicKey, ValidatorOptions{})

	claims, err := v.VerifyToken("Bearer " + signToken(t, key, map[string]bool{"dashboard.read": true}, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.UserID)
	assert.True(t, claims.HasScope(domain.ScopeDashboardRead))
	assert.False(t, claims.HasScope(domain.ScopeConsentWrite))

	_, err = v.VerifyToken(signToken(t, key, nil, -time.Minute))
	assert.Error(t, err, "expired token must be rejected")

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.VerifyToken(signToken(t, other, nil, time.Hour))
	assert.Error(t, err, "foreign signature must be rejected")
}

func TestVerifyToken_Constraints(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewRSAValidator(&key.PublicKey, ValidatorOptions{Issuer: "aurora-console", Leeway: time.Minute})

	sign := func(method jwt.SigningMethod, signKey any, claims jwt.RegisteredClaims) string {
		s, err := jwt.NewWithClaims(method, domain.CustomClaims{UserID: "op-1", RegisteredClaims: claims}).SignedString(signKey)
		require.NoError(t, err)
		return s
	}
	in := func(d time.Duration) *jwt.NumericDate { return jwt.NewNumericDate(time.Now().Add(d)) }

	_, err = v.VerifyToken(sign(jwt.SigningMethodRS256, key, jwt.RegisteredClaims{Issuer: "aurora-console", ExpiresAt: in(time.Hour)}))
	assert.NoError(t, err)

	// Просрочен на 30с, но укладывается в допуск
	_, err = v.VerifyToken(sign(jwt.SigningMethodRS256, key, jwt.RegisteredClaims{Issuer: "aurora-console", ExpiresAt: in(-30 * time.Second)}))
	assert.NoError(t, err)

	_, err = v.VerifyToken(sign(jwt.SigningMethodRS256, key, jwt.RegisteredClaims{Issuer: "aurora-console"}))
	assert.Error(t, err, "token without exp")

	_, err = v.VerifyToken(sign(jwt.SigningMethodRS256, key, jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: in(time.Hour)}))
	assert.Error(t, err, "foreign issuer")

	_, err = v.VerifyToken(sign(jwt.SigningMethodHS256, []byte("shared"), jwt.RegisteredClaims{Issuer: "aurora-console", ExpiresAt: in(time.Hour)}))
	assert.Error(t, err, "hmac token")

	_, err = v.VerifyToken("Bearer ")
	assert.Error(t, err)

	_, err = ParseRSAPublicKey(nil)
	assert.ErrorIs(t, err, ErrNoPublicKey)
}

func TestMiddlewareAndScopes(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewRSAValidator(&key.PublicKey, ValidatorOptions{})

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := NewMiddleware(v, zap.NewNop())(RequireScope(domain.ScopeConsentWrite)(ok))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"missing scope", "Bearer " + signToken(t, key, map[string]bool{"dashboard.read": true}, time.Hour), http.StatusForbidden},
		{"exact scope", "Bearer " + signToken(t, key, map[string]bool{"consent.write": true}, time.Hour), http.StatusNoContent},
		{"admin", "Bearer " + signToken(t, key, map[string]bool{"admin": true}, time.Hour), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/consent/decision", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
