package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/storage/memory"
	"github.com/vladislavdragonenkov/campusmarket/internal/transport/httpapi"
)

var secret = []byte("test-secret")

func TestSignAndParseToken(t *testing.T) {
	actor := domain.Actor{ID: "user-1", Role: domain.RoleAdmin, Verified: true}
	token, err := httpapi.SignToken(secret, actor, time.Minute)
	require.NoError(t, err)

	parsed, err := httpapi.ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, actor, parsed)

	_, err = httpapi.ParseToken([]byte("other"), token)
	require.Error(t, err)
}

func TestParseTokenRejectsExpiredAndForeignAlgorithms(t *testing.T) {
	expired, err := httpapi.SignToken(secret, domain.Actor{ID: "user-1"}, -time.Minute)
	require.NoError(t, err)
	_, err = httpapi.ParseToken(secret, expired)
	require.Error(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"}).SignedString(secret)
	require.NoError(t, err)
	_, err = httpapi.ParseToken(secret, noExpiry)
	require.Error(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = httpapi.ParseToken(secret, unsigned)
	require.Error(t, err)
}

func TestRouterWithJWT(t *testing.T) {
	router := newRouter(memory.NewStore(), httpapi.RouterConfig{Auth: httpapi.AuthConfig{Secret: secret}})

	req := httptest.NewRequest(http.MethodGet, "/api/transactions/my-transactions", nil)
	req.Header.Set(httpapi.HeaderActorID, "spoofed")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "actor headers are ignored when auth is enabled")

	token, err := httpapi.SignToken(secret, domain.Actor{ID: "buyer-1", Verified: true}, time.Minute)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/transactions/my-transactions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	// Токен в query-параметре нужен websocket-клиентам.
	req = httptest.NewRequest(http.MethodGet, "/api/transactions/my-transactions?token="+token, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitPerActor(t *testing.T) {
	router := newRouter(memory.NewStore(), httpapi.RouterConfig{
		Auth:           httpapi.AuthConfig{Disabled: true},
		RateLimitRPS:   0.001,
		RateLimitBurst: 2,
	})

	get := func(actor string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/users/u/rating", nil)
		req.Header.Set(httpapi.HeaderActorID, actor)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("a"))
	assert.Equal(t, http.StatusOK, get("a"))
	assert.Equal(t, http.StatusTooManyRequests, get("a"))
	assert.Equal(t, http.StatusOK, get("b"), "limits are tracked per actor")
}

func TestCORSPreflight(t *testing.T) {
	router := newRouter(memory.NewStore(), httpapi.RouterConfig{
		Auth:        httpapi.AuthConfig{Disabled: true},
		CORSOrigins: []string{"http://localhost:5173"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/transactions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
