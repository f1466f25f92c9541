package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fleetrent/authcore/internal/config"
	"github.com/fleetrent/authcore/internal/domain"
	jwtinfra "github.com/fleetrent/authcore/internal/infrastructure/jwt"
	"github.com/fleetrent/authcore/internal/pkg/identity"
)

func newTestProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	p, err := jwtinfra.NewProvider(&config.Config{
		JWTSecret:   "test-secret-at-least-32-bytes-long!!",
		JWTIssuer:   "authcore",
		JWTAudience: "fleetrent",
	})
	require.NoError(t, err)
	return p
}

type mockJTIChecker struct{ mock.Mock }

func (m *mockJTIChecker) IsValidByJTI(ctx context.Context, jti string) (bool, error) {
	args := m.Called(ctx, jti)
	return args.Bool(0), args.Error(1)
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestAuth_MissingHeader(t *testing.T) {
	p := newTestProvider(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	Auth(p, &mockJTIChecker{})(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_GarbageToken(t *testing.T) {
	p := newTestProvider(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := httptest.NewRecorder()
	Auth(p, &mockJTIChecker{})(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_ValidTokenLiveJTI_InjectsClaims(t *testing.T) {
	p := newTestProvider(t)
	signed, err := p.SignAuth("u1", "a@b.com", domain.RoleUser, "jti-1", time.Minute)
	require.NoError(t, err)

	checker := &mockJTIChecker{}
	checker.On("IsValidByJTI", mock.Anything, "jti-1").Return(true, nil)

	var got *jwtinfra.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = identity.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	Auth(p, checker)(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.Subject)
	assert.Equal(t, "jti-1", got.ID)
}

func TestAuth_RevokedJTI_RejectsWellSignedToken(t *testing.T) {
	p := newTestProvider(t)
	signed, err := p.SignAuth("u1", "a@b.com", domain.RoleUser, "jti-1", time.Minute)
	require.NoError(t, err)

	checker := &mockJTIChecker{}
	checker.On("IsValidByJTI", mock.Anything, "jti-1").Return(false, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	Auth(p, checker)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_JTILookupFailure_Is500(t *testing.T) {
	p := newTestProvider(t)
	signed, err := p.SignAuth("u1", "a@b.com", domain.RoleUser, "jti-1", time.Minute)
	require.NoError(t, err)

	checker := &mockJTIChecker{}
	checker.On("IsValidByJTI", mock.Anything, "jti-1").Return(false, errors.New("db down"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	Auth(p, checker)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestAuthAllowExpired_AcceptsExpiredBearer(t *testing.T) {
	p := newTestProvider(t)
	signed, err := p.SignAuth("u1", "a@b.com", domain.RoleUser, "jti-1", -time.Minute)
	require.NoError(t, err)

	var got *jwtinfra.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = identity.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	AuthAllowExpired(p)(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	assert.Equal(t, "jti-1", got.ID)
}

func TestAuthAllowExpired_RejectsForgedToken(t *testing.T) {
	p := newTestProvider(t)
	forger, err := jwtinfra.NewProvider(&config.Config{
		JWTSecret:   "a-completely-different-secret-value",
		JWTIssuer:   "authcore",
		JWTAudience: "fleetrent",
	})
	require.NoError(t, err)
	signed, err := forger.SignAuth("u1", "a@b.com", domain.RoleUser, "jti-1", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	AuthAllowExpired(p)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
