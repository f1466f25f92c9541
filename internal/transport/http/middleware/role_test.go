package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/fleetrent/authcore/internal/domain"
	jwtinfra "github.com/fleetrent/authcore/internal/infrastructure/jwt"
	"github.com/fleetrent/authcore/internal/pkg/identity"
)

func requestWithClaims(claims *jwtinfra.Claims) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	return r.WithContext(identity.WithClaims(r.Context(), claims))
}

func TestRequireRole_NoClaims(t *testing.T) {
	rr := httptest.NewRecorder()
	RequireRole(domain.RoleAdmin)(http.HandlerFunc(okHandler)).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireRole_WrongRole(t *testing.T) {
	rr := httptest.NewRecorder()
	RequireRole(domain.RoleAdmin)(http.HandlerFunc(okHandler)).
		ServeHTTP(rr, requestWithClaims(&jwtinfra.Claims{Role: domain.RoleUser}))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireRole_MatchingRole(t *testing.T) {
	rr := httptest.NewRecorder()
	RequireRole(domain.RoleAdmin)(http.HandlerFunc(okHandler)).
		ServeHTTP(rr, requestWithClaims(&jwtinfra.Claims{Role: domain.RoleAdmin}))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireVerificationToken_RejectsPlainAccessToken(t *testing.T) {
	rr := httptest.NewRecorder()
	RequireVerificationToken(http.HandlerFunc(okHandler)).
		ServeHTTP(rr, requestWithClaims(&jwtinfra.Claims{Role: domain.RoleUser}))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireVerificationToken_AdmitsVerificationToken(t *testing.T) {
	rr := httptest.NewRecorder()
	RequireVerificationToken(http.HandlerFunc(okHandler)).
		ServeHTTP(rr, requestWithClaims(&jwtinfra.Claims{IsVerificationToken: true}))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireResetStage_RejectsStageSkip(t *testing.T) {
	// a stage-1 token must not reach the change-password endpoint
	claims := &jwtinfra.Claims{
		IsResetToken:    true,
		ResetTokenStage: string(domain.StageAwaitingVerification),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "u1",
		},
	}
	rr := httptest.NewRecorder()
	RequireResetStage(string(domain.StageVerified))(http.HandlerFunc(okHandler)).
		ServeHTTP(rr, requestWithClaims(claims))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireResetStage_AdmitsExactStage(t *testing.T) {
	claims := &jwtinfra.Claims{
		IsResetToken:    true,
		ResetTokenStage: string(domain.StageVerified),
	}
	rr := httptest.NewRecorder()
	RequireResetStage(string(domain.StageVerified))(http.HandlerFunc(okHandler)).
		ServeHTTP(rr, requestWithClaims(claims))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireResetStage_RejectsNonResetToken(t *testing.T) {
	rr := httptest.NewRecorder()
	RequireResetStage(string(domain.StageVerified))(http.HandlerFunc(okHandler)).
		ServeHTTP(rr, requestWithClaims(&jwtinfra.Claims{Role: domain.RoleUser}))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}
