package middleware

import (
	"context"
	"net/http"
	"strings"

	jwtinfra "github.com/fleetrent/authcore/internal/infrastructure/jwt"
	"github.com/fleetrent/authcore/internal/pkg/identity"
)

type tokenVerifier interface {
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}

type jtiChecker interface {
	IsValidByJTI(ctx context.Context, jti string) (bool, error)
}

// Auth returns middleware that validates the Bearer JWT, confirms the jti
// still backs a live token record, and injects the claims into context.
// A well-signed JWT whose record was revoked is rejected here.
func Auth(verifier tokenVerifier, tokens jtiChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := verifier.Verify(tokenStr)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ok, err := tokens.IsValidByJTI(r.Context(), claims.ID)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithClaims(r.Context(), claims)))
		})
	}
}

type expiredTokenVerifier interface {
	VerifyAllowExpired(tokenStr string) (*jwtinfra.Claims, error)
}

// AuthAllowExpired authenticates the bearer but tolerates an elapsed expiry.
// Only the refresh endpoint uses it; the stored-record validation happens in
// the service layer.
func AuthAllowExpired(verifier expiredTokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			claims, err := verifier.VerifyAllowExpired(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithClaims(r.Context(), claims)))
		})
	}
}
