package middleware

import (
	"net/http"

	"github.com/fleetrent/authcore/internal/pkg/identity"
)

// RequireRole returns middleware that allows access only to users whose JWT
// role matches one of the provided role names (e.g. domain.RoleAdmin).
func RequireRole(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := identity.ClaimsFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range allowedRoles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSONError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// RequireVerificationToken admits only tokens minted for email confirmation.
// Regular access tokens cannot drive the confirmation endpoints.
func RequireVerificationToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := identity.ClaimsFromContext(r.Context())
		if !ok || !claims.IsVerificationToken {
			writeJSONError(w, http.StatusForbidden, "verification token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireResetStage admits only password-reset tokens at the exact stage.
// A stage-1 token cannot skip ahead to the change-password endpoint.
func RequireResetStage(stage string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := identity.ClaimsFromContext(r.Context())
			if !ok || !claims.IsResetToken || claims.ResetTokenStage != stage {
				writeJSONError(w, http.StatusForbidden, "reset token at wrong stage")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
