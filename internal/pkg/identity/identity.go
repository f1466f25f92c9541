package identity

import (
	"context"
	"net"
	"net/http"
	"strings"

	jwtinfra "github.com/fleetrent/authcore/internal/infrastructure/jwt"
)

type contextKey string

const claimsKey contextKey = "claims"

// WithClaims stores verified JWT claims on the context. The auth middleware
// is the only writer.
func WithClaims(ctx context.Context, claims *jwtinfra.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the verified claims, if any.
func ClaimsFromContext(ctx context.Context) (*jwtinfra.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*jwtinfra.Claims)
	return c, ok
}

// Identity is a read-only snapshot of who is calling. Fields are zero when
// the underlying claim or header is absent; callers decide whether absence
// is fatal.
type Identity struct {
	UserID        string
	TokenJTI      string
	RawToken      string
	RefreshSecret string
	ClientIP      string
	UserAgent     string
	Language      string
}

// FromRequest extracts the caller identity from the request. It performs no
// I/O and never fails.
func FromRequest(r *http.Request) Identity {
	ident := Identity{
		RawToken:      bearerToken(r),
		RefreshSecret: r.Header.Get("X-Refresh-Token"),
		ClientIP:      ClientIP(r),
		UserAgent:     r.UserAgent(),
		Language:      preferredLanguage(r),
	}
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		ident.UserID = claims.Subject
		ident.TokenJTI = claims.ID
	}
	return ident
}

// ClientIP resolves the originating address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func preferredLanguage(r *http.Request) string {
	accept := r.Header.Get("Accept-Language")
	if accept == "" {
		return ""
	}
	first, _, _ := strings.Cut(accept, ",")
	lang, _, _ := strings.Cut(strings.TrimSpace(first), ";")
	return lang
}
