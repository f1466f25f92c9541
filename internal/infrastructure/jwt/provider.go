package jwtinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetrent/authcore/internal/config"
	"github.com/fleetrent/authcore/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload. Subject carries the user id and ID the jti that
// correlates the signature with its stored token record. The stage claim
// gates which reset endpoint a token may call.
type Claims struct {
	Email               string `json:"email,omitempty"`
	Role                string `json:"role,omitempty"`
	IsVerificationToken bool   `json:"is_verification_token,omitempty"`
	IsResetToken        bool   `json:"is_reset_token,omitempty"`
	ResetTokenStage     string `json:"reset_token_stage,omitempty"`
	jwt.RegisteredClaims
}

// Provider signs and verifies HS256 JWTs.
type Provider struct {
	secret   []byte
	issuer   string
	audience string
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	return &Provider{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
	}, nil
}

// SignAuth mints an access token for an authenticated session.
func (p *Provider) SignAuth(userID, email, role, jti string, ttl time.Duration) (string, error) {
	return p.sign(Claims{
		Email: email,
		Role:  role,
	}, userID, jti, ttl)
}

// SignVerification mints a token that only authorizes email confirmation.
func (p *Provider) SignVerification(userID, jti string, ttl time.Duration) (string, error) {
	return p.sign(Claims{
		IsVerificationToken: true,
	}, userID, jti, ttl)
}

// SignReset mints a password-reset token bound to a flow stage.
func (p *Provider) SignReset(userID, jti string, stage domain.ResetStage, ttl time.Duration) (string, error) {
	return p.sign(Claims{
		IsResetToken:    true,
		ResetTokenStage: string(stage),
	}, userID, jti, ttl)
}

func (p *Provider) sign(claims Claims, userID, jti string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   userID,
		ID:        jti,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry, issuer and audience, and returns the
// parsed claims.
func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// VerifyAllowExpired checks everything Verify does except the expiry window.
// The refresh flow uses it: the presented bearer may be past its TTL but
// must still be authentic.
func (p *Provider) VerifyAllowExpired(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if claims.Issuer != p.issuer {
		return nil, errors.New("unexpected issuer")
	}
	audOK := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, errors.New("unexpected audience")
	}
	return claims, nil
}
