package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetrent/authcore/internal/domain"
	"github.com/fleetrent/authcore/internal/pkg/id"
	pkgtoken "github.com/fleetrent/authcore/internal/pkg/token"
	"github.com/google/uuid"
)

// Typed refresh-validation failures. Handlers collapse all three into one
// generic unauthorized answer; the distinction exists for server-side logs.
var (
	ErrNullToken     = fmt.Errorf("no auth token on record: %w", domain.ErrUnauthorized)
	ErrInvalidSecret = fmt.Errorf("refresh secret mismatch: %w", domain.ErrUnauthorized)
	ErrTokenRevoked  = fmt.Errorf("auth token revoked or expired: %w", domain.ErrUnauthorized)
)

// Repo is the persistence surface the store needs.
type Repo interface {
	Insert(ctx context.Context, t *domain.UserToken) error
	LatestByUserAndType(ctx context.Context, userID string, t domain.TokenType) (*domain.UserToken, error)
	ByJTI(ctx context.Context, jti string) (*domain.UserToken, error)
	RevokeByJTI(ctx context.Context, jti string) error
	RevokeByUserAndType(ctx context.Context, userID string, t domain.TokenType) error
	IsValidJTI(ctx context.Context, jti string) (bool, error)
}

// Signer abstracts the JWT provider so tests can substitute it.
type Signer interface {
	SignAuth(userID, email, role, jti string, ttl time.Duration) (string, error)
	SignVerification(userID, jti string, ttl time.Duration) (string, error)
	SignReset(userID, jti string, stage domain.ResetStage, ttl time.Duration) (string, error)
}

// Issued bundles a minted token record with its signed JWT and, for auth
// tokens, the plain refresh secret (returned once, stored only hashed).
type Issued struct {
	Token         *domain.UserToken
	JWT           string
	RefreshSecret string
}

// Store owns every state transition of session, verification and reset
// token records.
type Store struct {
	repo   Repo
	signer Signer

	authTokenTTL    time.Duration // signed JWT lifetime
	refreshTokenTTL time.Duration // stored auth record lifetime
	now             func() time.Time
}

func NewStore(repo Repo, signer Signer, authTokenTTL, refreshTokenTTL time.Duration) *Store {
	return &Store{
		repo:            repo,
		signer:          signer,
		authTokenTTL:    authTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
		now:             time.Now,
	}
}

// IssueAuthToken revokes the user's current auth token, then mints a new
// one. A user holds at most one active auth token; rotation is the only way
// to get a second.
func (s *Store) IssueAuthToken(ctx context.Context, u *domain.User) (*Issued, error) {
	if err := s.repo.RevokeByUserAndType(ctx, u.UserID, domain.TokenAuth); err != nil {
		return nil, err
	}

	secret, err := pkgtoken.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	hash := pkgtoken.Hash(secret)
	now := s.now().UTC()
	rec := &domain.UserToken{
		ID:          id.New(),
		Type:        domain.TokenAuth,
		UserID:      &u.UserID,
		RefreshHash: &hash,
		JTI:         uuid.NewString(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.refreshTokenTTL),
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, err
	}
	signed, err := s.signer.SignAuth(u.UserID, u.Email, u.Role, rec.JTI, s.authTokenTTL)
	if err != nil {
		return nil, err
	}
	return &Issued{Token: rec, JWT: signed, RefreshSecret: secret}, nil
}

// IssueVerificationToken mints the email-confirmation token. Any previous
// verification token for the user is revoked first.
func (s *Store) IssueVerificationToken(ctx context.Context, userID string, ttl time.Duration) (*Issued, error) {
	if err := s.repo.RevokeByUserAndType(ctx, userID, domain.TokenVerification); err != nil {
		return nil, err
	}
	rec, err := s.insertBare(ctx, userID, domain.TokenVerification, ttl)
	if err != nil {
		return nil, err
	}
	signed, err := s.signer.SignVerification(userID, rec.JTI, ttl)
	if err != nil {
		return nil, err
	}
	return &Issued{Token: rec, JWT: signed}, nil
}

// IssueResetToken mints a reset token for the given flow stage. When prevJTI
// is non-empty the previous stage's token is revoked first, so an earlier
// stage token can never be replayed after the flow has moved on.
func (s *Store) IssueResetToken(ctx context.Context, userID string, ttl time.Duration, stage domain.ResetStage, prevJTI string) (*Issued, error) {
	if prevJTI != "" {
		if err := s.repo.RevokeByJTI(ctx, prevJTI); err != nil {
			return nil, err
		}
	} else if err := s.repo.RevokeByUserAndType(ctx, userID, domain.TokenResetPassword); err != nil {
		return nil, err
	}
	rec, err := s.insertBare(ctx, userID, domain.TokenResetPassword, ttl)
	if err != nil {
		return nil, err
	}
	signed, err := s.signer.SignReset(userID, rec.JTI, stage, ttl)
	if err != nil {
		return nil, err
	}
	return &Issued{Token: rec, JWT: signed}, nil
}

// ValidateRefresh verifies a presented refresh secret against the user's
// latest auth token. Failures are typed so the caller can log precisely
// while answering the client generically.
func (s *Store) ValidateRefresh(ctx context.Context, userID, presentedSecret, jti string) (*domain.UserToken, error) {
	rec, err := s.repo.LatestByUserAndType(ctx, userID, domain.TokenAuth)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNullToken
		}
		return nil, err
	}
	if !rec.IsValid(s.now().UTC()) {
		return nil, ErrTokenRevoked
	}
	if rec.JTI != jti || rec.RefreshHash == nil || !pkgtoken.Matches(*rec.RefreshHash, presentedSecret) {
		return nil, ErrInvalidSecret
	}
	return rec, nil
}

// RevokeByJTI retires one token. Idempotent.
func (s *Store) RevokeByJTI(ctx context.Context, jti string) error {
	return s.repo.RevokeByJTI(ctx, jti)
}

// RevokeByUser retires every live token of a type for a user.
func (s *Store) RevokeByUser(ctx context.Context, userID string, t domain.TokenType) error {
	return s.repo.RevokeByUserAndType(ctx, userID, t)
}

// IsValidByJTI confirms the presented jti still backs a live record.
func (s *Store) IsValidByJTI(ctx context.Context, jti string) (bool, error) {
	return s.repo.IsValidJTI(ctx, jti)
}

func (s *Store) insertBare(ctx context.Context, userID string, t domain.TokenType, ttl time.Duration) (*domain.UserToken, error) {
	now := s.now().UTC()
	rec := &domain.UserToken{
		ID:        id.New(),
		Type:      t,
		UserID:    &userID,
		JTI:       uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
