package user

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetrent/authcore/internal/domain"
	"github.com/fleetrent/authcore/internal/pkg/id"
	pkgtoken "github.com/fleetrent/authcore/internal/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt input ceiling
)

// dummyHash is compared against when the user does not exist, so a failed
// lookup costs the same as a failed password check.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("authcore-timing-pad"), bcrypt.DefaultCost)

// Service is the identity subsystem surface the auth orchestrator consumes.
// The orchestrator treats it as opaque: it creates users, checks passwords,
// and flips confirmation flags, nothing more.
type Service interface {
	Create(ctx context.Context, email, password string, phone *string) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// CheckPassword accepts a nil user and burns a dummy bcrypt compare in
	// that case, keeping response timing flat for unknown emails.
	CheckPassword(u *domain.User, password string) bool
	SetEmailConfirmed(ctx context.Context, userID string, at time.Time) error
	SetPhoneConfirmed(ctx context.Context, userID string) error
	// SetPassword re-runs strength validation before storing the new hash,
	// mirroring a remove-then-add credential update.
	SetPassword(ctx context.Context, userID, newPassword string) error
	RotateSecurityStamp(ctx context.Context, userID string) error
}

type userStore interface {
	Insert(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	SetEmailConfirmed(ctx context.Context, userID string, at time.Time) error
	SetPhoneConfirmed(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateSecurityStamp(ctx context.Context, userID, stamp string) error
}

type service struct {
	repo userStore
}

func NewService(repo userStore) Service {
	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, email, password string, phone *string) (*domain.User, error) {
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	stamp, err := pkgtoken.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		UserID:        id.New(),
		Email:         email,
		Phone:         phone,
		PasswordHash:  string(hash),
		Role:          domain.RoleUser,
		SecurityStamp: stamp,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *service) Get(ctx context.Context, userID string) (*domain.User, error) {
	return s.repo.Get(ctx, userID)
}

func (s *service) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *service) CheckPassword(u *domain.User, password string) bool {
	hash := dummyHash
	if u != nil {
		hash = []byte(u.PasswordHash)
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	return u != nil && err == nil
}

func (s *service) SetEmailConfirmed(ctx context.Context, userID string, at time.Time) error {
	return s.repo.SetEmailConfirmed(ctx, userID, at)
}

func (s *service) SetPhoneConfirmed(ctx context.Context, userID string) error {
	return s.repo.SetPhoneConfirmed(ctx, userID)
}

func (s *service) SetPassword(ctx context.Context, userID, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, userID, string(hash))
}

func (s *service) RotateSecurityStamp(ctx context.Context, userID string) error {
	stamp, err := pkgtoken.NewRefreshToken()
	if err != nil {
		return err
	}
	return s.repo.UpdateSecurityStamp(ctx, userID, stamp)
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return fmt.Errorf("password must be between %d and %d characters: %w", minPasswordLen, maxPasswordLen, domain.ErrBadRequest)
	}
	return nil
}
