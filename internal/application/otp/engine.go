package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/fleetrent/authcore/internal/config"
	"github.com/fleetrent/authcore/internal/domain"
	"github.com/fleetrent/authcore/internal/pkg/id"
	pkgtoken "github.com/fleetrent/authcore/internal/pkg/token"
)

// Repo is the persistence surface the engine needs. The postgres OTPRepo
// implements it; tests substitute mocks.
type Repo interface {
	Insert(ctx context.Context, c *domain.OneTimeCode) error
	LatestActive(ctx context.Context, userID string, t domain.OTPType) (*domain.OneTimeCode, error)
	Latest(ctx context.Context, userID string, t domain.OTPType) (*domain.OneTimeCode, error)
	ExpireActive(ctx context.Context, userID string, t domain.OTPType) error
	MarkAsUsed(ctx context.Context, codeID string) error
	ForceExpire(ctx context.Context, codeID string) error
	IncrementAttempts(ctx context.Context, codeID string) (int, error)
	LockOut(ctx context.Context, codeID string) error
}

// Outcome is the result of a validation attempt. Attempt exhaustion is a
// business outcome, not an error, so callers branch without unwrapping.
type Outcome struct {
	Valid            bool
	Code             *domain.OneTimeCode
	ExceededAttempts bool
}

// Engine generates and validates 6-digit one-time codes. It stores only
// SHA-256 digests and leans on the database's partial unique index to keep
// at most one live code per (user, type).
type Engine struct {
	repo Repo
	cfg  config.OTPConfig
	now  func() time.Time
}

func NewEngine(repo Repo, cfg config.OTPConfig) *Engine {
	return &Engine{repo: repo, cfg: cfg, now: time.Now}
}

// Generate mints a fresh code valid for the given duration. The insert fails
// with a conflict when an active code already exists and the caller did not
// expire it first; the orchestrator translates that into a retryable
// "invalid or expired code" answer.
// tokenID links the code to the jti of the token stage it belongs to; pass
// nil for codes that stand alone.
func (e *Engine) Generate(ctx context.Context, userID string, t domain.OTPType, validity time.Duration, tokenID *string) (string, *domain.OneTimeCode, error) {
	if validity <= 0 {
		return "", nil, fmt.Errorf("code validity must be positive: %w", domain.ErrBadRequest)
	}
	plain, err := newCode()
	if err != nil {
		return "", nil, err
	}
	now := e.now().UTC()
	code := &domain.OneTimeCode{
		ID:        id.New(),
		UserID:    userID,
		Type:      t,
		CodeHash:  pkgtoken.Hash(plain),
		TokenID:   tokenID,
		CreatedAt: now,
		ExpiresAt: now.Add(validity),
	}
	if err := e.repo.Insert(ctx, code); err != nil {
		return "", nil, err
	}
	return plain, code, nil
}

// Regenerate retires any active code for (user, type) and mints a new one.
// The expire is a separate statement flushed before the insert; skipping it
// would trip the unique index.
func (e *Engine) Regenerate(ctx context.Context, userID string, t domain.OTPType, validity time.Duration, tokenID *string) (string, *domain.OneTimeCode, error) {
	if err := e.repo.ExpireActive(ctx, userID, t); err != nil {
		return "", nil, err
	}
	return e.Generate(ctx, userID, t, validity, tokenID)
}

// Validate checks a submitted code against the latest active one. A mismatch
// increments the attempt counter; hitting the attempt ceiling locks the code
// out permanently, even for a later correct guess. On success the caller is
// responsible for MarkAsUsed.
func (e *Engine) Validate(ctx context.Context, userID, plain string, t domain.OTPType) (Outcome, error) {
	code, err := e.repo.LatestActive(ctx, userID, t)
	if err != nil {
		if isNotFound(err) {
			return Outcome{}, nil
		}
		return Outcome{}, err
	}
	if code.Attempts >= e.cfg.MaxAttempts {
		return Outcome{ExceededAttempts: true}, nil
	}
	if !pkgtoken.Matches(code.CodeHash, plain) {
		attempts, err := e.repo.IncrementAttempts(ctx, code.ID)
		if err != nil {
			return Outcome{}, err
		}
		if attempts >= e.cfg.MaxAttempts {
			if err := e.repo.LockOut(ctx, code.ID); err != nil {
				return Outcome{}, err
			}
			return Outcome{ExceededAttempts: true}, nil
		}
		return Outcome{}, nil
	}
	return Outcome{Valid: true, Code: code}, nil
}

// MarkAsUsed consumes a validated code; idempotence against replay is
// enforced in storage.
func (e *Engine) MarkAsUsed(ctx context.Context, codeID string) error {
	return e.repo.MarkAsUsed(ctx, codeID)
}

// ForceExpire moves a code's expiry to now.
func (e *Engine) ForceExpire(ctx context.Context, codeID string) error {
	return e.repo.ForceExpire(ctx, codeID)
}

// CanResend reports whether the per-type cooldown since the latest code's
// creation has elapsed, and the remaining wait when it has not.
func (e *Engine) CanResend(ctx context.Context, userID string, t domain.OTPType) (bool, time.Duration, error) {
	latest, err := e.repo.Latest(ctx, userID, t)
	if err != nil {
		if isNotFound(err) {
			return true, 0, nil
		}
		return false, 0, err
	}
	cooldown := e.cfg.Cooldown(t)
	elapsed := e.now().UTC().Sub(latest.CreatedAt)
	if elapsed < cooldown {
		return false, cooldown - elapsed, nil
	}
	return true, 0, nil
}

// newCode draws a uniform 6-digit code from [100000, 999999].
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
