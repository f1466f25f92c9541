package domain

import "time"

// TokenType identifies the kind of signed token a record backs.
type TokenType string

const (
	TokenAuth          TokenType = "auth"
	TokenVerification  TokenType = "verification"
	TokenResetPassword TokenType = "reset_password"
)

// ResetStage is the password-reset step a reset token authorizes. A token
// minted for one stage is revoked before the next stage's token is issued,
// so a stage can never be skipped by replaying an earlier token.
type ResetStage string

const (
	StageAwaitingVerification ResetStage = "awaiting_verification"
	StageVerified             ResetStage = "verified"
	StageCompleted            ResetStage = "completed"
)

// UserToken mirrors a signed JWT in storage so an otherwise-valid signature
// can be revoked server-side. The jti claim is the correlation key.
type UserToken struct {
	ID          string
	Type        TokenType
	UserID      *string // nil for fully anonymous flows
	RefreshHash *string // sha256 of the refresh secret; nil for verification/reset tokens
	JTI         string
	Used        bool
	Revoked     bool
	RevokedAt   *time.Time
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired reports whether the token is revoked or past expiry.
func (t *UserToken) IsExpired(now time.Time) bool {
	return t.Revoked || !now.Before(t.ExpiresAt)
}

// IsValid reports whether the token may still authenticate a request.
func (t *UserToken) IsValid(now time.Time) bool {
	return !t.IsExpired(now) && !t.Used
}
