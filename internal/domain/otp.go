package domain

import "time"

// OTPType identifies what a one-time code proves possession of.
type OTPType string

const (
	OTPConfirmEmail  OTPType = "confirm_email"
	OTPResetPassword OTPType = "reset_password"
	OTPConfirmPhone  OTPType = "confirm_phone"
)

// OneTimeCode is a short-lived 6-digit code. Only the SHA-256 digest of the
// code is ever stored. A partial unique index on (user_id, code_type) over
// unused rows guarantees at most one live code per user and purpose; the
// database is the arbiter when two requests race to insert one.
type OneTimeCode struct {
	ID            string
	UserID        string
	Type          OTPType
	CodeHash      string
	TokenID       *string // jti of the token stage this code belongs to, if any
	Attempts      int
	LastAttemptAt *time.Time
	Used          bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// IsExpired reports whether the code is past its expiry at the given instant.
// Expiry is always computed from the stored timestamp, never from a flag.
func (c *OneTimeCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsActive reports whether the code can still be consumed.
func (c *OneTimeCode) IsActive(now time.Time) bool {
	return !c.Used && !c.IsExpired(now)
}
