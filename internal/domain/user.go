package domain

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is owned by the identity subsystem; the auth core only reads it and
// flips the confirmation flags through the identity service.
type User struct {
	UserID           string     `json:"id"`
	Email            string     `json:"email"`
	Phone            *string    `json:"phone,omitempty"`
	PasswordHash     string     `json:"-"`
	Role             string     `json:"role"`
	EmailConfirmed   bool       `json:"email_confirmed"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	PhoneConfirmed   bool       `json:"phone_confirmed"`
	SecurityStamp    string     `json:"-"`
	CreatedAt        time.Time  `json:"created"`
	UpdatedAt        time.Time  `json:"updated"`
}
