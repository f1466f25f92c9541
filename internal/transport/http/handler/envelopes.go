package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetrent/authcore/internal/domain"
	"github.com/fleetrent/authcore/internal/observability"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AuthEnvelope wraps sign-in and refresh responses.
type AuthEnvelope struct {
	Bearer       string    `json:"Bearer,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	User         *SafeUser `json:"user,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// TokenEnvelope wraps responses whose payload is a single flow token.
type TokenEnvelope struct {
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SafeUser is the client-facing projection of a user. The password hash and
// security stamp never leave the server.
type SafeUser struct {
	UserID         string  `json:"user_id"`
	Email          string  `json:"email"`
	Phone          *string `json:"phone,omitempty"`
	Role           string  `json:"role"`
	EmailConfirmed bool    `json:"email_confirmed"`
	PhoneConfirmed bool    `json:"phone_confirmed"`
}

func toSafeUser(u *domain.User) *SafeUser {
	if u == nil {
		return nil
	}
	return &SafeUser{
		UserID:         u.UserID,
		Email:          u.Email,
		Phone:          u.Phone,
		Role:           u.Role,
		EmailConfirmed: u.EmailConfirmed,
		PhoneConfirmed: u.PhoneConfirmed,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpError maps domain sentinel errors to HTTP statuses. Anything
// unclassified is a 500 whose detail stays server-side.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		observability.CaptureErr(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
