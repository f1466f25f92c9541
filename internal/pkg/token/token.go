package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// NewRefreshToken generates a cryptographically random 64-character hex token.
func NewRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash returns the hex-encoded SHA-256 digest of a secret. Only digests are
// ever stored.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Matches compares a presented secret against a stored digest in constant
// time.
func Matches(storedHash, presented string) bool {
	presentedSum := sha256.Sum256([]byte(presented))
	presentedHash := hex.EncodeToString(presentedSum[:])
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(presentedHash)) == 1
}
