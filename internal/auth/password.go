package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/armada-fleet/armada/internal/shared"
)

// decoyHash is a valid bcrypt hash of a throwaway value. Comparing against it
// keeps the cost of a login attempt identical whether or not the account has
// a stored hash, so response timing cannot reveal account state.
const decoyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// MinPasswordLength is the shortest password accepted at registration or
// password change.
const MinPasswordLength = 8

// ComparePassword reports whether password matches the stored bcrypt hash.
// An empty hash runs the same bcrypt comparison against a decoy hash and
// returns false, preserving the timing profile of a real mismatch.
func ComparePassword(password, hash string) (bool, error) {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(decoyHash), []byte(password))
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		return false, fmt.Errorf("auth: compare password: %w", err)
	}
	return true, nil
}

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hashed), nil
}

// ValidatePassword checks password strength rules. Pure validation, no I/O.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password required", shared.ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", shared.ErrInvalidInput, MinPasswordLength)
	}
	return nil
}
