package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/armada-fleet/armada/internal/shared"
)

// tokenParser is reused across requests; it carries no per-call state.
var tokenParser = jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

// IsJWT reports whether token is structurally a JWT. No verification is
// performed; a bearer token failing this check is treated as an API key.
func IsJWT(token string) bool {
	if token == "" {
		return false
	}
	_, _, err := tokenParser.ParseUnverified(token, jwt.MapClaims{})
	return err == nil
}

// IssueToken signs an HS256 session token with the user's personal secret.
// Rotating the secret invalidates every token issued before the rotation.
func IssueToken(user *User, issuer string, ttl time.Duration) (string, error) {
	if user == nil || user.JWTSecret == "" {
		return "", fmt.Errorf("auth: issue token: user has no signing secret")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(user.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// TokenSubject decodes the subject claim without verifying the signature.
// The caller must verify the token against the subject's secret afterwards.
func TokenSubject(token string) (int64, error) {
	claims := jwt.MapClaims{}
	if _, _, err := tokenParser.ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("%w: malformed token", shared.ErrUnauthorized)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return 0, fmt.Errorf("%w: token missing subject", shared.ErrUnauthorized)
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid token subject", shared.ErrUnauthorized)
	}
	return id, nil
}

// VerifyToken validates token signature and expiry against the user's secret.
func VerifyToken(token string, user *User) error {
	if user == nil || user.JWTSecret == "" {
		return fmt.Errorf("%w: no signing secret", shared.ErrUnauthorized)
	}
	parsed, err := tokenParser.Parse(token, func(*jwt.Token) (any, error) {
		return []byte(user.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: invalid token", shared.ErrUnauthorized)
	}
	return nil
}
