package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/armada-fleet/armada/internal/shared"
)

// Directory looks a user up by username or email. Implemented by the user
// directory service.
type Directory interface {
	FindUser(ctx context.Context, login string) (*User, error)
}

// Service wraps authentication business rules.
type Service struct {
	dir      Directory
	throttle *LoginThrottle
	issuer   string
	tokenTTL time.Duration
}

// NewService constructs a new Service.
func NewService(dir Directory, throttle *LoginThrottle, issuer string, tokenTTL time.Duration) *Service {
	return &Service{dir: dir, throttle: throttle, issuer: issuer, tokenTTL: tokenTTL}
}

// Login validates credentials and issues a session token signed with the
// user's personal secret. An unknown user and a wrong password are
// indistinguishable in both response content and timing: the password
// comparison runs either way.
func (s *Service) Login(ctx context.Context, login, password, clientIP string) (string, *User, error) {
	if login == "" || password == "" {
		return "", nil, fmt.Errorf("%w: credentials required", shared.ErrInvalidInput)
	}

	throttleKey := clientIP + ":" + login
	ok, err := s.throttle.Allow(ctx, throttleKey)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, ErrThrottled
	}

	user, err := s.dir.FindUser(ctx, login)
	if err != nil {
		return "", nil, err
	}
	var hash string
	if user != nil {
		hash = user.PasswordHash
	}
	match, err := ComparePassword(password, hash)
	if err != nil {
		return "", nil, err
	}
	if user == nil || !match {
		return "", nil, fmt.Errorf("%w: invalid credentials", shared.ErrInvalidInput)
	}

	token, err := IssueToken(user, s.issuer, s.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	_ = s.throttle.Reset(ctx, throttleKey)
	return token, user, nil
}
