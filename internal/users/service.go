package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"

	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/shared"
)

// Directory implements user lookup and lifecycle on top of the repository.
type Directory struct {
	repo   Repository
	logger *slog.Logger
}

// NewDirectory constructs a Directory.
func NewDirectory(repo Repository, logger *slog.Logger) *Directory {
	return &Directory{repo: repo, logger: logger}
}

// foldLogin normalises a username or email for case-insensitive matching.
func foldLogin(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// FindUser looks a user up by username or email, case-insensitively. A login
// containing '@' is treated as an email. Absence is not an error: the result
// is nil.
func (d *Directory) FindUser(ctx context.Context, login string) (*auth.User, error) {
	folded := foldLogin(login)
	if folded == "" {
		return nil, fmt.Errorf("%w: login required", shared.ErrInvalidInput)
	}
	if strings.Contains(folded, "@") {
		return d.repo.FindByEmail(ctx, folded)
	}
	return d.repo.FindByUsername(ctx, folded)
}

// Register creates a user inside a fresh transaction. See RegisterTx.
func (d *Directory) Register(ctx context.Context, nu NewUser, clientIP string) (*auth.User, error) {
	var created *auth.User
	err := d.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		user, err := d.RegisterTx(ctx, tx, nu, clientIP)
		if err != nil {
			return err
		}
		created = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RegisterTx creates a user within the caller's transaction. The reserved-name
// check runs before any uniqueness query; the uniqueness checks are sequential,
// so the surrounding transaction is what defends against concurrent
// registrations of the same identity.
func (d *Directory) RegisterTx(ctx context.Context, tx Repository, nu NewUser, clientIP string) (*auth.User, error) {
	username := foldLogin(nu.Username)
	email := foldLogin(nu.Email)
	if username == "" || email == "" {
		return nil, fmt.Errorf("%w: username and email required", shared.ErrInvalidInput)
	}
	if _, reserved := reservedUsernames[username]; reserved {
		return nil, fmt.Errorf("%w: this username is reserved", shared.ErrConflict)
	}

	if existing, err := tx.FindByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: this email is already taken", shared.ErrConflict)
	}
	if existing, err := tx.FindByUsername(ctx, username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: this username is already taken", shared.ErrConflict)
	}

	var passwordHash string
	if nu.Password != "" {
		if err := auth.ValidatePassword(nu.Password); err != nil {
			return nil, err
		}
		hash, err := auth.HashPassword(nu.Password)
		if err != nil {
			return nil, err
		}
		passwordHash = hash
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	id, err := tx.Insert(ctx, NewUser{Username: nu.Username, Email: nu.Email}, passwordHash, secret, clientIP)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, fmt.Errorf("users: store returned no identifier for %q", nu.Username)
	}

	user, err := tx.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("users: created user %d not readable", id)
	}
	return user, nil
}

// CheckUserPassword verifies the current password for a user id. Both an
// unknown user and a mismatch surface as invalid input so callers cannot
// probe account existence.
func (d *Directory) CheckUserPassword(ctx context.Context, password string, userID int64) error {
	user, err := d.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	var hash string
	if user != nil {
		hash = user.PasswordHash
	}
	match, err := auth.ComparePassword(password, hash)
	if err != nil {
		return err
	}
	if user == nil || !match {
		return fmt.Errorf("%w: current password incorrect", shared.ErrInvalidInput)
	}
	return nil
}

// SetPassword unconditionally overwrites the stored password and rotates the
// user's JWT secret: every session token issued before this call becomes
// invalid.
func (d *Directory) SetPassword(ctx context.Context, tx Repository, user *auth.User, newPassword string) error {
	if user == nil {
		return fmt.Errorf("%w: user required", shared.ErrInvalidInput)
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	secret, err := generateSecret()
	if err != nil {
		return err
	}
	if tx == nil {
		tx = d.repo
	}
	return tx.UpdatePassword(ctx, user.ID, hash, secret)
}

// UpdatePasswordIfNeeded sets a new password when it differs from the current
// one. Returns false for a no-op or a failed write: the write failure is
// logged and swallowed, so callers must not treat false as an error signal.
// Absent users are reported as NotFound.
func (d *Directory) UpdatePasswordIfNeeded(ctx context.Context, login, newPassword string) (bool, error) {
	user, err := d.FindUser(ctx, login)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, fmt.Errorf("%w: user %q", shared.ErrNotFound, login)
	}
	same, err := auth.ComparePassword(newPassword, user.PasswordHash)
	if err != nil {
		return false, err
	}
	if same {
		return false, nil
	}
	if err := d.SetPassword(ctx, nil, user, newPassword); err != nil {
		if d.logger != nil {
			d.logger.Warn("password update failed", slog.Int64("user_id", user.ID), slog.Any("error", err))
		}
		return false, nil
	}
	return true, nil
}

var _ auth.Directory = (*Directory)(nil)

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("users: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
