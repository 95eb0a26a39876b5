package apikeys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/shared"
)

// AccessControl answers whether the caller may perform an action on a
// resource, returning the id of the resource the check actually matched.
type AccessControl interface {
	CanAccess(ctx context.Context, creds *auth.Credentials, resource string, resourceID int64, action string) (int64, error)
}

// Issuer creates API keys bound to exactly one role.
type Issuer struct {
	repo   Repository
	ac     AccessControl
	logger *slog.Logger
}

// NewIssuer constructs an Issuer.
func NewIssuer(repo Repository, ac AccessControl, logger *slog.Logger) *Issuer {
	return &Issuer{repo: repo, ac: ac, logger: logger}
}

// Create issues an API key for the entity identified by actor type and id,
// bound to the named role, and returns the opaque key string. The key row and
// its role binding are written in one transaction: a key without a role is
// never observable. With opts.Tx set the caller's transaction is reused and
// rollback on failure is the caller's duty.
func (s *Issuer) Create(ctx context.Context, creds *auth.Credentials, at ActorType, roleName string, entityID int64, opts CreateOptions) (string, error) {
	if _, err := at.binding(); err != nil {
		return "", err
	}
	if roleName == "" {
		return "", fmt.Errorf("%w: role name required", shared.ErrInvalidInput)
	}

	key := opts.Key
	if key == "" {
		generated, err := generateKey()
		if err != nil {
			return "", err
		}
		key = generated
	}

	run := func(ctx context.Context, tx Repository) error {
		actorID, err := tx.ActorIDFor(ctx, at, entityID)
		if err != nil {
			return err
		}

		// The access check must return exactly the requested entity id;
		// a check that silently matched an unrelated resource grants
		// nothing here.
		action := "create-" + roleName
		granted, err := s.ac.CanAccess(ctx, creds, string(at), entityID, action)
		if err != nil {
			return err
		}
		if granted != entityID {
			return fmt.Errorf("%w: not allowed to issue %s key for %s %d", shared.ErrForbidden, roleName, at, entityID)
		}

		keyID, err := tx.InsertKey(ctx, actorID, key, opts.Name, opts.Description)
		if err != nil {
			return err
		}
		roleID, err := tx.RoleIDByName(ctx, roleName)
		if err != nil {
			return err
		}
		return tx.BindRole(ctx, keyID, roleID)
	}

	var err error
	if opts.Tx != nil {
		err = run(ctx, opts.Tx)
	} else {
		err = s.repo.WithTx(ctx, run)
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

// generateKey produces a 32-character opaque key from the system CSPRNG.
func generateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("apikeys: generate key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
