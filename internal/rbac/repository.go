package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for permission resolution.
type Repository interface {
	// APIKeyPermissions returns the owning actor and the deduplicated
	// permission names granted through the key's role bindings. found is
	// false for an unknown key.
	APIKeyPermissions(ctx context.Context, key string) (actorID int64, perms []string, found bool, err error)
	// UserPermissions returns the deduplicated permission names granted
	// through the user's roles.
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
	// VisibleResourceID returns the id of the resource row the store can
	// see for the given kind, or 0 when it does not exist.
	VisibleResourceID(ctx context.Context, resource string, resourceID int64) (int64, error)
}

// resourceTables is the closed set of entity kinds the access-control check
// may address.
var resourceTables = map[string]string{
	"user":        "users",
	"application": "applications",
	"device":      "devices",
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// APIKeyPermissions resolves the permission set bound to an API key.
func (r *PGRepository) APIKeyPermissions(ctx context.Context, key string) (int64, []string, bool, error) {
	var actorID int64
	err := r.pool.QueryRow(ctx, `SELECT actor_id FROM api_keys WHERE key = $1`, key).Scan(&actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("rbac: api key lookup: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT p.name
		 FROM api_keys k
		 JOIN api_key_roles kr ON kr.api_key_id = k.id
		 JOIN role_permissions rp ON rp.role_id = kr.role_id
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE k.key = $1
		 ORDER BY p.name`, key)
	if err != nil {
		return 0, nil, false, fmt.Errorf("rbac: api key permissions: %w", err)
	}
	defer rows.Close()

	perms, err := collectNames(rows)
	if err != nil {
		return 0, nil, false, err
	}
	return actorID, perms, true, nil
}

// UserPermissions resolves the effective permission set of a user.
func (r *PGRepository) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT p.name
		 FROM user_roles ur
		 JOIN role_permissions rp ON rp.role_id = ur.role_id
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE ur.user_id = $1
		 ORDER BY p.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: user permissions: %w", err)
	}
	defer rows.Close()
	return collectNames(rows)
}

// VisibleResourceID checks that the addressed resource row exists for the
// given kind and returns its id.
func (r *PGRepository) VisibleResourceID(ctx context.Context, resource string, resourceID int64) (int64, error) {
	table, ok := resourceTables[resource]
	if !ok {
		return 0, fmt.Errorf("rbac: unknown resource kind %q", resource)
	}
	var id int64
	query := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1`, table)
	if err := r.pool.QueryRow(ctx, query, resourceID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("rbac: resolve resource: %w", err)
	}
	return id, nil
}

func collectNames(rows pgx.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("rbac: scan permission: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: iterate permissions: %w", err)
	}
	return names, nil
}

var _ Repository = (*PGRepository)(nil)
