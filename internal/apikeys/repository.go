package apikeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/armada-fleet/armada/internal/platform/db"
	"github.com/armada-fleet/armada/internal/shared"
)

// Repository defines persistence operations for key issuance.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
	// ActorIDFor resolves the actor record of the entity identified by
	// actor type and id.
	ActorIDFor(ctx context.Context, at ActorType, entityID int64) (int64, error)
	// InsertKey creates the api_keys row and returns its identifier.
	InsertKey(ctx context.Context, actorID int64, key, name, description string) (int64, error)
	// RoleIDByName resolves a pre-seeded role.
	RoleIDByName(ctx context.Context, name string) (int64, error)
	// BindRole joins an api key to a role.
	BindRole(ctx context.Context, keyID, roleID int64) error
	// TouchUsage records when a key was last seen.
	TouchUsage(ctx context.Context, key string, at time.Time) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	q    querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, q: pool}
}

// WithTx runs fn against a transaction-scoped repository.
func (r *PGRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{q: tx})
	})
}

// ActorIDFor loads the actor id of the target entity. The entity tables are a
// closed set resolved through the actor-type registry.
func (r *PGRepository) ActorIDFor(ctx context.Context, at ActorType, entityID int64) (int64, error) {
	b, err := at.binding()
	if err != nil {
		return 0, err
	}
	var actorID int64
	query := fmt.Sprintf(`SELECT actor_id FROM %s WHERE id = $1`, b.table)
	if err := r.q.QueryRow(ctx, query, entityID).Scan(&actorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("apikeys: no actor found for %s %d", at, entityID)
		}
		return 0, fmt.Errorf("apikeys: resolve actor: %w", err)
	}
	return actorID, nil
}

// InsertKey creates the api_keys row.
func (r *PGRepository) InsertKey(ctx context.Context, actorID int64, key, name, description string) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO api_keys (actor_id, key, name, description, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NOW())
		 RETURNING id`,
		actorID, key, name, description).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: key already exists", shared.ErrConflict)
		}
		return 0, fmt.Errorf("apikeys: insert key: %w", err)
	}
	return id, nil
}

// RoleIDByName resolves a role by name. Roles are pre-seeded; a miss is a
// caller error, not a provisioning step.
func (r *PGRepository) RoleIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := r.q.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: role %q", shared.ErrNotFound, name)
		}
		return 0, fmt.Errorf("apikeys: resolve role: %w", err)
	}
	return id, nil
}

// BindRole joins the key to its role.
func (r *PGRepository) BindRole(ctx context.Context, keyID, roleID int64) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO api_key_roles (api_key_id, role_id) VALUES ($1, $2)`, keyID, roleID)
	if err != nil {
		return fmt.Errorf("apikeys: bind role: %w", err)
	}
	return nil
}

// TouchUsage updates last_used_at; invoked from the background worker so the
// hot auth path never blocks on bookkeeping.
func (r *PGRepository) TouchUsage(ctx context.Context, key string, at time.Time) error {
	_, err := r.q.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE key = $1`, key, at)
	if err != nil {
		return fmt.Errorf("apikeys: touch usage: %w", err)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
