package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for identity resolution.
type Repository interface {
	// FindUserByAPIKey resolves the user owning the given key, or nil when
	// the key does not belong to a user actor.
	FindUserByAPIKey(ctx context.Context, key string) (*User, error)
	// FindUserByID fetches a user by primary key, or nil when absent.
	FindUserByID(ctx context.Context, id int64) (*User, error)
	// APIKeyActorID returns the actor owning the given key.
	APIKeyActorID(ctx context.Context, key string) (int64, bool, error)
}

// userByAPIKeyQuery is built once on first use and reused for every request;
// it is read-only after initialisation.
var userByAPIKeyQuery = sync.OnceValue(func() string {
	cols := []string{"u.id", "u.actor_id", "u.username", "u.email",
		"COALESCE(u.password_hash, '')", "COALESCE(u.jwt_secret, '')", "u.created_at"}
	return fmt.Sprintf(
		`SELECT %s
		 FROM users u
		 JOIN actors a ON a.id = u.actor_id
		 JOIN api_keys k ON k.actor_id = a.id
		 WHERE k.key = $1
		 LIMIT 1`, strings.Join(cols, ", "))
})

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindUserByAPIKey runs the single-row user -> actor -> api_key join.
func (r *PGRepository) FindUserByAPIKey(ctx context.Context, key string) (*User, error) {
	row := r.pool.QueryRow(ctx, userByAPIKeyQuery(), key)
	return scanUser(row)
}

// FindUserByID fetches a user by primary key.
func (r *PGRepository) FindUserByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT u.id, u.actor_id, u.username, u.email,
		        COALESCE(u.password_hash, ''), COALESCE(u.jwt_secret, ''), u.created_at
		 FROM users u
		 WHERE u.id = $1`, id)
	return scanUser(row)
}

// APIKeyActorID returns the owning actor for key, with found=false on miss.
func (r *PGRepository) APIKeyActorID(ctx context.Context, key string) (int64, bool, error) {
	var actorID int64
	err := r.pool.QueryRow(ctx, `SELECT actor_id FROM api_keys WHERE key = $1`, key).Scan(&actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("auth: api key actor: %w", err)
	}
	return actorID, true, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ActorID, &u.Username, &u.Email, &u.PasswordHash, &u.JWTSecret, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: scan user: %w", err)
	}
	return &u, nil
}

var _ Repository = (*PGRepository)(nil)
