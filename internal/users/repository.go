package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/platform/db"
	"github.com/armada-fleet/armada/internal/shared"
)

// Repository defines persistence operations for the user directory.
// Lookups take pre-folded values; matching against the stored column is
// case-insensitive on both sides.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
	FindByUsername(ctx context.Context, username string) (*auth.User, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	FindByID(ctx context.Context, id int64) (*auth.User, error)
	Insert(ctx context.Context, nu NewUser, passwordHash, jwtSecret, clientIP string) (int64, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash, jwtSecret string) error
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

// WithTx runs fn against a transaction-scoped repository. All writes inside
// fn commit or roll back atomically.
func (r *PGRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.pool == nil {
		// Already transaction-scoped: reuse the caller's transaction.
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{q: tx})
	})
}

const userColumns = `u.id, u.actor_id, u.username, u.email,
	COALESCE(u.password_hash, ''), COALESCE(u.jwt_secret, ''), u.created_at`

// FindByUsername fetches at most one user by case-insensitive username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE lower(u.username) = $1 LIMIT 1`, username)
	return scanUser(row)
}

// FindByEmail fetches at most one user by case-insensitive email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE lower(u.email) = $1 LIMIT 1`, email)
	return scanUser(row)
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	row := r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id)
	return scanUser(row)
}

// Insert creates the actor record and the user row referencing it. Every
// user has exactly one actor.
func (r *PGRepository) Insert(ctx context.Context, nu NewUser, passwordHash, jwtSecret, clientIP string) (int64, error) {
	var actorID int64
	if err := r.q.QueryRow(ctx,
		`INSERT INTO actors (created_at) VALUES (NOW()) RETURNING id`).Scan(&actorID); err != nil {
		return 0, fmt.Errorf("users: insert actor: %w", err)
	}

	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO users (actor_id, username, email, password_hash, jwt_secret, registered_ip, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NOW())
		 RETURNING id`,
		actorID, nu.Username, nu.Email, passwordHash, jwtSecret, clientIP).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: user already exists", shared.ErrConflict)
		}
		return 0, fmt.Errorf("users: insert user: %w", err)
	}
	return id, nil
}

// UpdatePassword overwrites the stored hash and rotates the user's JWT
// secret in the same statement, invalidating every outstanding token.
func (r *PGRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash, jwtSecret string) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE users SET password_hash = $2, jwt_secret = $3 WHERE id = $1`,
		userID, passwordHash, jwtSecret)
	if err != nil {
		return fmt.Errorf("users: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.ActorID, &u.Username, &u.Email, &u.PasswordHash, &u.JWTSecret, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("users: scan user: %w", err)
	}
	return &u, nil
}

var _ Repository = (*PGRepository)(nil)
