package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dumpster-directory/internal/domain/auth"
)

const userColumns = `u.id, u.email, u.name, u.password_hash, u.role, u.created_at`

const (
	createUserSQL = `INSERT INTO users (id, email, name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	userByEmailSQL   = `SELECT ` + userColumns + ` FROM users u WHERE u.email = $1`
	createSessionSQL = `INSERT INTO sessions (token, user_id, expires_at) VALUES ($1, $2, $3)`
	sessionUserSQL   = `SELECT ` + userColumns + ` FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token = $1 AND s.expires_at > $2`
	deleteSessionSQL = `DELETE FROM sessions WHERE token = $1`
	purgeSessionsSQL = `DELETE FROM sessions WHERE expires_at <= $1`
)

var _ auth.UserRepository = (*UserRepository)(nil)

// UserRepository implements auth.UserRepository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// CreateUser inserts an account. A taken email yields auth.ErrEmailTaken.
func (r *UserRepository) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := r.pool.Exec(ctx, createUserSQL, u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// UserByEmail returns the account with the given lower-cased email.
func (r *UserRepository) UserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.one(ctx, userByEmailSQL, email)
}

// CreateSession stores a session token.
func (r *UserRepository) CreateSession(ctx context.Context, s *auth.Session) error {
	if _, err := r.pool.Exec(ctx, createSessionSQL, s.Token, s.UserID, s.ExpiresAt); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// SessionUser returns the owner of an unexpired session.
func (r *UserRepository) SessionUser(ctx context.Context, token string, now time.Time) (*auth.User, error) {
	return r.one(ctx, sessionUserSQL, token, now)
}

// DeleteSession removes a session. Unknown tokens are ignored.
func (r *UserRepository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.pool.Exec(ctx, deleteSessionSQL, token); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// PurgeSessions deletes sessions expired at now.
func (r *UserRepository) PurgeSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, purgeSessionsSQL, now)
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *UserRepository) one(ctx context.Context, sql string, args ...any) (*auth.User, error) {
	var (
		u    auth.User
		role string
	)
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	u.Role = auth.Role(role)
	return &u, nil
}
