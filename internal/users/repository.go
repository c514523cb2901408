package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reqtrack/reqtrack/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, full_name, department, position, role, active, created_at, updated_at`

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser fetches one user.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, mapError(err)
	}
	return user, nil
}

// CreateUser inserts a user with an already hashed password.
func (r *Repository) CreateUser(ctx context.Context, in CreateInput, passwordHash string) (User, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO users (email, password_hash, full_name, department, position, role)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+userColumns,
		strings.ToLower(strings.TrimSpace(in.Email)), passwordHash, in.FullName, in.Department, in.Position, DefaultLegacyRole)
	user, err := scanUser(row)
	if err != nil {
		return User{}, mapError(err)
	}
	return user, nil
}

// UpdateUser applies the non-nil fields of in.
func (r *Repository) UpdateUser(ctx context.Context, id int64, in UpdateInput) (User, error) {
	row := r.pool.QueryRow(ctx, `UPDATE users SET
	full_name = COALESCE($2, full_name),
	department = COALESCE($3, department),
	position = COALESCE($4, position),
	active = COALESCE($5, active),
	updated_at = NOW()
WHERE id = $1
RETURNING `+userColumns, id, in.FullName, in.Department, in.Position, in.IsActive)
	user, err := scanUser(row)
	if err != nil {
		return User{}, mapError(err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Department, &u.Position, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return httpx.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: email already registered", httpx.ErrDuplicate)
	}
	return err
}

var _ RepositoryPort = (*Repository)(nil)
