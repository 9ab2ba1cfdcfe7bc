package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
)

const pgUniqueViolation = "23505"

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository    = (*Repository)(nil)
	_ repository.FriendRepository  = (*Repository)(nil)
	_ repository.GroupRepository   = (*Repository)(nil)
	_ repository.InviteRepository  = (*Repository)(nil)
	_ repository.ExpenseRepository = (*Repository)(nil)
)

const userColumns = `id, email, password_hash, username, unique_id, avatar_url, created_at`

// CreateUser inserts a user and fills the generated id. A unique violation is
// reported as *repository.ConflictError naming the offending column.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (email, password_hash, username, unique_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, query, user.Email, user.PasswordHash, user.Username, user.UniqueID, user.CreatedAt).Scan(&user.ID)
	return mapConflict(err)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetUserByUniqueID retrieves a user by the public "#XXXXXXXX" handle.
func (r *Repository) GetUserByUniqueID(ctx context.Context, uniqueID string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE unique_id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, strings.ToUpper(strings.TrimSpace(uniqueID))))
}

// UpdateAvatarURL stores the public avatar location.
func (r *Repository) UpdateAvatarURL(ctx context.Context, userID int64, url string) error {
	const query = `UPDATE users SET avatar_url = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Username, &u.UniqueID, &u.AvatarURL, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &repository.ConflictError{Field: conflictField(pgErr.ConstraintName), Constraint: pgErr.ConstraintName}
	}
	return err
}

func conflictField(constraint string) string {
	switch constraint {
	case "users_email_key":
		return repository.FieldEmail
	case "users_unique_id_key":
		return repository.FieldUniqueID
	default:
		return ""
	}
}
