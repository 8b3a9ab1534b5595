package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/eventhub-auth/internal/models"
)

const userColumns = `id, email, password_hash, display_name, roles, active, last_logout_at, created_at, updated_at`

// UserRepository reads the users table owned by the Users collaborator.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

type userRow struct {
	models.User
	Roles pq.StringArray `db:"roles"`
}

func (r userRow) toModel() *models.User {
	user := r.User
	user.Roles = []string(r.Roles)
	return &user
}

// FindByEmail returns a user by email address. sql.ErrNoRows is returned unwrapped.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return row.toModel(), nil
}

// FindByID returns a user by identifier. sql.ErrNoRows is returned unwrapped.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return row.toModel(), nil
}

// UpdateLastLogoutAt stamps last_logout_at. The stored value only moves forward.
func (r *UserRepository) UpdateLastLogoutAt(ctx context.Context, id int64, ts time.Time) error {
	const query = `UPDATE users SET last_logout_at = GREATEST(COALESCE(last_logout_at, $2), $2), updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, time.Now().UTC()); err != nil {
		return fmt.Errorf("update last logout: %w", err)
	}
	return nil
}
