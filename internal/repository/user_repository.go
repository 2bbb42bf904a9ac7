package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/database"
	"github.com/fanclub/backend/internal/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, nickname, avatar_url, level, password_hash, join_date, updated_at`

func scanUser(row scanner) (*models.FanProfile, error) {
	user := &models.FanProfile{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Nickname,
		&user.AvatarURL,
		&user.Level,
		&user.PasswordHash,
		&user.JoinDate,
		&user.UpdatedAt,
	)
	return user, err
}

// CreateUser creates a new fan profile
func (r *UserRepository) CreateUser(ctx context.Context, user *models.FanProfile) error {
	query := `
		INSERT INTO users (id, email, nickname, avatar_url, level, password_hash, join_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING join_date, updated_at
	`

	err := r.db.QueryRowContext(ctx,
		query,
		user.ID,
		user.Email,
		user.Nickname,
		user.AvatarURL,
		user.Level,
		user.PasswordHash,
		user.JoinDate,
		user.UpdatedAt,
	).Scan(&user.JoinDate, &user.UpdatedAt)

	if isUniqueViolation(err) {
		return apperr.Conflict("repository.CreateUser", "email already registered")
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.FanProfile, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("repository.GetUser", "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.FanProfile, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("repository.GetUserByEmail", "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
