package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/database"
	"github.com/fanclub/backend/internal/models"
)

// GroupRepository stores fan group roles and app admins
type GroupRepository struct {
	db *database.DB
}

func NewGroupRepository(db *database.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// GroupRole returns the user's role in a group, or RoleNone
func (r *GroupRepository) GroupRole(ctx context.Context, groupID, userID uuid.UUID) (models.GroupRole, error) {
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return models.RoleNone, nil
	}
	if err != nil {
		return models.RoleNone, fmt.Errorf("failed to get group role: %w", err)
	}
	return models.GroupRole(role), nil
}

// SetGroupRole upserts a membership; RoleNone removes it
func (r *GroupRepository) SetGroupRole(ctx context.Context, groupID, userID uuid.UUID, role models.GroupRole) error {
	if role == models.RoleNone {
		_, err := r.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove group member: %w", err)
		}
		return nil
	}
	query := `
		INSERT INTO group_members (group_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := r.db.ExecContext(ctx, query, groupID, userID, string(role)); err != nil {
		return fmt.Errorf("failed to set group role: %w", err)
	}
	return nil
}

func (r *GroupRepository) IsAppAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM app_admins WHERE user_id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check app admin: %w", err)
	}
	return exists, nil
}
