package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

// Permissions answers role questions from the group store. Answers are never
// cached: a role revoked mid-session takes effect on the next call.
type Permissions struct {
	groups storage.GroupStore
}

func NewPermissions(groups storage.GroupStore) *Permissions {
	return &Permissions{groups: groups}
}

// IsMainAppAdmin reports whether userID administers the whole app.
func (p *Permissions) IsMainAppAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := p.groups.IsAppAdmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check app admin: %w", err)
	}
	return ok, nil
}

func (p *Permissions) groupRole(ctx context.Context, userID, groupID uuid.UUID) (models.GroupRole, error) {
	role, err := p.groups.GroupRole(ctx, groupID, userID)
	if err != nil {
		return models.RoleNone, fmt.Errorf("failed to get group role: %w", err)
	}
	return role, nil
}

// IsGroupMember reports whether userID belongs to the fan group.
func (p *Permissions) IsGroupMember(ctx context.Context, userID, groupID uuid.UUID) (bool, error) {
	role, err := p.groupRole(ctx, userID, groupID)
	if err != nil {
		return false, err
	}
	if role != models.RoleNone {
		return true, nil
	}
	return p.IsMainAppAdmin(ctx, userID)
}

// IsGroupModerator reports whether userID moderates every public chat of the group.
func (p *Permissions) IsGroupModerator(ctx context.Context, userID, groupID uuid.UUID) (bool, error) {
	role, err := p.groupRole(ctx, userID, groupID)
	if err != nil {
		return false, err
	}
	if role.CanModerate() {
		return true, nil
	}
	return p.IsMainAppAdmin(ctx, userID)
}

// CanCreateThemedChats reports whether userID may open themed chats in the group.
func (p *Permissions) CanCreateThemedChats(ctx context.Context, userID, groupID uuid.UUID) (bool, error) {
	return p.IsGroupModerator(ctx, userID, groupID)
}

// IsModerator reports whether userID may moderate chat. Group moderators do
// not moderate private chats; only the chat's own moderators and app admins do.
func (p *Permissions) IsModerator(ctx context.Context, userID uuid.UUID, chat *models.Chat) (bool, error) {
	if chat.HasModerator(userID) {
		return true, nil
	}
	if chat.Type == models.ChatPrivate {
		return p.IsMainAppAdmin(ctx, userID)
	}
	return p.IsGroupModerator(ctx, userID, chat.GroupID)
}
