package models

import "github.com/google/uuid"

// GroupRole is a user's role inside a fan group.
type GroupRole string

const (
	RoleNone      GroupRole = ""
	RoleFan       GroupRole = "fan"
	RoleModerator GroupRole = "moderator"
	RoleAdmin     GroupRole = "admin"
)

// CanModerate reports whether the role may moderate group chats.
func (r GroupRole) CanModerate() bool {
	return r == RoleModerator || r == RoleAdmin
}

type GroupMember struct {
	GroupID uuid.UUID `json:"group_id" db:"group_id"`
	UserID  uuid.UUID `json:"user_id" db:"user_id"`
	Role    GroupRole `json:"role" db:"role"`
}
