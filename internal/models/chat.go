package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatType enumerates the kinds of fan chats.
type ChatType string

const (
	ChatGeneral      ChatType = "general"
	ChatPrivate      ChatType = "private"
	ChatThemed       ChatType = "themed"
	ChatAnnouncement ChatType = "announcement"
	ChatMixed        ChatType = "mixed"
)

// Valid reports whether t is a known chat type.
func (t ChatType) Valid() bool {
	switch t {
	case ChatGeneral, ChatPrivate, ChatThemed, ChatAnnouncement, ChatMixed:
		return true
	}
	return false
}

// IsPublic reports whether every member of the owning fan group may read the chat.
func (t ChatType) IsPublic() bool {
	return t == ChatGeneral || t == ChatThemed || t == ChatAnnouncement
}

type Chat struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	GroupID           uuid.UUID       `json:"group_id" db:"group_id"`
	Type              ChatType        `json:"type" db:"type"`
	Name              string          `json:"name" db:"name"`
	Participants      []uuid.UUID     `json:"participants" db:"participants"`
	ModeratorIDs      []uuid.UUID     `json:"moderator_ids" db:"moderator_ids"`
	IsReadOnlyForFans bool            `json:"is_read_only_for_fans" db:"is_read_only_for_fans"`
	CreatedBy         uuid.UUID       `json:"created_by" db:"created_by"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	LastMessage       *MessageSummary `json:"last_message,omitempty" db:"-"`
	IsDeleted         bool            `json:"is_deleted" db:"is_deleted"`
	PairKey           string          `json:"-" db:"pair_key"`
}

// MessageSummary is the denormalized last message shown in chat lists.
type MessageSummary struct {
	MessageID uuid.UUID   `json:"message_id"`
	SenderID  uuid.UUID   `json:"sender_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// IsParticipant reports whether userID is listed as a participant.
func (c *Chat) IsParticipant(userID uuid.UUID) bool {
	return containsID(c.Participants, userID)
}

// HasModerator reports whether userID holds the chat-level moderator role.
func (c *Chat) HasModerator(userID uuid.UUID) bool {
	return containsID(c.ModeratorIDs, userID)
}

// PrivatePairKey returns an order independent key for a pair of users.
func PrivatePairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type CreateChatRequest struct {
	Type         ChatType    `json:"type" binding:"required"`
	Name         string      `json:"name"`
	Participants []uuid.UUID `json:"participants"`
	TargetUserID *uuid.UUID  `json:"target_user_id,omitempty"`
	ReadOnly     bool        `json:"read_only"`
}

type ModeratorRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}
