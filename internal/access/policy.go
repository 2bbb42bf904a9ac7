// Package access decides who may read and write a fan chat.
//
// The decision itself is a pure function of a Subject (facts about one user
// in one chat) and the chat; Policy only gathers those facts.
package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/models"
)

// Subject holds everything the read/write decision depends on.
type Subject struct {
	UserID        uuid.UUID
	IsParticipant bool
	IsModerator   bool
	IsAdmin       bool
	IsGroupMember bool
	Restriction   models.Restriction
	Now           time.Time
}

// Privileged reports whether the subject moderates the chat.
func (s Subject) Privileged() bool {
	return s.IsModerator || s.IsAdmin
}

// CanRead reports whether the subject may read chat.
func CanRead(s Subject, chat *models.Chat) bool {
	return ReadDenial(s, chat) == ""
}

// ReadDenial returns why reading is refused, or "" when it is allowed.
func ReadDenial(s Subject, chat *models.Chat) string {
	if chat.IsDeleted {
		return "chat deleted"
	}
	if s.Restriction.PermanentlyBanned() {
		return "banned"
	}
	if s.IsParticipant || s.Privileged() {
		return ""
	}
	if chat.Type.IsPublic() && s.IsGroupMember {
		return ""
	}
	return "not a member of this chat"
}

// CanWrite reports whether the subject may post into chat.
func CanWrite(s Subject, chat *models.Chat) bool {
	return WriteDenial(s, chat) == ""
}

// WriteDenial returns why posting is refused, or "" when it is allowed.
func WriteDenial(s Subject, chat *models.Chat) string {
	if reason := ReadDenial(s, chat); reason != "" {
		return reason
	}
	if (chat.Type == models.ChatAnnouncement || chat.IsReadOnlyForFans) && !s.Privileged() {
		return "chat is read-only"
	}
	if chat.Type == models.ChatPrivate && !s.IsParticipant {
		return "not a participant of this private chat"
	}
	if s.Restriction.BannedAt(s.Now) {
		return "banned"
	}
	if s.Restriction.MutedAt(s.Now) {
		return "muted"
	}
	return ""
}

// RestrictionReader yields a user's current restriction in a chat.
type RestrictionReader interface {
	Effective(ctx context.Context, chatID, userID uuid.UUID) (models.Restriction, error)
}

// Policy resolves Subjects against live role and restriction state.
type Policy struct {
	perms        *Permissions
	restrictions RestrictionReader
	now          func() time.Time
}

func NewPolicy(perms *Permissions, restrictions RestrictionReader, now func() time.Time) *Policy {
	if now == nil {
		now = time.Now
	}
	return &Policy{perms: perms, restrictions: restrictions, now: now}
}

// Subject gathers the facts for userID in chat.
func (p *Policy) Subject(ctx context.Context, userID uuid.UUID, chat *models.Chat) (Subject, error) {
	s := Subject{
		UserID:        userID,
		IsParticipant: chat.IsParticipant(userID),
		Now:           p.now(),
	}
	var err error
	if s.IsAdmin, err = p.perms.IsMainAppAdmin(ctx, userID); err != nil {
		return s, err
	}
	if s.IsModerator, err = p.perms.IsModerator(ctx, userID, chat); err != nil {
		return s, err
	}
	if s.IsGroupMember, err = p.perms.IsGroupMember(ctx, userID, chat.GroupID); err != nil {
		return s, err
	}
	if s.Restriction, err = p.restrictions.Effective(ctx, chat.ID, userID); err != nil {
		return s, err
	}
	return s, nil
}

func (p *Policy) CanRead(ctx context.Context, userID uuid.UUID, chat *models.Chat) (bool, error) {
	s, err := p.Subject(ctx, userID, chat)
	if err != nil {
		return false, err
	}
	return CanRead(s, chat), nil
}

func (p *Policy) CanWrite(ctx context.Context, userID uuid.UUID, chat *models.Chat) (bool, error) {
	s, err := p.Subject(ctx, userID, chat)
	if err != nil {
		return false, err
	}
	return CanWrite(s, chat), nil
}

// Permissions exposes the role collaborator the policy consults.
func (p *Policy) Permissions() *Permissions {
	return p.perms
}

// Now returns the server clock the policy evaluates restrictions against.
func (p *Policy) Now() time.Time {
	return p.now()
}
