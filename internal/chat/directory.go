// Package chat owns fan chats and their messages.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/access"
	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

const maxChatNameLength = 100

// Directory creates, lists and deletes chats.
type Directory struct {
	chats  storage.ChatStore
	policy *access.Policy
	perms  *access.Permissions
	now    func() time.Time
}

func NewDirectory(chats storage.ChatStore, policy *access.Policy) *Directory {
	return &Directory{
		chats:  chats,
		policy: policy,
		perms:  policy.Permissions(),
		now:    policy.Now,
	}
}

// Create dispatches on req.Type.
func (d *Directory) Create(ctx context.Context, actorID, groupID uuid.UUID, req models.CreateChatRequest) (*models.Chat, error) {
	switch req.Type {
	case models.ChatGeneral:
		return d.CreateGeneral(ctx, actorID, groupID, req.Name, req.ReadOnly)
	case models.ChatThemed:
		return d.CreateThemed(ctx, actorID, groupID, req.Name, req.ReadOnly)
	case models.ChatAnnouncement:
		return d.CreateAnnouncement(ctx, actorID, groupID, req.Name)
	case models.ChatMixed:
		return d.CreateMixed(ctx, actorID, groupID, req.Name, req.Participants, req.ReadOnly)
	case models.ChatPrivate:
		if req.TargetUserID == nil {
			return nil, apperr.Validation("chat.Create", "target_user_id is required for private chats")
		}
		return d.CreatePrivate(ctx, actorID, groupID, *req.TargetUserID)
	}
	return nil, apperr.Validation("chat.Create", "unknown chat type %q", req.Type)
}

func (d *Directory) CreateGeneral(ctx context.Context, actorID, groupID uuid.UUID, name string, readOnly bool) (*models.Chat, error) {
	const op = "chat.CreateGeneral"
	if err := d.requireMember(ctx, op, actorID, groupID); err != nil {
		return nil, err
	}
	return d.createNamed(ctx, op, actorID, groupID, models.ChatGeneral, name, nil, readOnly)
}

func (d *Directory) CreateThemed(ctx context.Context, actorID, groupID uuid.UUID, name string, readOnly bool) (*models.Chat, error) {
	const op = "chat.CreateThemed"
	ok, err := d.perms.CanCreateThemedChats(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Permission(op, "not allowed to create themed chats")
	}
	return d.createNamed(ctx, op, actorID, groupID, models.ChatThemed, name, nil, readOnly)
}

// CreateAnnouncement opens a chat only moderators may post into.
func (d *Directory) CreateAnnouncement(ctx context.Context, actorID, groupID uuid.UUID, name string) (*models.Chat, error) {
	const op = "chat.CreateAnnouncement"
	ok, err := d.perms.IsGroupModerator(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Permission(op, "moderator role required")
	}
	return d.createNamed(ctx, op, actorID, groupID, models.ChatAnnouncement, name, nil, true)
}

// CreateMixed opens a participant-only chat for several members.
func (d *Directory) CreateMixed(ctx context.Context, actorID, groupID uuid.UUID, name string, participants []uuid.UUID, readOnly bool) (*models.Chat, error) {
	const op = "chat.CreateMixed"
	if err := d.requireMember(ctx, op, actorID, groupID); err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]bool{actorID: true}
	members := []uuid.UUID{actorID}
	for _, id := range participants {
		if id == uuid.Nil || seen[id] {
			continue
		}
		ok, err := d.perms.IsGroupMember(ctx, id, groupID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Validation(op, "participant %s is not a group member", id)
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) < 2 {
		return nil, apperr.Validation(op, "mixed chats need at least one other participant")
	}
	return d.createNamed(ctx, op, actorID, groupID, models.ChatMixed, name, members, readOnly)
}

func (d *Directory) createNamed(ctx context.Context, op string, actorID, groupID uuid.UUID, typ models.ChatType, name string, participants []uuid.UUID, readOnly bool) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation(op, "name is required")
	}
	if utf8.RuneCountInString(name) > maxChatNameLength {
		return nil, apperr.Validation(op, "name exceeds %d characters", maxChatNameLength)
	}

	now := d.now()
	chat := &models.Chat{
		ID:                uuid.New(),
		GroupID:           groupID,
		Type:              typ,
		Name:              name,
		Participants:      participants,
		ModeratorIDs:      []uuid.UUID{actorID},
		IsReadOnlyForFans: readOnly,
		CreatedBy:         actorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := d.chats.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	logger.Infof("chat %s (%s) created in group %s by %s", chat.ID, typ, groupID, actorID)
	return chat, nil
}

// CreatePrivate returns the pair's private chat, creating it on first use.
// Calling it again, from either side, yields the same chat.
func (d *Directory) CreatePrivate(ctx context.Context, actorID, groupID, targetID uuid.UUID) (*models.Chat, error) {
	const op = "chat.CreatePrivate"
	if targetID == actorID || targetID == uuid.Nil {
		return nil, apperr.Validation(op, "cannot open a private chat with yourself")
	}
	if err := d.requireMember(ctx, op, actorID, groupID); err != nil {
		return nil, err
	}
	ok, err := d.perms.IsGroupMember(ctx, targetID, groupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation(op, "target user is not a group member")
	}

	key := models.PrivatePairKey(actorID, targetID)
	if existing, err := d.chats.FindPrivateChat(ctx, groupID, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	now := d.now()
	chat := &models.Chat{
		ID:           uuid.New(),
		GroupID:      groupID,
		Type:         models.ChatPrivate,
		Participants: []uuid.UUID{actorID, targetID},
		ModeratorIDs: []uuid.UUID{},
		CreatedBy:    actorID,
		CreatedAt:    now,
		UpdatedAt:    now,
		PairKey:      key,
	}
	err = d.chats.CreateChat(ctx, chat)
	if errors.Is(err, apperr.ErrConflict) {
		// lost the race to the other participant
		return d.chats.FindPrivateChat(ctx, groupID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create private chat: %w", err)
	}
	return chat, nil
}

// Get returns a chat the actor may read.
func (d *Directory) Get(ctx context.Context, actorID, chatID uuid.UUID) (*models.Chat, error) {
	chat, _, err := d.readable(ctx, "chat.Get", actorID, chatID)
	return chat, err
}

// readable loads a live chat and the actor's subject, failing unless the
// actor may read it.
func (d *Directory) readable(ctx context.Context, op string, actorID, chatID uuid.UUID) (*models.Chat, access.Subject, error) {
	chat, err := d.live(ctx, op, chatID)
	if err != nil {
		return nil, access.Subject{}, err
	}
	s, err := d.policy.Subject(ctx, actorID, chat)
	if err != nil {
		return nil, s, err
	}
	if reason := access.ReadDenial(s, chat); reason != "" {
		return nil, s, apperr.Permission(op, "%s", reason)
	}
	return chat, s, nil
}

func (d *Directory) live(ctx context.Context, op string, chatID uuid.UUID) (*models.Chat, error) {
	chat, err := d.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsDeleted {
		return nil, apperr.NotFound(op, "chat not found")
	}
	return chat, nil
}

// ListVisible returns the group's chats userID may read, most recently
// active first.
func (d *Directory) ListVisible(ctx context.Context, groupID, userID uuid.UUID) ([]models.Chat, error) {
	all, err := d.chats.ListChatsByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	visible := []models.Chat{}
	for i := range all {
		c := &all[i]
		if c.IsDeleted {
			continue
		}
		s, err := d.policy.Subject(ctx, userID, c)
		if err != nil {
			return nil, err
		}
		if access.CanRead(s, c) {
			visible = append(visible, *c)
		}
	}
	return visible, nil
}

// Delete removes a chat and soft-deletes its messages. Creator or app admin.
func (d *Directory) Delete(ctx context.Context, chatID, actorID uuid.UUID) error {
	const op = "chat.Delete"
	chat, err := d.live(ctx, op, chatID)
	if err != nil {
		return err
	}
	if err := d.requireOwner(ctx, op, chat, actorID); err != nil {
		return err
	}
	if err := d.chats.DeleteChat(ctx, chatID, actorID, d.now()); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	logger.Infof("chat %s deleted by %s", chatID, actorID)
	return nil
}

func (d *Directory) AddModerator(ctx context.Context, chatID, actorID, userID uuid.UUID) (*models.Chat, error) {
	const op = "chat.AddModerator"
	chat, err := d.live(ctx, op, chatID)
	if err != nil {
		return nil, err
	}
	if err := d.requireOwner(ctx, op, chat, actorID); err != nil {
		return nil, err
	}
	if chat.Type == models.ChatPrivate {
		return nil, apperr.Validation(op, "private chats have no moderators")
	}
	ok, err := d.perms.IsGroupMember(ctx, userID, chat.GroupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation(op, "user is not a group member")
	}
	updated, err := d.chats.UpdateModerators(ctx, chatID, func(c *models.Chat) ([]uuid.UUID, error) {
		if c.IsDeleted {
			return nil, apperr.NotFound(op, "chat not found")
		}
		if c.HasModerator(userID) {
			return c.ModeratorIDs, nil
		}
		return append(c.ModeratorIDs, userID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add moderator: %w", err)
	}
	return updated, nil
}

// RemoveModerator revokes the chat-level role. It takes effect on the
// user's next action.
func (d *Directory) RemoveModerator(ctx context.Context, chatID, actorID, userID uuid.UUID) (*models.Chat, error) {
	const op = "chat.RemoveModerator"
	chat, err := d.live(ctx, op, chatID)
	if err != nil {
		return nil, err
	}
	if err := d.requireOwner(ctx, op, chat, actorID); err != nil {
		return nil, err
	}
	updated, err := d.chats.UpdateModerators(ctx, chatID, func(c *models.Chat) ([]uuid.UUID, error) {
		kept := []uuid.UUID{}
		for _, id := range c.ModeratorIDs {
			if id != userID {
				kept = append(kept, id)
			}
		}
		return kept, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove moderator: %w", err)
	}
	return updated, nil
}

func (d *Directory) requireMember(ctx context.Context, op string, actorID, groupID uuid.UUID) error {
	ok, err := d.perms.IsGroupMember(ctx, actorID, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Permission(op, "not a member of this group")
	}
	return nil
}

func (d *Directory) requireOwner(ctx context.Context, op string, chat *models.Chat, actorID uuid.UUID) error {
	if chat.CreatedBy == actorID {
		return nil
	}
	admin, err := d.perms.IsMainAppAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !admin {
		return apperr.Permission(op, "only the chat creator or an app admin can do this")
	}
	return nil
}
