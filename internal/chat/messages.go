package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/access"
	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/moderation"
	"github.com/fanclub/backend/internal/notify"
	"github.com/fanclub/backend/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Broker fans live message events out to subscribers of a chat.
type Broker interface {
	Publish(ctx context.Context, chatID uuid.UUID, ev models.MessageEvent) error
	Subscribe(ctx context.Context, chatID uuid.UUID) (<-chan models.MessageEvent, error)
}

// Messages appends, edits and deletes chat messages.
type Messages struct {
	store    storage.MessageStore
	dir      *Directory
	ledger   *moderation.Ledger
	broker   Broker
	notifier notify.Publisher
	policy   config.ModerationPolicy
	now      func() time.Time
}

type MessagesDeps struct {
	Store     storage.MessageStore
	Directory *Directory
	Ledger    *moderation.Ledger
	Broker    Broker
	Notifier  notify.Publisher
	Policy    config.ModerationPolicy
}

func NewMessages(d MessagesDeps) *Messages {
	if d.Notifier == nil {
		d.Notifier = notify.Discard{}
	}
	m := &Messages{
		store:    d.Store,
		dir:      d.Directory,
		ledger:   d.Ledger,
		broker:   d.Broker,
		notifier: d.Notifier,
		policy:   d.Policy,
		now:      d.Directory.now,
	}
	d.Ledger.OnRecord(m.onModeration)
	return m
}

// ListOptions pages through a chat's history by sequence.
type ListOptions struct {
	AfterSeq int64
	Limit    int
}

// Append posts a message on behalf of senderID.
func (s *Messages) Append(ctx context.Context, chatID, senderID uuid.UUID, content string, typ models.MessageType) (*models.Message, error) {
	const op = "chat.Append"

	if typ == "" {
		typ = models.MessageText
	}
	if !typ.Valid() {
		return nil, apperr.Validation(op, "unknown message type %q", typ)
	}
	if typ == models.MessageSystem {
		return nil, apperr.Permission(op, "system messages cannot be posted")
	}
	content, err := s.validContent(op, content)
	if err != nil {
		return nil, err
	}

	chat, err := s.dir.live(ctx, op, chatID)
	if err != nil {
		return nil, err
	}
	subject, err := s.dir.policy.Subject(ctx, senderID, chat)
	if err != nil {
		return nil, err
	}
	if reason := access.WriteDenial(subject, chat); reason != "" {
		return nil, apperr.Permission(op, "%s", reason)
	}
	if typ != models.MessageText && !subject.Privileged() {
		return nil, apperr.Permission(op, "%s messages need the moderator role", typ)
	}

	return s.persist(ctx, chat, &models.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Type:      typ,
		Timestamp: s.now(),
	})
}

// AppendSystem posts a message signed by the system moderator. No access
// check applies.
func (s *Messages) AppendSystem(ctx context.Context, chatID uuid.UUID, content string) (*models.Message, error) {
	const op = "chat.AppendSystem"
	content, err := s.validContent(op, content)
	if err != nil {
		return nil, err
	}
	chat, err := s.dir.live(ctx, op, chatID)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, chat, &models.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  moderation.SystemModeratorID,
		Content:   content,
		Type:      models.MessageSystem,
		Timestamp: s.now(),
	})
}

func (s *Messages) persist(ctx context.Context, chat *models.Chat, m *models.Message) (*models.Message, error) {
	if err := s.store.AppendMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if err := s.dir.chats.UpdateLastMessage(ctx, chat.ID, m.Summary()); err != nil {
		logger.Errorf("failed to update last message of chat %s: %v", chat.ID, err)
	}
	s.publish(ctx, models.EventMessageNew, m)

	if m.Type != models.MessageSystem {
		ev := notify.Event{ChatID: chat.ID, SenderID: m.SenderID, Content: m.Content, ChatType: chat.Type}
		if err := s.notifier.Publish(ctx, ev); err != nil {
			logger.Errorf("failed to publish notification for chat %s: %v", chat.ID, err)
		}
	}
	return m, nil
}

func (s *Messages) validContent(op, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Validation(op, "content is required")
	}
	if utf8.RuneCountInString(content) > s.policy.MaxContentLength {
		return "", apperr.Validation(op, "content exceeds %d characters", s.policy.MaxContentLength)
	}
	return content, nil
}

// Edit replaces a message's content. Only the sender may edit, only within
// the edit window, and never once the message is deleted.
func (s *Messages) Edit(ctx context.Context, messageID uuid.UUID, newContent string, actorID uuid.UUID) (*models.Message, error) {
	const op = "chat.Edit"
	content, err := s.validContent(op, newContent)
	if err != nil {
		return nil, err
	}

	current, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	chat, err := s.dir.live(ctx, op, current.ChatID)
	if err != nil {
		return nil, err
	}
	subject, err := s.dir.policy.Subject(ctx, actorID, chat)
	if err != nil {
		return nil, err
	}
	if reason := access.WriteDenial(subject, chat); reason != "" {
		return nil, apperr.Permission(op, "%s", reason)
	}

	now := s.now()
	updated, err := s.store.UpdateMessage(ctx, messageID, func(m *models.Message) (*models.MessageEdit, error) {
		if m.IsDeleted {
			return nil, apperr.Permission(op, "message was deleted")
		}
		if m.SenderID != actorID || m.Type == models.MessageSystem {
			return nil, apperr.Permission(op, "only the sender can edit a message")
		}
		if now.Sub(m.Timestamp) > s.policy.EditWindow {
			return nil, apperr.Permission(op, "edit window has passed")
		}
		if m.Content == content {
			return nil, nil
		}
		edit := &models.MessageEdit{
			ID:              uuid.New(),
			MessageID:       m.ID,
			EditorID:        actorID,
			PreviousContent: m.Content,
			EditedAt:        now,
		}
		m.Content = content
		m.EditedAt = &now
		return edit, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.EventMessageEdited, updated)
	return updated, nil
}

// SoftDelete hides a message. Senders delete their own messages directly;
// anyone else needs the moderator role and leaves a ledger entry. Deleting
// an already deleted message succeeds without effect.
func (s *Messages) SoftDelete(ctx context.Context, messageID, actorID uuid.UUID, reason string) error {
	const op = "chat.SoftDelete"

	current, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	chat, err := s.dir.chats.GetChat(ctx, current.ChatID)
	if err != nil {
		return err
	}

	if current.SenderID != actorID {
		mod, err := s.dir.perms.IsModerator(ctx, actorID, chat)
		if err != nil {
			return err
		}
		if !mod {
			return apperr.Permission(op, "only the sender or a moderator can delete a message")
		}
		if current.IsDeleted {
			return nil
		}
		_, err = s.ledger.Record(ctx, chat.ID, actorID, models.ModerationRequest{
			Action:    models.ActionDeleteMessage,
			MessageID: &messageID,
			Reason:    reason,
		})
		return err
	}

	if current.IsDeleted {
		return nil
	}
	now := s.now()
	changed := false
	updated, err := s.store.UpdateMessage(ctx, messageID, func(m *models.Message) (*models.MessageEdit, error) {
		if m.IsDeleted {
			return nil, nil
		}
		m.IsDeleted = true
		m.DeletedBy = &actorID
		m.DeletedAt = &now
		changed = true
		return nil, nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.publish(ctx, models.EventMessageDeleted, updated)
	}
	return nil
}

// onModeration publishes deletions recorded through the ledger.
func (s *Messages) onModeration(ctx context.Context, chat *models.Chat, e models.ModerationLogEntry) {
	if e.Action != models.ActionDeleteMessage || e.MessageID == nil {
		return
	}
	m, err := s.store.GetMessage(ctx, *e.MessageID)
	if err != nil {
		logger.Errorf("failed to load deleted message %s: %v", *e.MessageID, err)
		return
	}
	s.publish(ctx, models.EventMessageDeleted, m)
}

// ListOrdered returns a page of history ordered by (timestamp, seq).
// Deleted content is blanked for everyone but moderators.
func (s *Messages) ListOrdered(ctx context.Context, actorID, chatID uuid.UUID, opts ListOptions) ([]models.Message, error) {
	_, subject, err := s.dir.readable(ctx, "chat.ListOrdered", actorID, chatID)
	if err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultPageSize
	}
	if opts.Limit > maxPageSize {
		opts.Limit = maxPageSize
	}
	msgs, err := s.store.ListMessages(ctx, chatID, opts.AfterSeq, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if !subject.Privileged() {
		for i := range msgs {
			msgs[i] = msgs[i].Redacted()
		}
	}
	return msgs, nil
}

// EditHistory returns the earlier versions of a message. Moderators only.
func (s *Messages) EditHistory(ctx context.Context, actorID, messageID uuid.UUID) ([]models.MessageEdit, error) {
	const op = "chat.EditHistory"
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	chat, err := s.dir.chats.GetChat(ctx, m.ChatID)
	if err != nil {
		return nil, err
	}
	mod, err := s.dir.perms.IsModerator(ctx, actorID, chat)
	if err != nil {
		return nil, err
	}
	if !mod {
		return nil, apperr.Permission(op, "moderator role required")
	}
	edits, err := s.store.ListEdits(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edits: %w", err)
	}
	return edits, nil
}

// Subscribe streams a chat's live events until ctx is cancelled.
func (s *Messages) Subscribe(ctx context.Context, actorID, chatID uuid.UUID) (<-chan models.MessageEvent, error) {
	_, subject, err := s.dir.readable(ctx, "chat.Subscribe", actorID, chatID)
	if err != nil {
		return nil, err
	}
	in, err := s.broker.Subscribe(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to chat: %w", err)
	}
	if subject.Privileged() {
		return in, nil
	}

	out := make(chan models.MessageEvent)
	go func() {
		defer close(out)
		for ev := range in {
			ev.Message = ev.Message.Redacted()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Messages) publish(ctx context.Context, event string, m *models.Message) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, m.ChatID, models.MessageEvent{Event: event, Message: *m}); err != nil {
		logger.Errorf("failed to publish %s for message %s: %v", event, m.ID, err)
	}
}
