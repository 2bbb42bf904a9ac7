package moderation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/access"
	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

// The system moderator signs every automated ledger entry.
var SystemModeratorID = uuid.Nil

const SystemModeratorName = "FanChat AutoMod"

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxReasonLength     = 500
	maxBannedWordLength = 100

	// ten years
	maxDurationSeconds = int64(10 * 365 * 24 * time.Hour / time.Second)
)

// Listener observes entries after they are durably appended.
type Listener func(ctx context.Context, chat *models.Chat, entry models.ModerationLogEntry)

// Ledger records moderation actions. It is the only writer of restriction
// state: bans, mutes and warnings exist only as ledger entries.
type Ledger struct {
	store    storage.LedgerStore
	chats    storage.ChatStore
	messages storage.MessageStore
	users    storage.UserStore
	perms    *access.Permissions
	engine   *Engine
	policy   config.ModerationPolicy
	now      func() time.Time

	mu        sync.RWMutex
	listeners []Listener
}

type LedgerDeps struct {
	Store    storage.LedgerStore
	Chats    storage.ChatStore
	Messages storage.MessageStore
	Users    storage.UserStore
	Perms    *access.Permissions
	Engine   *Engine
	Policy   config.ModerationPolicy
	Now      func() time.Time
}

func NewLedger(d LedgerDeps) *Ledger {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Ledger{
		store:    d.Store,
		chats:    d.Chats,
		messages: d.Messages,
		users:    d.Users,
		perms:    d.Perms,
		engine:   d.Engine,
		policy:   d.Policy,
		now:      d.Now,
	}
}

// OnRecord registers fn to run after every append.
func (l *Ledger) OnRecord(fn Listener) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Record appends a moderator's action to a chat's ledger. The returned slice
// holds the recorded entry and, when the action crossed the warning
// threshold, the automatic temporary ban that followed it.
func (l *Ledger) Record(ctx context.Context, chatID, moderatorID uuid.UUID, req models.ModerationRequest) ([]models.ModerationLogEntry, error) {
	const op = "moderation.Record"

	chat, err := l.requireModerator(ctx, op, chatID, moderatorID)
	if err != nil {
		return nil, err
	}
	entry, err := l.buildEntry(op, chat, req)
	if err != nil {
		return nil, err
	}
	entry.ModeratorID = moderatorID
	entry.ModeratorName = l.displayName(ctx, moderatorID)
	return l.append(ctx, op, chat, entry)
}

// RecordAutomated appends an entry on behalf of the system moderator. No
// role check applies.
func (l *Ledger) RecordAutomated(ctx context.Context, chatID uuid.UUID, req models.ModerationRequest) ([]models.ModerationLogEntry, error) {
	const op = "moderation.RecordAutomated"

	chat, err := l.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsDeleted {
		return nil, apperr.NotFound(op, "chat not found")
	}
	entry, err := l.buildEntry(op, chat, req)
	if err != nil {
		return nil, err
	}
	entry.ModeratorID = SystemModeratorID
	entry.ModeratorName = SystemModeratorName
	entry.Automated = true
	return l.append(ctx, op, chat, entry)
}

func (l *Ledger) buildEntry(op string, chat *models.Chat, req models.ModerationRequest) (*models.ModerationLogEntry, error) {
	if !req.Action.Valid() {
		return nil, apperr.Validation(op, "unknown action %q", req.Action)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apperr.Validation(op, "reason is required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, apperr.Validation(op, "reason exceeds %d characters", maxReasonLength)
	}

	entry := &models.ModerationLogEntry{
		ID:           uuid.New(),
		ChatID:       chat.ID,
		MessageID:    req.MessageID,
		Action:       req.Action,
		TargetUserID: req.TargetUserID,
		Reason:       reason,
	}

	if req.Action.NeedsDuration() {
		if req.DurationSeconds == nil || *req.DurationSeconds <= 0 {
			return nil, apperr.Validation(op, "%s requires a positive duration", req.Action)
		}
		if *req.DurationSeconds > maxDurationSeconds {
			return nil, apperr.Validation(op, "duration exceeds %d seconds", maxDurationSeconds)
		}
		d := *req.DurationSeconds
		entry.DurationSeconds = &d
	}

	if req.Action == models.ActionDeleteMessage {
		if req.MessageID == nil {
			return nil, apperr.Validation(op, "deleteMessage requires a message id")
		}
		return entry, nil
	}
	if req.TargetUserID == uuid.Nil {
		return nil, apperr.Validation(op, "target user is required")
	}
	return entry, nil
}

func (l *Ledger) append(ctx context.Context, op string, chat *models.Chat, entry *models.ModerationLogEntry) ([]models.ModerationLogEntry, error) {
	entry.Timestamp = l.now()

	var (
		written []models.ModerationLogEntry
		err     error
	)
	if entry.Action == models.ActionDeleteMessage {
		written, err = l.appendDeletion(ctx, op, chat, entry)
	} else {
		entry.TargetUserName = l.displayName(ctx, entry.TargetUserID)
		var followUp storage.FollowUp
		if entry.Action == models.ActionWarnUser {
			followUp = l.escalation(*entry)
		}
		written, err = l.store.AppendEntry(ctx, entry, followUp)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append moderation entry: %w", err)
	}

	var stale error
	if entry.Action.AffectsRestriction() {
		stale = l.engine.Invalidate(ctx, chat.ID)
	}

	for _, e := range written {
		logger.Infof("moderation: %s on user %s in chat %s by %s", e.Action, e.TargetUserID, e.ChatID, e.ModeratorName)
		l.notify(ctx, chat, e)
	}
	if stale != nil {
		return written, fmt.Errorf("%s recorded but cached restrictions may be stale: %w", entry.Action, stale)
	}
	return written, nil
}

// appendDeletion hides the message and records the entry together. A
// message that is already deleted yields no entry.
func (l *Ledger) appendDeletion(ctx context.Context, op string, chat *models.Chat, entry *models.ModerationLogEntry) ([]models.ModerationLogEntry, error) {
	current, err := l.messages.GetMessage(ctx, *entry.MessageID)
	if err != nil {
		return nil, err
	}
	if current.ChatID != chat.ID {
		return nil, apperr.Validation(op, "message does not belong to this chat")
	}
	entry.TargetUserID = current.SenderID
	entry.TargetUserName = l.displayName(ctx, current.SenderID)

	by, at := entry.ModeratorID, entry.Timestamp
	_, written, err := l.store.AppendDeletion(ctx, current.ID, entry, func(m *models.Message) (bool, error) {
		if m.IsDeleted {
			return false, nil
		}
		m.IsDeleted = true
		m.DeletedBy = &by
		m.DeletedAt = &at
		return true, nil
	})
	return written, err
}

// escalation turns the warning that reaches the threshold into an
// automatic temporary ban, unless a ban is already in force.
func (l *Ledger) escalation(trigger models.ModerationLogEntry) storage.FollowUp {
	return func(history []models.ModerationLogEntry) *models.ModerationLogEntry {
		threshold := l.policy.WarningThreshold
		if threshold <= 0 {
			return nil
		}
		r := Fold(trigger.ChatID, trigger.TargetUserID, history)
		if r.PendingWarnings < threshold || r.BannedAt(trigger.Timestamp) {
			return nil
		}
		secs := int64(l.policy.AutoBanDuration / time.Second)
		return &models.ModerationLogEntry{
			ID:              uuid.New(),
			ChatID:          trigger.ChatID,
			MessageID:       trigger.MessageID,
			Action:          models.ActionTempBanUser,
			ModeratorID:     SystemModeratorID,
			ModeratorName:   SystemModeratorName,
			TargetUserID:    trigger.TargetUserID,
			TargetUserName:  trigger.TargetUserName,
			Reason:          fmt.Sprintf("automatic temporary ban after %d warnings", r.PendingWarnings),
			Timestamp:       trigger.Timestamp,
			DurationSeconds: &secs,
			Automated:       true,
		}
	}
}

func (l *Ledger) notify(ctx context.Context, chat *models.Chat, e models.ModerationLogEntry) {
	l.mu.RLock()
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, chat, e)
	}
}

// History returns a chat's ledger newest first. Moderators only.
func (l *Ledger) History(ctx context.Context, chatID, actorID uuid.UUID, limit int) ([]models.ModerationLogEntry, error) {
	if _, err := l.requireModerator(ctx, "moderation.History", chatID, actorID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := l.store.ListEntries(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list moderation history: %w", err)
	}
	return entries, nil
}

// Clear erases a chat's ledger, lifting every restriction in it. Only the
// main app admin may do this.
func (l *Ledger) Clear(ctx context.Context, chatID, actorID uuid.UUID) (int64, error) {
	const op = "moderation.Clear"

	admin, err := l.perms.IsMainAppAdmin(ctx, actorID)
	if err != nil {
		return 0, err
	}
	if !admin {
		return 0, apperr.Permission(op, "only the app admin can clear moderation history")
	}
	if _, err := l.chats.GetChat(ctx, chatID); err != nil {
		return 0, err
	}

	n, err := l.store.ClearEntries(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear moderation history: %w", err)
	}
	logger.Infof("moderation: cleared %d entries in chat %s by %s", n, chatID, actorID)
	if err := l.engine.Invalidate(ctx, chatID); err != nil {
		return n, fmt.Errorf("history cleared but cached restrictions may be stale: %w", err)
	}
	return n, nil
}

// Restriction returns userID's current restriction in a chat. Users may read
// their own; moderators may read anyone's.
func (l *Ledger) Restriction(ctx context.Context, chatID, actorID, userID uuid.UUID) (models.Restriction, error) {
	if actorID != userID {
		if _, err := l.requireModerator(ctx, "moderation.Restriction", chatID, actorID); err != nil {
			return models.Restriction{}, err
		}
	}
	return l.engine.Effective(ctx, chatID, userID)
}

// AddBannedWord adds a word the moderation bot removes messages for.
func (l *Ledger) AddBannedWord(ctx context.Context, chatID, actorID uuid.UUID, word string) error {
	const op = "moderation.AddBannedWord"
	if _, err := l.requireModerator(ctx, op, chatID, actorID); err != nil {
		return err
	}
	word, err := normalizeWord(op, word)
	if err != nil {
		return err
	}
	if err := l.store.AddBannedWord(ctx, chatID, word); err != nil {
		return fmt.Errorf("failed to add banned word: %w", err)
	}
	return nil
}

func (l *Ledger) RemoveBannedWord(ctx context.Context, chatID, actorID uuid.UUID, word string) error {
	const op = "moderation.RemoveBannedWord"
	if _, err := l.requireModerator(ctx, op, chatID, actorID); err != nil {
		return err
	}
	word, err := normalizeWord(op, word)
	if err != nil {
		return err
	}
	if err := l.store.RemoveBannedWord(ctx, chatID, word); err != nil {
		return fmt.Errorf("failed to remove banned word: %w", err)
	}
	return nil
}

func (l *Ledger) BannedWords(ctx context.Context, chatID, actorID uuid.UUID) ([]models.BannedWord, error) {
	if _, err := l.requireModerator(ctx, "moderation.BannedWords", chatID, actorID); err != nil {
		return nil, err
	}
	words, err := l.store.BannedWords(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list banned words: %w", err)
	}
	return words, nil
}

func normalizeWord(op, word string) (string, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return "", apperr.Validation(op, "word is required")
	}
	if utf8.RuneCountInString(word) > maxBannedWordLength {
		return "", apperr.Validation(op, "word exceeds %d characters", maxBannedWordLength)
	}
	return word, nil
}

func (l *Ledger) requireModerator(ctx context.Context, op string, chatID, actorID uuid.UUID) (*models.Chat, error) {
	chat, err := l.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsDeleted {
		return nil, apperr.NotFound(op, "chat not found")
	}
	ok, err := l.perms.IsModerator(ctx, actorID, chat)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Permission(op, "moderator role required")
	}
	return chat, nil
}

func (l *Ledger) displayName(ctx context.Context, userID uuid.UUID) string {
	if userID == SystemModeratorID {
		return SystemModeratorName
	}
	if l.users != nil {
		if u, err := l.users.GetUser(ctx, userID); err == nil {
			return u.Nickname
		}
	}
	return userID.String()
}
