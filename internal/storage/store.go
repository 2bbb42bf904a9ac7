// Package storage declares the persistence contracts of the fan-chat core.
// Implementations: repository (Postgres) and memory (tests, ENV=memory).
//
// Every method that changes more than one record runs as a single
// transaction. Lookups of missing records return apperr.ErrNotFound.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/models"
)

// ModeratorMutation derives a chat's new moderator list from the locked
// current one.
type ModeratorMutation func(chat *models.Chat) ([]uuid.UUID, error)

type ChatStore interface {
	// CreateChat inserts a chat. A second private chat for the same pair
	// returns apperr.ErrConflict.
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	FindPrivateChat(ctx context.Context, groupID uuid.UUID, pairKey string) (*models.Chat, error)
	ListChatsByGroup(ctx context.Context, groupID uuid.UUID) ([]models.Chat, error)
	// UpdateModerators runs fn against the chat under a row lock and stores
	// the list it returns.
	UpdateModerators(ctx context.Context, chatID uuid.UUID, fn ModeratorMutation) (*models.Chat, error)
	UpdateLastMessage(ctx context.Context, chatID uuid.UUID, summary *models.MessageSummary) error
	// DeleteChat marks the chat deleted and soft-deletes all of its messages.
	DeleteChat(ctx context.Context, chatID, actorID uuid.UUID, at time.Time) error
}

// MessageMutation edits a locked message in place. Returning an error aborts
// the transaction; a non-nil edit is stored in the audit trail.
type MessageMutation func(m *models.Message) (*models.MessageEdit, error)

type MessageStore interface {
	// AppendMessage stores m and assigns its insertion sequence.
	AppendMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	// UpdateMessage runs fn against the current row under a row lock.
	UpdateMessage(ctx context.Context, id uuid.UUID, fn MessageMutation) (*models.Message, error)
	// ListMessages returns messages ordered by (timestamp, seq) ascending.
	// afterSeq names the last message already seen: the page resumes after
	// its (timestamp, seq) position. Zero starts from the beginning.
	ListMessages(ctx context.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error)
	ListEdits(ctx context.Context, messageID uuid.UUID) ([]models.MessageEdit, error)
}

// FollowUp inspects the target user's full history (ascending) after an
// append and may return one more entry to append in the same transaction.
type FollowUp func(history []models.ModerationLogEntry) *models.ModerationLogEntry

// DeleteMutation marks a locked message deleted. It reports false when the
// message needs no change.
type DeleteMutation func(m *models.Message) (bool, error)

type LedgerStore interface {
	// AppendEntry stores e and, when followUp yields one, a derived entry.
	// It returns every entry written, in order.
	AppendEntry(ctx context.Context, e *models.ModerationLogEntry, followUp FollowUp) ([]models.ModerationLogEntry, error)
	// AppendDeletion applies fn to a message and appends e in the same
	// transaction. Nothing is written when fn reports no change; the
	// returned slice is then empty.
	AppendDeletion(ctx context.Context, messageID uuid.UUID, e *models.ModerationLogEntry, fn DeleteMutation) (*models.Message, []models.ModerationLogEntry, error)
	// ListEntries returns a chat's entries newest first.
	ListEntries(ctx context.Context, chatID uuid.UUID, limit int) ([]models.ModerationLogEntry, error)
	// ListUserEntries returns one user's entries in a chat oldest first.
	ListUserEntries(ctx context.Context, chatID, userID uuid.UUID) ([]models.ModerationLogEntry, error)
	// ClearEntries removes every entry of a chat atomically.
	ClearEntries(ctx context.Context, chatID uuid.UUID) (int64, error)

	AddBannedWord(ctx context.Context, chatID uuid.UUID, word string) error
	RemoveBannedWord(ctx context.Context, chatID uuid.UUID, word string) error
	BannedWords(ctx context.Context, chatID uuid.UUID) ([]models.BannedWord, error)
}

// ReportMutation changes a locked report.
type ReportMutation func(r *models.Report) error

type ReportStore interface {
	CreateReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error)
	ListReports(ctx context.Context, groupID uuid.UUID, status models.ReportStatus) ([]models.Report, error)
	UpdateReport(ctx context.Context, id uuid.UUID, fn ReportMutation) (*models.Report, error)
}

type GroupStore interface {
	GroupRole(ctx context.Context, groupID, userID uuid.UUID) (models.GroupRole, error)
	SetGroupRole(ctx context.Context, groupID, userID uuid.UUID, role models.GroupRole) error
	IsAppAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.FanProfile) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.FanProfile, error)
	GetUserByEmail(ctx context.Context, email string) (*models.FanProfile, error)
}
