package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/database"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

type ChatRepository struct {
	db *database.DB
}

func NewChatRepository(db *database.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

const chatColumns = `id, group_id, type, name, participants, moderator_ids, is_read_only_for_fans,
	created_by, created_at, updated_at, last_message, is_deleted, COALESCE(pair_key, '')`

func scanChat(row scanner) (*models.Chat, error) {
	chat := &models.Chat{}
	var participants, moderators []string
	var lastMessage []byte
	err := row.Scan(
		&chat.ID,
		&chat.GroupID,
		&chat.Type,
		&chat.Name,
		pq.Array(&participants),
		pq.Array(&moderators),
		&chat.IsReadOnlyForFans,
		&chat.CreatedBy,
		&chat.CreatedAt,
		&chat.UpdatedAt,
		&lastMessage,
		&chat.IsDeleted,
		&chat.PairKey,
	)
	if err != nil {
		return nil, err
	}
	if chat.Participants, err = parseUUIDs(participants); err != nil {
		return nil, err
	}
	if chat.ModeratorIDs, err = parseUUIDs(moderators); err != nil {
		return nil, err
	}
	if len(lastMessage) > 0 {
		chat.LastMessage = &models.MessageSummary{}
		if err := json.Unmarshal(lastMessage, chat.LastMessage); err != nil {
			return nil, err
		}
	}
	return chat, nil
}

// CreateChat inserts a chat; a duplicate private pair is a conflict
func (r *ChatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	query := `
		INSERT INTO chats (id, group_id, type, name, participants, moderator_ids,
			is_read_only_for_fans, created_by, created_at, updated_at, pair_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))
	`

	_, err := r.db.ExecContext(ctx,
		query,
		chat.ID,
		chat.GroupID,
		string(chat.Type),
		chat.Name,
		uuidArray(chat.Participants),
		uuidArray(chat.ModeratorIDs),
		chat.IsReadOnlyForFans,
		chat.CreatedBy,
		chat.CreatedAt,
		chat.UpdatedAt,
		chat.PairKey,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("repository.CreateChat", "private chat already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// GetChat retrieves a chat by ID, deleted or not
func (r *ChatRepository) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1`

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("repository.GetChat", "chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

func (r *ChatRepository) FindPrivateChat(ctx context.Context, groupID uuid.UUID, pairKey string) (*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats
		WHERE group_id = $1 AND pair_key = $2 AND NOT is_deleted`

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, groupID, pairKey))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("repository.FindPrivateChat", "chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find private chat: %w", err)
	}
	return chat, nil
}

// ListChatsByGroup returns a group's chats, most recently active first
func (r *ChatRepository) ListChatsByGroup(ctx context.Context, groupID uuid.UUID) ([]models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE group_id = $1 ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []models.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

// UpdateModerators applies fn to the chat under FOR UPDATE so concurrent
// grants and revocations serialize
func (r *ChatRepository) UpdateModerators(ctx context.Context, chatID uuid.UUID, fn storage.ModeratorMutation) (*models.Chat, error) {
	var updated *models.Chat
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1 FOR UPDATE`
		chat, err := scanChat(tx.QueryRowContext(ctx, query, chatID))
		if err == sql.ErrNoRows {
			return apperr.NotFound("repository.UpdateModerators", "chat not found")
		}
		if err != nil {
			return fmt.Errorf("failed to lock chat: %w", err)
		}

		ids, err := fn(chat)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE chats SET moderator_ids = $2 WHERE id = $1`,
			chatID, uuidArray(ids),
		); err != nil {
			return fmt.Errorf("failed to set moderators: %w", err)
		}
		chat.ModeratorIDs = ids
		updated = chat
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *ChatRepository) UpdateLastMessage(ctx context.Context, chatID uuid.UUID, summary *models.MessageSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	// an older summary never replaces a newer one
	query := `
		UPDATE chats SET last_message = $2, updated_at = GREATEST(updated_at, $3)
		WHERE id = $1
		  AND (last_message IS NULL OR (last_message->>'timestamp')::timestamptz <= $3)
	`
	if _, err := r.db.ExecContext(ctx, query, chatID, data, summary.Timestamp); err != nil {
		return fmt.Errorf("failed to update last message: %w", err)
	}
	return nil
}

// DeleteChat marks the chat and all its messages deleted in one transaction
func (r *ChatRepository) DeleteChat(ctx context.Context, chatID, actorID uuid.UUID, at time.Time) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE chats SET is_deleted = TRUE, updated_at = $2 WHERE id = $1`,
			chatID, at,
		)
		if err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("repository.DeleteChat", "chat not found")
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE messages SET is_deleted = TRUE, deleted_by = $2, deleted_at = $3
			WHERE chat_id = $1 AND NOT is_deleted
		`, chatID, actorID, at)
		if err != nil {
			return fmt.Errorf("failed to delete chat messages: %w", err)
		}
		return nil
	})
}
