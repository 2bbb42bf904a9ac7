package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/database"
	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/storage"
)

type MessageRepository struct {
	db *database.DB
}

func NewMessageRepository(db *database.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, chat_id, seq, sender_id, content, type, timestamp, edited_at, is_deleted, deleted_by, deleted_at`

func scanMessage(row scanner) (*models.Message, error) {
	m := &models.Message{}
	err := row.Scan(
		&m.ID,
		&m.ChatID,
		&m.Seq,
		&m.SenderID,
		&m.Content,
		&m.Type,
		&m.Timestamp,
		&m.EditedAt,
		&m.IsDeleted,
		&m.DeletedBy,
		&m.DeletedAt,
	)
	return m, err
}

// AppendMessage inserts a message into a live chat and assigns its seq
func (r *MessageRepository) AppendMessage(ctx context.Context, m *models.Message) error {
	query := `
		INSERT INTO messages (id, chat_id, sender_id, content, type, timestamp)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM chats WHERE id = $2 AND NOT is_deleted)
		RETURNING seq
	`

	err := r.db.QueryRowContext(ctx,
		query,
		m.ID,
		m.ChatID,
		m.SenderID,
		m.Content,
		string(m.Type),
		m.Timestamp,
	).Scan(&m.Seq)

	if err == sql.ErrNoRows {
		return apperr.NotFound("repository.AppendMessage", "chat not found")
	}
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID
func (r *MessageRepository) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("repository.GetMessage", "message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// UpdateMessage applies fn to the row under FOR UPDATE so concurrent edits
// and deletes serialize
func (r *MessageRepository) UpdateMessage(ctx context.Context, id uuid.UUID, fn storage.MessageMutation) (*models.Message, error) {
	var updated *models.Message
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 FOR UPDATE`
		m, err := scanMessage(tx.QueryRowContext(ctx, query, id))
		if err == sql.ErrNoRows {
			return apperr.NotFound("repository.UpdateMessage", "message not found")
		}
		if err != nil {
			return fmt.Errorf("failed to lock message: %w", err)
		}

		edit, err := fn(m)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE messages
			SET content = $2, edited_at = $3, is_deleted = $4, deleted_by = $5, deleted_at = $6
			WHERE id = $1
		`, m.ID, m.Content, m.EditedAt, m.IsDeleted, m.DeletedBy, m.DeletedAt)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}

		if edit != nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO message_edits (id, message_id, editor_id, previous_content, edited_at)
				VALUES ($1, $2, $3, $4, $5)
			`, edit.ID, edit.MessageID, edit.EditorID, edit.PreviousContent, edit.EditedAt)
			if err != nil {
				return fmt.Errorf("failed to record edit: %w", err)
			}
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListMessages returns a page of a chat ordered by (timestamp, seq). The
// cursor row's own position is the lower bound, so rows stamped out of seq
// order are never skipped.
func (r *MessageRepository) ListMessages(ctx context.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error) {
	query := `WITH anchor AS (
			SELECT timestamp, seq FROM messages WHERE chat_id = $1 AND seq = $2
		)
		SELECT ` + messageColumns + ` FROM messages
		WHERE chat_id = $1 AND (
			(timestamp, seq) > (SELECT timestamp, seq FROM anchor)
			OR (NOT EXISTS (SELECT 1 FROM anchor) AND seq > $2)
		)
		ORDER BY timestamp ASC, seq ASC
		LIMIT $3`

	// LIMIT NULL means no limit
	pageSize := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	rows, err := r.db.QueryContext(ctx, query, chatID, afterSeq, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (r *MessageRepository) ListEdits(ctx context.Context, messageID uuid.UUID) ([]models.MessageEdit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, editor_id, previous_content, edited_at
		FROM message_edits WHERE message_id = $1
		ORDER BY edited_at ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get edits: %w", err)
	}
	defer rows.Close()

	edits := []models.MessageEdit{}
	for rows.Next() {
		var e models.MessageEdit
		if err := rows.Scan(&e.ID, &e.MessageID, &e.EditorID, &e.PreviousContent, &e.EditedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edit: %w", err)
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}
