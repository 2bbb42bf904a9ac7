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

// ModerationRepository stores the moderation ledger and banned words
type ModerationRepository struct {
	db *database.DB
}

func NewModerationRepository(db *database.DB) *ModerationRepository {
	return &ModerationRepository{db: db}
}

const entryColumns = `id, seq, chat_id, message_id, action, moderator_id, moderator_name,
	target_user_id, target_user_name, reason, timestamp, duration_seconds, automated`

func scanEntry(row scanner) (*models.ModerationLogEntry, error) {
	e := &models.ModerationLogEntry{}
	err := row.Scan(
		&e.ID,
		&e.Seq,
		&e.ChatID,
		&e.MessageID,
		&e.Action,
		&e.ModeratorID,
		&e.ModeratorName,
		&e.TargetUserID,
		&e.TargetUserName,
		&e.Reason,
		&e.Timestamp,
		&e.DurationSeconds,
		&e.Automated,
	)
	return e, err
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *models.ModerationLogEntry) error {
	query := `
		INSERT INTO moderation_logs (id, chat_id, message_id, action, moderator_id, moderator_name,
			target_user_id, target_user_name, reason, timestamp, duration_seconds, automated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq
	`
	err := tx.QueryRowContext(ctx,
		query,
		e.ID,
		e.ChatID,
		e.MessageID,
		string(e.Action),
		e.ModeratorID,
		e.ModeratorName,
		e.TargetUserID,
		e.TargetUserName,
		e.Reason,
		e.Timestamp,
		e.DurationSeconds,
		e.Automated,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("failed to add moderation log: %w", err)
	}
	return nil
}

func queryEntries(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, query string, args ...any) ([]models.ModerationLogEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query moderation logs: %w", err)
	}
	defer rows.Close()

	entries := []models.ModerationLogEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan moderation log: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// AppendEntry writes an entry and its optional follow-up in one
// transaction. Appends for the same chat and target are serialized by an
// advisory lock so the follow-up sees a complete history.
func (r *ModerationRepository) AppendEntry(ctx context.Context, e *models.ModerationLogEntry, followUp storage.FollowUp) ([]models.ModerationLogEntry, error) {
	var written []models.ModerationLogEntry
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		lockKey := e.ChatID.String() + ":" + e.TargetUserID.String()
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("failed to lock moderation history: %w", err)
		}
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
		written = []models.ModerationLogEntry{*e}
		if followUp == nil {
			return nil
		}

		history, err := queryEntries(ctx, tx, `SELECT `+entryColumns+` FROM moderation_logs
			WHERE chat_id = $1 AND target_user_id = $2
			ORDER BY timestamp ASC, seq ASC`, e.ChatID, e.TargetUserID)
		if err != nil {
			return err
		}
		extra := followUp(history)
		if extra == nil {
			return nil
		}
		if err := insertEntry(ctx, tx, extra); err != nil {
			return err
		}
		written = append(written, *extra)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// AppendDeletion soft-deletes a message and records the moderator's entry in
// one transaction. A message that is already deleted is left alone and no
// entry is written.
func (r *ModerationRepository) AppendDeletion(ctx context.Context, messageID uuid.UUID, e *models.ModerationLogEntry, fn storage.DeleteMutation) (*models.Message, []models.ModerationLogEntry, error) {
	var (
		msg     *models.Message
		written = []models.ModerationLogEntry{}
	)
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 FOR UPDATE`
		m, err := scanMessage(tx.QueryRowContext(ctx, query, messageID))
		if err == sql.ErrNoRows {
			return apperr.NotFound("repository.AppendDeletion", "message not found")
		}
		if err != nil {
			return fmt.Errorf("failed to lock message: %w", err)
		}
		msg = m

		changed, err := fn(m)
		if err != nil || !changed {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET is_deleted = $2, deleted_by = $3, deleted_at = $4
			WHERE id = $1
		`, m.ID, m.IsDeleted, m.DeletedBy, m.DeletedAt); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
		written = append(written, *e)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return msg, written, nil
}

// ListEntries returns a chat's ledger newest first
func (r *ModerationRepository) ListEntries(ctx context.Context, chatID uuid.UUID, limit int) ([]models.ModerationLogEntry, error) {
	pageSize := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	return queryEntries(ctx, r.db, `SELECT `+entryColumns+` FROM moderation_logs
		WHERE chat_id = $1
		ORDER BY timestamp DESC, seq DESC
		LIMIT $2`, chatID, pageSize)
}

// ListUserEntries returns one target's entries oldest first
func (r *ModerationRepository) ListUserEntries(ctx context.Context, chatID, userID uuid.UUID) ([]models.ModerationLogEntry, error) {
	return queryEntries(ctx, r.db, `SELECT `+entryColumns+` FROM moderation_logs
		WHERE chat_id = $1 AND target_user_id = $2
		ORDER BY timestamp ASC, seq ASC`, chatID, userID)
}

// ClearEntries deletes a chat's ledger in a single statement
func (r *ModerationRepository) ClearEntries(ctx context.Context, chatID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM moderation_logs WHERE chat_id = $1`, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear moderation logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared logs: %w", err)
	}
	return n, nil
}

// AddBannedWord adds a banned word for a chat
func (r *ModerationRepository) AddBannedWord(ctx context.Context, chatID uuid.UUID, word string) error {
	query := `INSERT INTO chat_banned_words (id, chat_id, word, created_at) VALUES ($1,$2,$3,NOW()) ON CONFLICT (chat_id, word) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, uuid.New(), chatID, word)
	if err != nil {
		return fmt.Errorf("failed to add banned word: %w", err)
	}
	return nil
}

func (r *ModerationRepository) RemoveBannedWord(ctx context.Context, chatID uuid.UUID, word string) error {
	query := `DELETE FROM chat_banned_words WHERE chat_id = $1 AND word = $2`
	_, err := r.db.ExecContext(ctx, query, chatID, word)
	if err != nil {
		return fmt.Errorf("failed to remove banned word: %w", err)
	}
	return nil
}

func (r *ModerationRepository) BannedWords(ctx context.Context, chatID uuid.UUID) ([]models.BannedWord, error) {
	query := `SELECT id, chat_id, word, created_at FROM chat_banned_words WHERE chat_id = $1 ORDER BY word`
	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query banned words: %w", err)
	}
	defer rows.Close()

	res := []models.BannedWord{}
	for rows.Next() {
		var b models.BannedWord
		if err := rows.Scan(&b.ID, &b.ChatID, &b.Word, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan banned word: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
