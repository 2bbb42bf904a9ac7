package database

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/fanclub/backend/internal/logger"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// Migrations contains all database migrations
var Migrations = []Migration{
	{
		Version:     1,
		Description: "fan profiles",
		Up: `
			CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

			CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				email VARCHAR(255) UNIQUE NOT NULL,
				nickname VARCHAR(50) NOT NULL,
				avatar_url TEXT,
				level INT NOT NULL DEFAULT 1,
				password_hash VARCHAR(255) NOT NULL,
				join_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
		`,
		Down: `
			DROP TABLE IF EXISTS users;
		`,
	},
	{
		Version:     2,
		Description: "group members and app admins",
		Up: `
			CREATE TABLE IF NOT EXISTS group_members (
				group_id UUID NOT NULL,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role VARCHAR(20) NOT NULL,
				joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (group_id, user_id)
			);

			CREATE TABLE IF NOT EXISTS app_admins (
				user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);
		`,
		Down: `
			DROP TABLE IF EXISTS app_admins;
			DROP TABLE IF EXISTS group_members;
		`,
	},
	{
		Version:     3,
		Description: "chats",
		Up: `
			CREATE TABLE IF NOT EXISTS chats (
				id UUID PRIMARY KEY,
				group_id UUID NOT NULL,
				type VARCHAR(20) NOT NULL,
				name VARCHAR(100) NOT NULL DEFAULT '',
				participants UUID[] NOT NULL DEFAULT '{}',
				moderator_ids UUID[] NOT NULL DEFAULT '{}',
				is_read_only_for_fans BOOLEAN NOT NULL DEFAULT FALSE,
				created_by UUID NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				last_message JSONB,
				is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
				pair_key TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_chats_group ON chats(group_id, updated_at DESC);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_private_pair
				ON chats(group_id, pair_key) WHERE pair_key IS NOT NULL AND NOT is_deleted;
		`,
		Down: `
			DROP TABLE IF EXISTS chats;
		`,
	},
	{
		Version:     4,
		Description: "messages and edit trail",
		Up: `
			CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				seq BIGSERIAL UNIQUE,
				chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				sender_id UUID NOT NULL,
				content TEXT NOT NULL,
				type VARCHAR(20) NOT NULL,
				timestamp TIMESTAMPTZ NOT NULL,
				edited_at TIMESTAMPTZ,
				is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
				deleted_by UUID,
				deleted_at TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_messages_chat_order ON messages(chat_id, timestamp, seq);

			CREATE TABLE IF NOT EXISTS message_edits (
				id UUID PRIMARY KEY,
				message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				editor_id UUID NOT NULL,
				previous_content TEXT NOT NULL,
				edited_at TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_message_edits_message ON message_edits(message_id, edited_at);
		`,
		Down: `
			DROP TABLE IF EXISTS message_edits;
			DROP TABLE IF EXISTS messages;
		`,
	},
	{
		Version:     5,
		Description: "moderation ledger and banned words",
		Up: `
			CREATE TABLE IF NOT EXISTS moderation_logs (
				id UUID PRIMARY KEY,
				seq BIGSERIAL UNIQUE,
				chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				message_id UUID,
				action VARCHAR(20) NOT NULL,
				moderator_id UUID NOT NULL,
				moderator_name VARCHAR(255) NOT NULL,
				target_user_id UUID NOT NULL,
				target_user_name VARCHAR(255) NOT NULL,
				reason TEXT NOT NULL,
				timestamp TIMESTAMPTZ NOT NULL,
				duration_seconds BIGINT,
				automated BOOLEAN NOT NULL DEFAULT FALSE
			);

			CREATE INDEX IF NOT EXISTS idx_moderation_logs_chat ON moderation_logs(chat_id, timestamp DESC, seq DESC);
			CREATE INDEX IF NOT EXISTS idx_moderation_logs_target ON moderation_logs(chat_id, target_user_id, timestamp, seq);

			CREATE TABLE IF NOT EXISTS chat_banned_words (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				word VARCHAR(100) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(chat_id, word)
			);
		`,
		Down: `
			DROP TABLE IF EXISTS chat_banned_words;
			DROP TABLE IF EXISTS moderation_logs;
		`,
	},
	{
		Version:     6,
		Description: "reports",
		Up: `
			CREATE TABLE IF NOT EXISTS reports (
				id UUID PRIMARY KEY,
				group_id UUID NOT NULL,
				chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				reporter_id UUID NOT NULL,
				reason VARCHAR(20) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL DEFAULT 'pending',
				resolved_by UUID,
				resolved_at TIMESTAMPTZ,
				timestamp TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_reports_group_status ON reports(group_id, status, timestamp);
		`,
		Down: `
			DROP TABLE IF EXISTS reports;
		`,
	},
}

func sortedMigrations() []Migration {
	sorted := make([]Migration, len(Migrations))
	copy(sorted, Migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return sorted
}

// RunMigrations runs all pending migrations
func RunMigrations(db *sql.DB) error {
	// Ensure migrations table exists
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range sortedMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		logger.Infof("Running migration %d...", migration.Version)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		logger.Infof("Migration %d completed", migration.Version)
	}

	return nil
}

// RollbackLast reverts the most recently applied migration
func RollbackLast(db *sql.DB) (int, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return 0, err
	}
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return 0, err
	}
	if currentVersion == 0 {
		return 0, nil
	}

	var target *Migration
	for _, m := range sortedMigrations() {
		if m.Version == currentVersion {
			m := m
			target = &m
		}
	}
	if target == nil {
		return 0, fmt.Errorf("migration %d is not known to this build", currentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(target.Down); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to revert migration %d: %w", target.Version, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = $1", target.Version); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to unrecord migration %d: %w", target.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rollback %d: %w", target.Version, err)
	}
	return target.Version, nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
