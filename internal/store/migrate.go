package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

// migration represents a single schema migration step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations. The DDL is portable
// between SQLite and PostgreSQL: timestamps are unix nanoseconds, structured
// fields are JSON text.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: messages with native-id dedupe",
		SQL: `
		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			channel         TEXT NOT NULL,
			channel_id      TEXT NOT NULL,
			thread_id       TEXT,
			sender          TEXT NOT NULL,
			recipients      TEXT,
			subject         TEXT,
			body            TEXT NOT NULL,
			html_body       TEXT,
			attachments     TEXT,
			received_at     BIGINT NOT NULL,
			sent_at         BIGINT,
			is_read         BOOLEAN NOT NULL DEFAULT FALSE,
			is_archived     BOOLEAN NOT NULL DEFAULT FALSE,
			priority        INTEGER,
			priority_reason TEXT,
			category        TEXT,
			tags            TEXT,
			sentiment       TEXT,
			intent          TEXT,
			action_required BOOLEAN,
			summary         TEXT,
			key_points      TEXT,
			action_items    TEXT,
			ai_processed    BOOLEAN NOT NULL DEFAULT FALSE,
			ai_processed_at BIGINT,
			channel_data    TEXT,
			created_at      BIGINT NOT NULL,
			updated_at      BIGINT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_native ON messages(channel, channel_id);
		CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at, id);
		`,
	},
	{
		Version:     2,
		Description: "v2: channel and backlog indexes for list filters",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel, received_at, id);
		CREATE INDEX IF NOT EXISTS idx_messages_backlog ON messages(ai_processed, received_at);
		`,
	},
}

// RunMigrations applies all pending schema migrations, tracked in the
// schema_version table. Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  BIGINT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description, "dialect", d.name)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitSQL(m.SQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
			}
		}
		if _, err := tx.ExecContext(ctx,
			d.rebind("INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, time.Now().UnixNano(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, 0 for a fresh database.
func GetSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}

// splitSQL splits a multi-statement SQL string on semicolons.
func splitSQL(sql string) []string {
	var out []string
	for _, s := range strings.Split(sql, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
