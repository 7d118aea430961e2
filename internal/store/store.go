// Package store persists canonical messages in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"happin/internal/domain"
)

// Config selects and configures the backing database.
type Config struct {
	Driver string // sqlite (default) | postgres
	Path   string // SQLite database file
	DSN    string // PostgreSQL connection string
	Logger *slog.Logger
}

// SQLStore implements domain.MessageStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

var _ domain.MessageStore = (*SQLStore)(nil)

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(ctx, cfg.Path, cfg.Logger)
	case "postgres", "postgresql":
		return NewPostgres(ctx, cfg.DSN, cfg.Logger)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// NewSQLite opens (creating if needed) a SQLite database file.
func NewSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open(sqliteDialect.driver, dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return newSQLStore(ctx, db, sqliteDialect, logger)
}

// NewPostgres connects through the pgx database/sql driver.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres store requires a DSN")
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return newSQLStore(ctx, db, postgresDialect, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) (*SQLStore, error) {
	if err := RunMigrations(ctx, db, d, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLStore{db: db, dialect: d, logger: logger, now: time.Now}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Driver names the active SQL dialect.
func (s *SQLStore) Driver() string { return s.dialect.name }

const messageColumns = `id, channel, channel_id, thread_id, sender, recipients, subject, body, html_body,
	attachments, received_at, sent_at, is_read, is_archived, priority, priority_reason, category,
	tags, sentiment, intent, action_required, summary, key_points, action_items, ai_processed,
	ai_processed_at, channel_data, created_at, updated_at`

// Save stores msg under a new sortable id. msg is updated in place with the
// id and generated timestamps.
func (s *SQLStore) Save(ctx context.Context, msg *domain.Message) (string, error) {
	if msg == nil {
		return "", domain.Invalid("message", "nil")
	}
	if !msg.Channel.Valid() {
		return "", domain.Invalid("channel", fmt.Sprintf("unknown channel %q", msg.Channel))
	}
	if strings.TrimSpace(msg.Body) == "" {
		return "", domain.Invalid("body", "must not be empty")
	}
	if msg.Priority != nil && (*msg.Priority < domain.MinPriority || *msg.Priority > domain.MaxPriority) {
		return "", domain.Invalid("priority", "must be between 1 and 5")
	}

	now := s.now().UTC()
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}
	if msg.ChannelID == "" {
		msg.ChannelID = fmt.Sprintf("%s-%d", msg.Channel, now.UnixMilli())
	}
	msg.ID = ulid.Make().String()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	row, err := encodeMessage(msg)
	if err != nil {
		return "", err
	}

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel, channel_id) DO NOTHING`), row...)
	if err != nil {
		return "", unavailable("save", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", unavailable("save", err)
	}
	if n == 0 {
		var existing string
		err := s.db.QueryRowContext(ctx,
			s.dialect.rebind("SELECT id FROM messages WHERE channel = ? AND channel_id = ?"),
			string(msg.Channel), msg.ChannelID,
		).Scan(&existing)
		if err != nil {
			return "", unavailable("save", err)
		}
		msg.ID = existing
		return existing, &domain.DuplicateError{ID: existing}
	}

	s.logger.Debug("message saved", "id", msg.ID, "channel", msg.Channel, "channel_id", msg.ChannelID)
	return msg.ID, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT "+messageColumns+" FROM messages WHERE id = ?"), id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return msg, nil
}

// List returns messages newest first, ties broken by descending id. The
// cursor must be the id of a message from a previous page.
func (s *SQLStore) List(ctx context.Context, f domain.ListFilter) ([]domain.Message, error) {
	var (
		where []string
		args  []any
	)
	if f.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, string(f.Channel))
	}
	if f.UnreadOnly {
		where = append(where, "is_read = ?")
		args = append(args, false)
	}
	if f.UnprocessedOnly {
		where = append(where, "ai_processed = ?")
		args = append(args, false)
	}
	if f.Cursor != "" {
		var receivedAt int64
		err := s.db.QueryRowContext(ctx,
			s.dialect.rebind("SELECT received_at FROM messages WHERE id = ?"), f.Cursor,
		).Scan(&receivedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Invalid("cursor", "unknown message id")
		}
		if err != nil {
			return nil, unavailable("list", err)
		}
		where = append(where, "(received_at < ? OR (received_at = ? AND id < ?))")
		args = append(args, receivedAt, receivedAt, f.Cursor)
	}

	query := "SELECT " + messageColumns + " FROM messages"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC, id DESC LIMIT ?"
	args = append(args, f.NormalizedLimit())

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable("list", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

// Update writes only the fields set in u, plus updated_at.
func (s *SQLStore) Update(ctx context.Context, id string, u domain.MessageUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	sets, args, err := updateColumns(u)
	if err != nil {
		return err
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UTC().UnixNano(), id)

	res, err := s.db.ExecContext(ctx,
		s.dialect.rebind("UPDATE messages SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
	if err != nil {
		return unavailable("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update", err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("store %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
