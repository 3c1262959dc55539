// Package store persists conversations, transcript entries, and reminders.
// The default backend is an embedded SQLite database so a terminal client
// carries no external services; bridge deployments can point the same store
// at Postgres instead.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"github.com/irislive/iris/pkg/live"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound marks lookups and updates that matched no row.
var ErrNotFound = errors.New("store: not found")

// timeLayout is RFC 3339 with a fixed-width fraction so stored timestamps
// sort lexicographically in both backends.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config selects the database backend.
type Config struct {
	// Driver is "sqlite" or "postgres". Empty means sqlite.
	Driver string

	// DSN is the database file path for sqlite, or a connection string
	// for postgres.
	DSN string
}

// Store is the persistence layer. It implements live.ReminderStore.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

var _ live.ReminderStore = (*Store)(nil)

// Open connects to the configured database and brings its schema up to
// date. The caller owns the returned store and must Close it.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db      *sql.DB
		dialect string
		err     error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(cfg.DSN)
		dialect = "sqlite3"
	case DriverPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("store: unknown driver %q (supported: %s, %s)", cfg.Driver, DriverSQLite, DriverPostgres)
	}
	if err != nil {
		return nil, err
	}
	// Postgres may still be coming up when a bridge deployment starts;
	// retry the first ping briefly instead of failing the boot.
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(100*time.Millisecond))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if err := migrate(db, dialect); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store ready", "driver", driver)
	return &Store{db: db, driver: driver, logger: logger}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("store: sqlite database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite database: %w", err)
	}
	// SQLite wants a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return db, nil
}

func migrate(db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("store: set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Conversation is one recorded session transcript.
type Conversation struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time // zero while the conversation is open
}

// BeginConversation records a new conversation and returns its id.
func (s *Store) BeginConversation(ctx context.Context) (string, error) {
	id := "conv_" + uuid.NewString()[:8]
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (id, started_at) VALUES (?, ?)`),
		id, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("store: begin conversation: %w", err)
	}
	return id, nil
}

// EndConversation stamps the conversation's end time.
func (s *Store) EndConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE conversations SET ended_at = ? WHERE id = ?`),
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: end conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: conversation %q: %w", id, ErrNotFound)
	}
	return nil
}

// Conversations lists recorded conversations, newest first.
func (s *Store) Conversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, started_at, ended_at FROM conversations ORDER BY started_at DESC LIMIT ?`),
		limit)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var (
			c       Conversation
			started string
			ended   sql.NullString
		)
		if err := rows.Scan(&c.ID, &started, &ended); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		if c.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if ended.Valid {
			if c.EndedAt, err = parseTime(ended.String); err != nil {
				return nil, err
			}
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// SaveEntry appends a finalized transcript entry to the conversation.
// Entries keep their insertion order on replay.
func (s *Store) SaveEntry(ctx context.Context, conversationID string, e live.TranscriptEntry) error {
	if conversationID == "" {
		return errors.New("store: conversation id is required")
	}
	citations := ""
	if len(e.Citations) > 0 {
		raw, err := json.Marshal(e.Citations)
		if err != nil {
			return fmt.Errorf("store: encode citations: %w", err)
		}
		citations = string(raw)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO entries (id, conversation_id, seq, speaker, body, citations, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM entries WHERE conversation_id = ?), ?, ?, ?, ?)`),
		e.ID, conversationID, conversationID, string(e.Speaker), e.Text, citations, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: save entry: %w", err)
	}
	return nil
}

// Entries replays a conversation's transcript in the order it was recorded.
func (s *Store) Entries(ctx context.Context, conversationID string) ([]live.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, speaker, body, citations, created_at FROM entries
		 WHERE conversation_id = ? ORDER BY seq`),
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: load entries: %w", err)
	}
	defer rows.Close()

	var entries []live.TranscriptEntry
	for rows.Next() {
		var (
			e         live.TranscriptEntry
			speaker   string
			citations string
			created   string
		)
		if err := rows.Scan(&e.ID, &speaker, &e.Text, &citations, &created); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		e.Speaker = live.Speaker(speaker)
		if citations != "" {
			if err := json.Unmarshal([]byte(citations), &e.Citations); err != nil {
				return nil, fmt.Errorf("store: decode citations for %s: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddReminder stores a new open reminder.
func (s *Store) AddReminder(ctx context.Context, text string) (live.Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return live.Reminder{}, errors.New("store: reminder text is required")
	}
	rem := live.Reminder{
		ID:        "rem_" + uuid.NewString()[:8],
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO reminders (id, body, done, created_at) VALUES (?, ?, 0, ?)`),
		rem.ID, rem.Text, formatTime(rem.CreatedAt))
	if err != nil {
		return live.Reminder{}, fmt.Errorf("store: add reminder: %w", err)
	}
	return rem, nil
}

// Reminders lists all reminders, oldest first.
func (s *Store) Reminders(ctx context.Context) ([]live.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body, done, created_at FROM reminders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list reminders: %w", err)
	}
	defer rows.Close()

	var rems []live.Reminder
	for rows.Next() {
		var (
			rem     live.Reminder
			done    int
			created string
		)
		if err := rows.Scan(&rem.ID, &rem.Text, &done, &created); err != nil {
			return nil, fmt.Errorf("store: scan reminder: %w", err)
		}
		rem.Done = done != 0
		if rem.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		rems = append(rems, rem)
	}
	return rems, rows.Err()
}

// CompleteReminder marks the reminder done.
func (s *Store) CompleteReminder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE reminders SET done = 1 WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("store: complete reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: reminder %q: %w", id, ErrNotFound)
	}
	return nil
}

// rebind rewrites ? placeholders to $N for postgres. Queries never repeat
// a placeholder, so ordinal rewriting is enough.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse timestamp %q: %w", s, err)
	}
	return t, nil
}
