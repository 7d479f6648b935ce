// Package store keeps a local SQLite log of sent and received message chains
// and of raw gateway events.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"argon/internal/message"
)

var ErrNotFound = errors.New("store: message not found")

// Direction tells whether a message was received or sent by the bot.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Message is one logged chain. Subject is the friend or group the message
// belongs to; Kind is the event type it arrived as or the send command's
// audience.
type Message struct {
	ID        int64
	Subject   int64
	Kind      string
	Direction Direction
	Sender    int64
	Chain     *message.Chain
	CreatedAt time.Time
}

// Event is one raw inbound event.
type Event struct {
	ID         int64
	Type       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger.With("component", "store")}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMessage inserts m, replacing an earlier record with the same id and
// subject.
func (s *SQLiteStore) SaveMessage(ctx context.Context, m Message) error {
	chain, err := json.Marshal(m.Chain)
	if err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages (id, subject, kind, direction, sender, chain, display, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Subject, m.Kind, string(m.Direction), m.Sender, string(chain), m.Chain.Display(), m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save message %d: %w", m.ID, err)
	}
	return nil
}

// Message returns the most recent record with id. A zero subject matches any.
func (s *SQLiteStore) Message(ctx context.Context, id, subject int64) (*Message, error) {
	query := `SELECT id, subject, kind, direction, sender, chain, created_at FROM messages WHERE id = ?`
	args := []any{id}
	if subject != 0 {
		query += ` AND subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return m, err
}

// Recent returns up to limit messages of subject, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, subject int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, kind, direction, sender, chain, created_at FROM messages
		 WHERE subject = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		subject, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m         Message
		direction string
		chain     string
	)
	if err := row.Scan(&m.ID, &m.Subject, &m.Kind, &direction, &m.Sender, &chain, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Direction = Direction(direction)
	m.Chain = &message.Chain{}
	if err := json.Unmarshal([]byte(chain), m.Chain); err != nil {
		return nil, fmt.Errorf("decode stored chain %d: %w", m.ID, err)
	}
	return &m, nil
}

// LogEvent appends a raw event.
func (s *SQLiteStore) LogEvent(ctx context.Context, eventType string, payload json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, payload, received_at) VALUES (?, ?, ?)`,
		eventType, string(payload), time.Now().UTC(),
	)
	return err
}

// Events returns up to limit logged events of eventType ("" for all),
// oldest first.
func (s *SQLiteStore) Events(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, type, payload, received_at FROM events`
	args := []any{}
	if eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &payload, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes messages and events older than before and returns how many
// rows went.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, stmt := range []string{
		`DELETE FROM messages WHERE created_at < ?`,
		`DELETE FROM events WHERE received_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, stmt, before.UTC())
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Info("pruned store", "rows", total, "before", before)
	}
	return total, nil
}
