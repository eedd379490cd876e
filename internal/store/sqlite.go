// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/message persistence with automatic schema creation

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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/soukbot/chat-gateway/internal/message"
)

// SQLiteStore implements the Store interface using SQLite. The pool is
// capped at one connection so appends queue instead of racing: every
// write transaction runs alone, and the per-session seq assigned inside
// it is atomic with respect to concurrent appenders.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers. Deferred transactions on
	// separate pool connections would contend for the write lock and
	// fail with SQLITE_BUSY instead of queueing.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			merchant_id       TEXT NOT NULL,
			channel           TEXT NOT NULL,
			handover_to_agent INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,

			CHECK (channel IN ('whatsapp', 'telegram', 'webchat'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_merchant
			ON sessions(merchant_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id            TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			role          TEXT NOT NULL,
			text          TEXT NOT NULL,
			timestamp     TEXT NOT NULL,
			seq           INTEGER NOT NULL,
			metadata_json TEXT,
			keywords_json TEXT,

			FOREIGN KEY (session_id) REFERENCES sessions(session_id),
			UNIQUE (session_id, seq),
			CHECK (role IN ('customer', 'bot', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON messages(session_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// AppendMessage implements Store. The session row is upserted and the
// message inserted in one transaction so the seq assignment and the
// updated_at bump are atomic with respect to concurrent appenders.
func (s *SQLiteStore) AppendMessage(ctx context.Context, merchantID, sessionID string, channel message.Channel, msg message.Message) (*AppendResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	created := false

	var existingChannel string
	err = tx.QueryRowContext(ctx,
		`SELECT channel FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&existingChannel)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (session_id, merchant_id, channel, handover_to_agent, created_at, updated_at)
			 VALUES (?, ?, ?, 0, ?, ?)`,
			sessionID, merchantID, string(channel), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		); err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		created = true
	case err != nil:
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	var nextSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("assigning sequence: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.Seq = nextSeq

	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	keywordsJSON, err := json.Marshal(msg.Keywords)
	if err != nil {
		return nil, fmt.Errorf("encoding keywords: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, text, timestamp, seq, metadata_json, keywords_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Role), msg.Text,
		msg.Timestamp.UTC().Format(time.RFC3339Nano), msg.Seq,
		string(metadataJSON), string(keywordsJSON),
	); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		now.Format(time.RFC3339Nano), sessionID,
	); err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reloading session after append: %w", err)
	}

	return &AppendResult{
		Session: session,
		Message: msg,
		Created: created,
	}, nil
}

// GetSession implements Store.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.scanSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.Messages = msgs
	return session, nil
}

// ListSessions implements Store.
func (s *SQLiteStore) ListSessions(ctx context.Context, merchantID string, filter ListFilter) ([]*Session, error) {
	query := `SELECT session_id, merchant_id, channel, handover_to_agent, created_at, updated_at
		FROM sessions WHERE merchant_id = ?`
	args := []any{merchantID}
	if filter.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(filter.Channel))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	for _, session := range sessions {
		msgs, err := s.loadMessages(ctx, session.SessionID)
		if err != nil {
			return nil, err
		}
		session.Messages = msgs
	}
	return sessions, nil
}

// SetHandover implements Store. Setting the current value is a no-op.
func (s *SQLiteStore) SetHandover(ctx context.Context, sessionID string, enabled bool) (*Session, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET handover_to_agent = ?, updated_at = ?
		 WHERE session_id = ? AND handover_to_agent != ?`,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339Nano), sessionID, boolToInt(enabled),
	)
	if err != nil {
		return nil, fmt.Errorf("updating handover: %w", err)
	}

	// Zero rows affected means either unchanged (no-op) or missing;
	// GetSession distinguishes the two.
	return s.GetSession(ctx, sessionID)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanSession loads the session row without its messages.
func (s *SQLiteStore) scanSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, merchant_id, channel, handover_to_agent, created_at, updated_at
		 FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (*Session, error) {
	var (
		session            Session
		channel            string
		handover           int
		createdAt, updated string
	)
	if err := row.Scan(&session.SessionID, &session.MerchantID, &channel, &handover, &createdAt, &updated); err != nil {
		return nil, err
	}
	session.Channel = message.Channel(channel)
	session.HandoverToAgent = handover != 0

	var err error
	if session.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if session.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &session, nil
}

// loadMessages returns a session's messages in (seq) order.
func (s *SQLiteStore) loadMessages(ctx context.Context, sessionID string) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, timestamp, seq, metadata_json, keywords_json
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var (
			msg          message.Message
			role, ts     string
			metadataJSON sql.NullString
			keywordsJSON sql.NullString
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Text, &ts, &msg.Seq, &metadataJSON, &keywordsJSON); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = message.Role(role)
		if msg.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata: %w", err)
			}
		}
		if keywordsJSON.Valid && keywordsJSON.String != "" && keywordsJSON.String != "null" {
			if err := json.Unmarshal([]byte(keywordsJSON.String), &msg.Keywords); err != nil {
				return nil, fmt.Errorf("decoding keywords: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
