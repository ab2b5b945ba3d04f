// Package session tracks chat sessions per user.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is RFC 3339 with fixed-width fractional seconds so the
// TEXT timestamps sort correctly under ORDER BY last_activity.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Session is one conversation thread for a user.
type Session struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// Store is a SQLite-backed session store. Sessions are keyed by
// (user_id, session_id) so different users can reuse session IDs
// without colliding.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the session database at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "sessions")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_activity TIMESTAMP NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, session_id)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity DESC);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewSessionID generates a fresh session identifier.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetOrCreate ensures a session exists and returns it.
func (s *Store) GetOrCreate(ctx context.Context, userID, sessionID string) (*Session, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (user_id, session_id, created_at, last_activity, message_count)
		VALUES (?, ?, ?, ?, 0)
	`, userID, sessionID, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return s.Get(ctx, userID, sessionID)
}

// Get retrieves a session, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, created_at, last_activity, message_count
		FROM sessions WHERE user_id = ? AND session_id = ?
	`, userID, sessionID)

	var sess Session
	var createdStr, activityStr string
	err := row.Scan(&sess.UserID, &sess.ID, &createdStr, &activityStr, &sess.MessageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	sess.LastActivity, _ = time.Parse(time.RFC3339Nano, activityStr)
	return &sess, nil
}

// RecordExchange bumps the message count and refreshes the activity
// timestamp after one user/assistant exchange. Returns the new count.
func (s *Store) RecordExchange(ctx context.Context, userID, sessionID string) (int, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, last_activity = ?
		WHERE user_id = ? AND session_id = ?
	`, now.Format(timeLayout), userID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("record exchange: %w", err)
	}

	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT message_count FROM sessions WHERE user_id = ? AND session_id = ?
	`, userID, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("read message count: %w", err)
	}
	return count, nil
}

// ListForUser returns a user's sessions, most recently active first.
func (s *Store) ListForUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, session_id, created_at, last_activity, message_count
		FROM sessions WHERE user_id = ?
		ORDER BY last_activity DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var createdStr, activityStr string
		if err := rows.Scan(&sess.UserID, &sess.ID, &createdStr, &activityStr, &sess.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		sess.LastActivity, _ = time.Parse(time.RFC3339Nano, activityStr)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Stats returns session statistics. A session counts as active when
// it saw activity within the last hour.
func (s *Store) Stats(ctx context.Context) map[string]any {
	var total, messages int
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total)
	_ = s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(message_count), 0) FROM sessions`).Scan(&messages)

	cutoff := time.Now().UTC().Add(-time.Hour).Format(timeLayout)
	var active int
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE last_activity > ?`, cutoff).Scan(&active)

	return map[string]any{
		"total_sessions":  total,
		"active_sessions": active,
		"total_messages":  messages,
		"storage":         "sqlite",
	}
}
