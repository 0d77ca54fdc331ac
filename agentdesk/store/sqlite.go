package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	cwd TEXT NOT NULL,
	prompt TEXT NOT NULL,
	resume_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
`

// SQLiteStore is a Gateway backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Gateway = (*SQLiteStore)(nil)

// OpenSQLite opens the database at path (":memory:" works) and creates
// the tables if needed.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: writes are serialized and ":memory:" stays a single
	// database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new idle session.
func (s *SQLiteStore) CreateSession(ctx context.Context, title, cwd, prompt string) (*Session, error) {
	sess := newSession(title, cwd, prompt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, cwd, prompt, resume_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', ?, ?, ?)`,
		sess.ID, sess.Title, sess.CWD, sess.Prompt, sess.Status, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, cwd, prompt, resume_id, status, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

// ListSessions returns every session, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, cwd, prompt, resume_id, status, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []*Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return sessions, nil
}

// UpdateStatus sets the session's status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	return s.update(ctx, id, "status", string(status))
}

// UpdateResumeID records the backend resume handle.
func (s *SQLiteStore) UpdateResumeID(ctx context.Context, id, resumeID string) error {
	return s.update(ctx, id, "resume_id", resumeID)
}

// UpdatePrompt records the latest prompt text.
func (s *SQLiteStore) UpdatePrompt(ctx context.Context, id, prompt string) error {
	return s.update(ctx, id, "prompt", prompt)
}

// update sets one whitelisted column and bumps updated_at.
func (s *SQLiteStore) update(ctx context.Context, id, column, value string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", column, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage stores msg unless a message with the same id is already
// logged for the session.
func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, msg agentstream.Message) error {
	if msg.ID == "" {
		msg.ID = agentstream.NewID()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, session_id, type, data, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, id, string(msg.Type), string(data), now,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// History returns the session's messages in append order.
func (s *SQLiteStore) History(ctx context.Context, id string) ([]agentstream.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM messages WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs := []agentstream.Message{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg agentstream.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return msgs, nil
}

// DeleteSession removes the session; its messages go with it.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var status string
	if err := row.Scan(&sess.ID, &sess.Title, &sess.CWD, &sess.Prompt, &sess.ResumeID,
		&status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.Status = Status(status)
	return &sess, nil
}
