// Package store persists chat-agent conversations in SQLite.
// It uses modernc.org/sqlite for pure-Go, CGO-free database access.
//
// The orchestrator never touches the store; the HTTP layer loads a
// session's history before a turn and saves the updated history after it.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/rainbowcity/rainbow/internal/conversation"
)

//go:embed schema.sql
var schema string

// ErrEmptySessionID is returned when a session id is blank.
var ErrEmptySessionID = errors.New("session id cannot be empty")

// Store provides access to the conversation database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer. Also keeps a ":memory:" database on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: time.Now}

	if err := s.initPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range splitSQL(schema) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d: %w\nSQL: %s", i+1, err, stmt)
		}
	}
	return tx.Commit()
}

// splitSQL drops comment lines and splits on semicolons. The schema has no
// triggers, so no statement contains one.
func splitSQL(src string) []string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Health checks that the database answers.
func (s *Store) Health(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ═══════════════════════════════════════════════════════════════════════════════

// SessionInfo summarizes a stored session.
type SessionInfo struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SaveHistory appends the messages of history that are not stored yet.
// Messages are keyed by id, so saving the full history of every turn only
// adds the new ones. System messages are not stored: the system prompt is
// supplied afresh on each turn.
func (s *Store) SaveHistory(ctx context.Context, sessionID, userID string, history []conversation.Message) (int, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, ErrEmptySessionID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at,
			user_id = CASE WHEN sessions.user_id = '' THEN excluded.user_id ELSE sessions.user_id END`,
		sessionID, userID, now, now)
	if err != nil {
		return 0, fmt.Errorf("upsert session: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?", sessionID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO messages
			(id, session_id, seq, role, content, name, tool_call_id, parts_json, calls_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range history {
		if m.Role == conversation.RoleSystem || m.ID == "" {
			continue
		}
		parts, calls, err := encodeMessage(m)
		if err != nil {
			return 0, err
		}
		created := m.Timestamp
		if created.IsZero() {
			created = s.now()
		}

		res, err := stmt.ExecContext(ctx,
			m.ID, sessionID, seq+1, string(m.Role), m.Content, m.Name, m.ToolCallID, parts, calls, created.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("insert message %s: %w", m.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			seq++
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// LoadHistory returns the stored messages of a session, oldest first. With
// limit > 0 only the most recent messages are returned; a window never
// starts with tool results whose calls were cut off.
func (s *Store) LoadHistory(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrEmptySessionID
	}

	query := `SELECT id, role, content, name, tool_call_id, parts_json, calls_json, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT id, role, content, name, tool_call_id, parts_json, calls_json, created_at, seq
			FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []conversation.Message
	for rows.Next() {
		var (
			m            conversation.Message
			role         string
			parts, calls string
			created      int64
			seq          int64
		)
		dest := []any{&m.ID, &role, &m.Content, &m.Name, &m.ToolCallID, &parts, &calls, &created}
		if limit > 0 {
			dest = append(dest, &seq)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = conversation.Role(role)
		m.Timestamp = time.Unix(0, created).UTC()
		if err := decodeMessage(&m, parts, calls); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	for len(history) > 0 && history[0].Role == conversation.RoleTool {
		history = history[1:]
	}
	return history, nil
}

// ClearSession deletes a session and its messages. It reports whether the
// session existed.
func (s *Store) ClearSession(ctx context.Context, sessionID string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, ErrEmptySessionID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// Session returns summary information, or nil when the session is unknown.
func (s *Store) Session(ctx context.Context, sessionID string) (*SessionInfo, error) {
	var (
		info             SessionInfo
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, sessionID).
		Scan(&info.ID, &info.UserID, &created, &updated, &info.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	info.CreatedAt = time.UnixMilli(created).UTC()
	info.UpdatedAt = time.UnixMilli(updated).UTC()
	return &info, nil
}

// PruneIdle deletes sessions not updated within maxIdle and returns how many
// were removed.
func (s *Store) PruneIdle(ctx context.Context, maxIdle time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxIdle).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id IN (SELECT id FROM sessions WHERE updated_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func encodeMessage(m conversation.Message) (parts, calls string, err error) {
	if len(m.Parts) > 0 {
		data, err := json.Marshal(m.Parts)
		if err != nil {
			return "", "", fmt.Errorf("encode parts: %w", err)
		}
		parts = string(data)
	}
	if len(m.ToolCalls) > 0 {
		data, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return "", "", fmt.Errorf("encode tool calls: %w", err)
		}
		calls = string(data)
	}
	return parts, calls, nil
}

func decodeMessage(m *conversation.Message, parts, calls string) error {
	if parts != "" {
		if err := json.Unmarshal([]byte(parts), &m.Parts); err != nil {
			return err
		}
	}
	if calls != "" {
		if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
			return err
		}
	}
	return nil
}
