package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/skylens/skylens-ai/internal/audit"
)

// Package db is the durable archive for audit events and tool-execution
// records. Conversation and session state never lands here; it lives in
// memory for the process lifetime. Schema version is tracked in the
// schema_versions table.

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id  TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL,
    session_id      TEXT NOT NULL DEFAULT '',
    call_id         TEXT NOT NULL DEFAULT '',
    tool            TEXT NOT NULL DEFAULT '',
    result          TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    metadata        TEXT NOT NULL DEFAULT '{}',
    timestamp       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);

CREATE TABLE IF NOT EXISTS tool_executions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL,
    tool        TEXT NOT NULL,
    status      TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    executed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_exec_session ON tool_executions(session_id, executed_at DESC);
`,
	},
}

// Store is the SQLite-backed archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive database at path and
// applies pending migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	conn.SetMaxOpenConns(1)

	s := &Store{db: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	var current int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`)
	if err := row.Scan(&current); err != nil {
		current = 0 // table does not exist yet
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// InsertAuditEvent archives one audit event. Implements audit.Archive.
func (s *Store) InsertAuditEvent(ctx context.Context, event *audit.Event) error {
	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO audit_events
    (correlation_id, event_type, session_id, call_id, tool, result, description, error, duration_ms, metadata, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.CorrelationID, string(event.EventType), event.SessionID, event.CallID,
		event.Tool, string(event.Result), event.Description, event.Error,
		event.DurationMs, string(meta), event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ToolExecution is one archived tool run.
type ToolExecution struct {
	SessionID  string    `json:"sessionId"`
	Tool       string    `json:"tool"`
	Status     string    `json:"status"`
	DurationMs int64     `json:"durationMs"`
	ExecutedAt time.Time `json:"executedAt"`
}

// InsertToolExecution archives one tool execution record.
func (s *Store) InsertToolExecution(ctx context.Context, rec ToolExecution) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tool_executions (session_id, tool, status, duration_ms, executed_at)
VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Tool, rec.Status, rec.DurationMs, rec.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert tool execution: %w", err)
	}
	return nil
}

// RecentToolExecutions returns the latest archived tool runs for a
// session, newest first.
func (s *Store) RecentToolExecutions(ctx context.Context, sessionID string, limit int) ([]ToolExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, tool, status, duration_ms, executed_at
FROM tool_executions
WHERE session_id = ?
ORDER BY executed_at DESC
LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool executions: %w", err)
	}
	defer rows.Close()

	var out []ToolExecution
	for rows.Next() {
		var rec ToolExecution
		if err := rows.Scan(&rec.SessionID, &rec.Tool, &rec.Status, &rec.DurationMs, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan tool execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
