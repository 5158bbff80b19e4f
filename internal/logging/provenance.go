package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS turn_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	turn_id       TEXT NOT NULL,
	version_id    TEXT,
	action        TEXT NOT NULL,
	record_json   TEXT,
	reason        TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turn_log_session ON turn_log(session_id, id);
`

// EnsureSchema creates the turn_log table if it does not exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate turn_log: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-turn
// LogTurn writes a turn entry to the turn_log table.
func LogTurn(db *sql.DB, entry TurnEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO turn_log (session_id, turn_id, version_id, action, record_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		entry.TurnID,
		nullIfEmpty(entry.VersionID),
		entry.Action,
		nullIfEmpty(entry.RecordJSON),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log turn: %w", err)
	}
	return nil
}

// #endregion log-turn

// #region list-turns
// ListTurns returns a session's most recent entries, oldest first.
func ListTurns(db *sql.DB, sessionID string, limit int) ([]TurnEntry, error) {
	rows, err := db.Query(
		`SELECT session_id, turn_id, version_id, action, record_json, reason, created_at FROM (
			SELECT * FROM turn_log WHERE session_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []TurnEntry
	for rows.Next() {
		var e TurnEntry
		var versionID, recordJSON, reason sql.NullString
		var createdStr string
		if err := rows.Scan(&e.SessionID, &e.TurnID, &versionID, &e.Action, &recordJSON, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.VersionID = versionID.String
		e.RecordJSON = recordJSON.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DecodeRecord parses an entry's RecordJSON.
func DecodeRecord(e TurnEntry) (TurnRecord, error) {
	var rec TurnRecord
	if e.RecordJSON == "" {
		return rec, fmt.Errorf("turn %s has no record", e.TurnID)
	}
	if err := json.Unmarshal([]byte(e.RecordJSON), &rec); err != nil {
		return rec, fmt.Errorf("unmarshal turn record: %w", err)
	}
	return rec, nil
}

// #endregion list-turns

// #region journal
// SQLJournal appends turn entries to a turn_log table.
type SQLJournal struct {
	db *sql.DB
}

// NewSQLJournal ensures the schema exists on db and returns a journal over it.
func NewSQLJournal(db *sql.DB) (*SQLJournal, error) {
	if err := EnsureSchema(db); err != nil {
		return nil, err
	}
	return &SQLJournal{db: db}, nil
}

// Append records one turn. ctx is honoured for cancellation only.
func (j *SQLJournal) Append(ctx context.Context, entry TurnEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return LogTurn(j.db, entry)
}

// #endregion journal

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
