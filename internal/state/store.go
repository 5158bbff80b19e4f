package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS session_versions (
	version_id    TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	parent_id     TEXT,
	version       INTEGER NOT NULL,
	state_json    TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES session_versions(version_id)
);

CREATE INDEX IF NOT EXISTS idx_session_versions_session
	ON session_versions(session_id, version);

CREATE TABLE IF NOT EXISTS active_session (
	session_id    TEXT PRIMARY KEY,
	version_id    TEXT NOT NULL,
	version       INTEGER NOT NULL,
	FOREIGN KEY (version_id) REFERENCES session_versions(version_id)
);
`

// #endregion schema

// #region store-struct
// SQLiteStore keeps every committed version of every session plus a pointer
// to the active one, so sessions can be inspected and rolled back.
type SQLiteStore struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; concurrent sessions queue on the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreWithDB wraps an already-migrated database.
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region get
// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT v.version_id, v.parent_id, a.version, v.state_json, v.created_at
		 FROM active_session a JOIN session_versions v ON v.version_id = a.version_id
		 WHERE a.session_id = ?`, sessionID,
	)
	snap, err := scanSnapshot(row, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return snap, nil
}

// #endregion get

// #region commit
// Commit implements Store. The version row and the active pointer are written
// in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, snap *Snapshot) error {
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var stored Snapshot
	exists := true
	err = tx.QueryRowContext(ctx,
		`SELECT version_id, version FROM active_session WHERE session_id = ?`, snap.SessionID,
	).Scan(&stored.VersionID, &stored.Version)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("read active: %w", err)
	}

	parentID, err := checkVersion(&stored, exists, snap.Version)
	if err != nil {
		return err
	}

	next := *snap
	advance(&next, parentID)

	var parentPtr interface{}
	if next.ParentID != "" {
		parentPtr = next.ParentID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO session_versions (version_id, session_id, parent_id, version, state_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		next.VersionID, next.SessionID, parentPtr, next.Version, string(stateJSON),
		next.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_session (session_id, version_id, version) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET version_id = excluded.version_id, version = excluded.version`,
		next.SessionID, next.VersionID, next.Version,
	)
	if err != nil {
		return fmt.Errorf("update active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	*snap = next
	return nil
}

// #endregion commit

// #region rollback
// Rollback points a session at one of its earlier versions. The active version
// counter still advances so holders of the pre-rollback snapshot conflict.
func (s *SQLiteStore) Rollback(ctx context.Context, sessionID, targetVersionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_versions WHERE version_id = ? AND session_id = ?`,
		targetVersionID, sessionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s of session %s: %w", targetVersionID, sessionID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE active_session SET version_id = ?, version = version + 1 WHERE session_id = ?`,
		targetVersionID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return tx.Commit()
}

// #endregion rollback

// #region list-versions
// ListVersions returns a session's most recent versions, newest first.
func (s *SQLiteStore) ListVersions(ctx context.Context, sessionID string, limit int) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version_id, parent_id, version, state_json, created_at
		 FROM session_versions WHERE session_id = ? ORDER BY version DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows, sessionID)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// #endregion list-versions

// #region delete
// Delete implements Store. All versions of the session are removed.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_session WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete active: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_versions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete versions: %w", err)
	}
	return tx.Commit()
}

// #endregion delete

// #region scan
type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner, sessionID string) (*Snapshot, error) {
	snap := &Snapshot{SessionID: sessionID}
	var parentID sql.NullString
	var stateJSON, createdStr string
	if err := row.Scan(&snap.VersionID, &parentID, &snap.Version, &stateJSON, &createdStr); err != nil {
		return nil, err
	}
	if parentID.Valid {
		snap.ParentID = parentID.String
	}
	if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return snap, nil
}

// #endregion scan
