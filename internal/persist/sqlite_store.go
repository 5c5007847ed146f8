package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS prune_sessions (
	session_id TEXT PRIMARY KEY,
	snapshot   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps snapshots in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and creates) the database. An empty dsn places the
// database file at dir/prune.db.
func OpenSQLiteStore(ctx context.Context, dir, dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		if dir == "" {
			return nil, errors.New("sqlite store: directory or dsn required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		dsn = filepath.Join(dir, "prune.db")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	if sessionID == "" {
		return nil, nil
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM prune_sessions WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sessionID string, snap Snapshot) error {
	if sessionID == "" {
		return nil
	}
	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = time.Now()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prune_sessions (session_id, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		sessionID, string(data), snap.LastUpdated.Unix())
	return err
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
