package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps entries in a single SQLite database. Row-level upserts keep
// writers of different tokens independent; WAL mode lets readers proceed during writes.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and migrates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errbuilder.GenericErr("cannot create cache directory", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errbuilder.GenericErr("cannot open cache database", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS cache_entries (
  token TEXT PRIMARY KEY,
  tool_id TEXT NOT NULL,
  action_id TEXT NOT NULL,
  tool_version TEXT NOT NULL,
  payload TEXT NOT NULL,
  stored_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_tool ON cache_entries(tool_id);
CREATE TABLE IF NOT EXISTS tool_versions (
  tool_id TEXT PRIMARY KEY,
  version TEXT NOT NULL
);
`)
	if err != nil {
		return errbuilder.GenericErr("cannot migrate cache database", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, token string) (Entry, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM cache_entries WHERE token = ?`, token).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errbuilder.GenericErr("cannot query cache entry", err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil || entry.Token != token {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errbuilder.GenericErr("cannot encode cache entry", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO cache_entries (token, tool_id, action_id, tool_version, payload, stored_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(token) DO UPDATE SET
  tool_id = excluded.tool_id,
  action_id = excluded.action_id,
  tool_version = excluded.tool_version,
  payload = excluded.payload,
  stored_at = excluded.stored_at`,
		entry.Token, entry.ToolID, entry.ActionID, entry.ToolVersion, string(payload), entry.StoredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errbuilder.GenericErr("cannot store cache entry", err)
	}
	return nil
}

func (s *SQLiteStore) LoadManifest(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool_id, version FROM tool_versions`)
	if err != nil {
		return nil, errbuilder.GenericErr("cannot read version manifest", err)
	}
	defer rows.Close()
	versions := map[string]string{}
	for rows.Next() {
		var id, version string
		if err := rows.Scan(&id, &version); err != nil {
			return nil, errbuilder.GenericErr("cannot scan version manifest", err)
		}
		versions[id] = version
	}
	return versions, rows.Err()
}

func (s *SQLiteStore) SaveManifest(ctx context.Context, versions map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errbuilder.GenericErr("cannot begin manifest transaction", err)
	}
	defer tx.Rollback()
	for id, version := range versions {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO tool_versions (tool_id, version) VALUES (?, ?)
ON CONFLICT(tool_id) DO UPDATE SET version = excluded.version`, id, version); err != nil {
			return errbuilder.GenericErr("cannot store tool version", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errbuilder.GenericErr("cannot commit version manifest", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries; DELETE FROM tool_versions;`); err != nil {
		return errbuilder.GenericErr("cannot clear cache database", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
