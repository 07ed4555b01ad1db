package objectstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
)

// DuckDBStore is the default Store implementation: every write appends a
// new row to object_versions and repoints object_heads at it, so rollback
// is just "read an older version, write it again".
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore opens (or creates) a DuckDB-backed object store at dbPath.
func NewDuckDBStore(dbPath string) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &DuckDBStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}
	return s, nil
}

func (s *DuckDBStore) initialize() error {
	schema := `
		CREATE TABLE IF NOT EXISTS object_versions (
			path VARCHAR NOT NULL,
			version_id VARCHAR NOT NULL,
			content TEXT NOT NULL,
			size BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (path, version_id)
		);

		CREATE TABLE IF NOT EXISTS object_heads (
			path VARCHAR PRIMARY KEY,
			version_id VARCHAR NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT false
		);

		CREATE INDEX IF NOT EXISTS idx_object_versions_path ON object_versions (path);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *DuckDBStore) Close() error { return s.db.Close() }

// Read returns the current head of path, or nil if it does not exist or
// was deleted.
func (s *DuckDBStore) Read(ctx context.Context, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT v.content, v.size, v.updated_at, v.version_id
		FROM object_heads h
		JOIN object_versions v ON v.path = h.path AND v.version_id = h.version_id
		WHERE h.path = ? AND h.deleted = false
	`, path)

	var f File
	f.Path = path
	if err := row.Scan(&f.Content, &f.Size, &f.UpdatedAt, &f.VersionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &f, nil
}

// Write creates a new version of path and makes it the head.
func (s *DuckDBStore) Write(ctx context.Context, path, content string) (WriteResult, error) {
	versionID := uuid.New().String()
	now := time.Now().UTC()
	size := len(content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", path, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO object_versions (path, version_id, content, size, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, path, versionID, content, size, now); err != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", path, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO object_heads (path, version_id, updated_at, deleted)
		VALUES (?, ?, ?, false)
		ON CONFLICT (path) DO UPDATE SET version_id = excluded.version_id,
			updated_at = excluded.updated_at, deleted = false
	`, path, versionID, now); err != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", path, err)
	}
	return WriteResult{VersionID: versionID}, nil
}

// List returns objects under prefix. Non-recursive listings collapse
// deeper paths into synthetic directory entries ending in "/".
func (s *DuckDBStore) List(ctx context.Context, prefix string, recursive bool) ([]ListEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.path, v.size, v.updated_at
		FROM object_heads h
		JOIN object_versions v ON v.path = h.path AND v.version_id = h.version_id
		WHERE h.deleted = false AND h.path LIKE ? ESCAPE '\'
		ORDER BY h.path
	`, likePrefix(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	var entries []ListEntry
	dirs := make(map[string]time.Time)

	for rows.Next() {
		var path string
		var size int
		var updatedAt time.Time
		if err := rows.Scan(&path, &size, &updatedAt); err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		if !recursive {
			if idx := strings.Index(rest, "/"); idx >= 0 {
				dirPath := prefix + rest[:idx+1]
				if updatedAt.After(dirs[dirPath]) {
					dirs[dirPath] = updatedAt
				}
				continue
			}
		}
		entries = append(entries, ListEntry{Path: path, Size: size, UpdatedAt: updatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	for dirPath, updatedAt := range dirs {
		entries = append(entries, ListEntry{Path: dirPath, UpdatedAt: updatedAt, IsDir: true})
	}
	return entries, nil
}

// Delete marks path as deleted. Prior versions remain available through
// GetVersions/GetVersion.
func (s *DuckDBStore) Delete(ctx context.Context, path string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE object_heads SET deleted = true, updated_at = ? WHERE path = ? AND deleted = false
	`, time.Now().UTC(), path)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if rows == 0 {
		return fmt.Errorf("delete %s: not found", path)
	}
	return nil
}

// GetVersions returns up to limit historical versions for path, newest first.
func (s *DuckDBStore) GetVersions(ctx context.Context, path string, limit int) ([]VersionInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, updated_at, size FROM object_versions
		WHERE path = ? ORDER BY updated_at DESC LIMIT ?
	`, path, limit)
	if err != nil {
		return nil, fmt.Errorf("get versions %s: %w", path, err)
	}
	defer rows.Close()

	var out []VersionInfo
	for rows.Next() {
		var v VersionInfo
		if err := rows.Scan(&v.VersionID, &v.Timestamp, &v.Size); err != nil {
			return nil, fmt.Errorf("get versions %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVersion returns the content stored under a specific version id.
func (s *DuckDBStore) GetVersion(ctx context.Context, path, versionID string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM object_versions WHERE path = ? AND version_id = ?
	`, path, versionID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get version %s@%s: %w", path, versionID, err)
	}
	return content, true, nil
}

func likePrefix(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
