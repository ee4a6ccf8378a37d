package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite is the production Store backed by an embedded SQLite database in
// WAL mode. One handle is shared across all sync workers; SQLite's WAL
// allows concurrent readers during writes, and the per-spec serialization
// upstream keeps same-spec writes from interleaving.
type SQLite struct {
	conn *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// Open creates (if needed) and opens the database at path, enabling WAL
// mode and initializing the schema. The caller must Close it.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Close checkpoints the WAL and closes the connection.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// initSchema creates the tables and indexes. Idempotent.
func (s *SQLite) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_records (
		display_id TEXT PRIMARY KEY,
		spec_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		dependency_ids TEXT NOT NULL DEFAULT '[]',  -- JSON array
		origin TEXT NOT NULL DEFAULT 'spec',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		spec_id TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		last_synced_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_records_spec ON task_records(spec_id);
	CREATE INDEX IF NOT EXISTS idx_task_records_status ON task_records(spec_id, status);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// UpsertTask inserts or updates a record. Origin and created_at are
// preserved on update so a record keeps its identity across field changes.
func (s *SQLite) UpsertTask(ctx context.Context, rec *TaskRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid task record: %w", err)
	}

	depsJSON, err := json.Marshal(rec.DependencyIDs)
	if err != nil {
		return fmt.Errorf("marshal dependency ids: %w", err)
	}

	query := `
	INSERT INTO task_records (
		display_id, spec_id, tag_id, title, scope, status,
		dependency_ids, origin, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(display_id) DO UPDATE SET
		title = excluded.title,
		scope = excluded.scope,
		status = excluded.status,
		dependency_ids = excluded.dependency_ids,
		updated_at = excluded.updated_at
	`
	_, err = s.conn.ExecContext(ctx, query,
		rec.DisplayID,
		rec.SpecID,
		rec.TagID,
		rec.Title,
		rec.Scope,
		rec.Status,
		string(depsJSON),
		rec.Origin,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", rec.DisplayID, err)
	}
	return nil
}

// GetTasksBySpec returns all records for a spec ordered by tag id.
func (s *SQLite) GetTasksBySpec(ctx context.Context, specID string) ([]*TaskRecord, error) {
	query := `
	SELECT display_id, spec_id, tag_id, title, scope, status,
	       dependency_ids, origin, created_at, updated_at
	FROM task_records WHERE spec_id = ? ORDER BY tag_id
	`
	rows, err := s.conn.QueryContext(ctx, query, specID)
	if err != nil {
		return nil, fmt.Errorf("query tasks for %s: %w", specID, err)
	}
	defer rows.Close()

	var records []*TaskRecord
	for rows.Next() {
		rec, err := scanTaskRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks for %s: %w", specID, err)
	}
	return records, nil
}

func scanTaskRecord(rows *sql.Rows) (*TaskRecord, error) {
	var (
		rec                  TaskRecord
		depsJSON             string
		createdAt, updatedAt string
	)
	if err := rows.Scan(
		&rec.DisplayID, &rec.SpecID, &rec.TagID, &rec.Title, &rec.Scope,
		&rec.Status, &depsJSON, &rec.Origin, &createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan task record: %w", err)
	}
	if err := json.Unmarshal([]byte(depsJSON), &rec.DependencyIDs); err != nil {
		return nil, fmt.Errorf("unmarshal dependency ids for %s: %w", rec.DisplayID, err)
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", rec.DisplayID, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", rec.DisplayID, err)
	}
	return &rec, nil
}

// DeleteTasks removes the given tag ids for a spec. Missing ids are not
// an error (idempotent).
func (s *SQLite) DeleteTasks(ctx context.Context, specID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(tagIDs)-1) + "?"
	query := fmt.Sprintf(
		"DELETE FROM task_records WHERE spec_id = ? AND tag_id IN (%s)", placeholders)

	args := make([]any, 0, len(tagIDs)+1)
	args = append(args, specID)
	for _, id := range tagIDs {
		args = append(args, id)
	}
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete tasks for %s: %w", specID, err)
	}
	return nil
}

// GetSyncState returns the checkpoint for a spec, or nil when the spec has
// never synced.
func (s *SQLite) GetSyncState(ctx context.Context, specID string) (*SyncState, error) {
	var (
		state        SyncState
		lastSyncedAt string
	)
	err := s.conn.QueryRowContext(ctx,
		"SELECT spec_id, content_hash, last_synced_at FROM sync_state WHERE spec_id = ?",
		specID,
	).Scan(&state.SpecID, &state.ContentHash, &lastSyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sync state for %s: %w", specID, err)
	}
	if state.LastSyncedAt, err = time.Parse(time.RFC3339, lastSyncedAt); err != nil {
		return nil, fmt.Errorf("parse last_synced_at for %s: %w", specID, err)
	}
	return &state, nil
}

// PutSyncState records a checkpoint.
func (s *SQLite) PutSyncState(ctx context.Context, state *SyncState) error {
	query := `
	INSERT INTO sync_state (spec_id, content_hash, last_synced_at)
	VALUES (?, ?, ?)
	ON CONFLICT(spec_id) DO UPDATE SET
		content_hash = excluded.content_hash,
		last_synced_at = excluded.last_synced_at
	`
	_, err := s.conn.ExecContext(ctx, query,
		state.SpecID, state.ContentHash, state.LastSyncedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put sync state for %s: %w", state.SpecID, err)
	}
	return nil
}

// DeleteSyncState removes a spec's checkpoint.
func (s *SQLite) DeleteSyncState(ctx context.Context, specID string) error {
	_, err := s.conn.ExecContext(ctx,
		"DELETE FROM sync_state WHERE spec_id = ?", specID)
	if err != nil {
		return fmt.Errorf("delete sync state for %s: %w", specID, err)
	}
	return nil
}

// ListSpecIDs returns the distinct spec ids with task records, sorted.
func (s *SQLite) ListSpecIDs(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT DISTINCT spec_id FROM task_records ORDER BY spec_id")
	if err != nil {
		return nil, fmt.Errorf("list spec ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan spec id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spec ids: %w", err)
	}
	return ids, nil
}
