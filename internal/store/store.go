// Package store provides the versioned record store for notedeck.
//
// The store is an embedded SQLite database (via ncruces/go-sqlite3) opened in
// WAL mode for concurrent reads during writes. It owns physical storage for
// every syncable entity and enforces the version invariant atomically: an
// update is only ever applied as a conditional write
//
//	UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?
//
// with the affected-row count checked. A naive read-then-write would let two
// concurrent updates commit against the same stale version, silently dropping
// one — the conditional write is the single most safety-critical invariant in
// the sync subsystem.
//
// Schema:
//   - groups, group_members: authorization scope
//   - notes, comments, assignments: syncable entities, each with a version
//     counter and created_at/updated_at timestamps
//   - change_log: immutable audit trail, also the source of deletion deltas
//   - pending_queue: per-user durable queue of unreconciled changes
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with notedeck-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema to
// create the tables.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	db, err := store.Open(".notedeck/notedeck.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// WAL mode for concurrent readers during reconciliation writes
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Authorization scope
	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		added_at TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id),
		FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
	);

	-- Syncable entities
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		content_hash TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		note_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (note_id) REFERENCES notes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		note_id TEXT NOT NULL,
		assignee_id TEXT NOT NULL,
		assigned_by TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (note_id) REFERENCES notes(id) ON DELETE CASCADE
	);

	-- Immutable audit trail; group_id is denormalized at append time so
	-- deletion deltas remain group-scoped after the record itself is gone.
	CREATE TABLE IF NOT EXISTS change_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		action TEXT NOT NULL,
		old_data TEXT,
		new_data TEXT,
		actor TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Per-user durable queue of unreconciled changes
	CREATE TABLE IF NOT EXISTS pending_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		change_id TEXT NOT NULL,
		table_name TEXT NOT NULL,
		record_id TEXT,
		action TEXT NOT NULL,
		payload TEXT,
		client_version INTEGER,
		client_timestamp TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Indexes for delta queries
	CREATE INDEX IF NOT EXISTS idx_members_user ON group_members(user_id);
	CREATE INDEX IF NOT EXISTS idx_notes_group ON notes(group_id);
	CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(group_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_comments_note ON comments(note_id);
	CREATE INDEX IF NOT EXISTS idx_comments_updated ON comments(updated_at);
	CREATE INDEX IF NOT EXISTS idx_assignments_note ON assignments(note_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_created ON assignments(created_at);
	CREATE INDEX IF NOT EXISTS idx_changelog_action_time
	    ON change_log(action, created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_user_status
	    ON pending_queue(user_id, status, created_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// CreateGroup inserts a group. Existing groups are updated in place so seed
// files can be re-applied.
func (db *DB) CreateGroup(ctx context.Context, id, name string) error {
	query := `
	INSERT INTO groups (id, name, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`
	_, err := db.conn.ExecContext(ctx, query, id, name, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to create group %s: %w", id, err)
	}
	return nil
}

// AddMember adds a user to a group. Idempotent.
func (db *DB) AddMember(ctx context.Context, groupID, userID string) error {
	query := `
	INSERT INTO group_members (group_id, user_id, added_at)
	VALUES (?, ?, ?)
	ON CONFLICT(group_id, user_id) DO NOTHING
	`
	_, err := db.conn.ExecContext(ctx, query, groupID, userID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to add member %s to group %s: %w", userID, groupID, err)
	}
	return nil
}

// MembershipsOf returns the ids of every group the user belongs to.
// An empty result means the user can see nothing.
func (db *DB) MembershipsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT group_id FROM group_members WHERE user_id = ? ORDER BY group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}
	return groups, nil
}

// Counts returns per-table record counts for status reporting.
func (db *DB) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{"groups", "notes", "comments", "assignments", "change_log", "pending_queue"} {
		var n int
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// formatTime renders a timestamp for storage. All comparisons in delta
// queries happen on this representation, so it must sort lexicographically:
// UTC RFC3339 does.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime recovers a stored timestamp. Zero time on malformed input.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// placeholders builds a "?, ?, ?" list of n entries for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
