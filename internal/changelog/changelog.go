// Package changelog provides the append-only change log recorder.
//
// Every mutation applied to a syncable entity is recorded with before/after
// snapshots, the acting user, and a timestamp. Entries are never mutated or
// deleted. The log is audit-only with one read contract: deletion deltas.
// Deleted records are not queryable from current-state storage, so the
// reconciliation engine derives "deleted since cutoff" from the log's delete
// entries. The group id is denormalized onto each entry at append time so
// that query stays scoped to the caller's groups after the record is gone.
//
// Appends are at-least-once: a duplicate entry is harmless because the log
// is never replayed for state reconstruction.
package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/notedeck/notedeck/internal/schema"
)

// Entry is one immutable change log row.
type Entry struct {
	ID       int64          `json:"id"`
	Table    schema.Table   `json:"tableName"`
	RecordID string         `json:"recordId"`
	GroupID  string         `json:"groupId"`
	Action   schema.Action  `json:"action"`
	OldData  map[string]any `json:"oldData,omitempty"`
	NewData  map[string]any `json:"newData,omitempty"`
	Actor    string         `json:"actor"`
	At       time.Time      `json:"at"`
}

// Log records entity mutations in the change_log table.
type Log struct {
	conn *sql.DB
}

// New creates a Log over an open database connection. The change_log table
// must already exist (see store.InitSchema).
func New(conn *sql.DB) *Log {
	return &Log{conn: conn}
}

// Record appends one entry. OldData is nil for creates, NewData is nil for
// deletes. The append must be durable before the enclosing reconciliation
// reports success for the corresponding change.
func (l *Log) Record(ctx context.Context, table schema.Table, recordID, groupID string, action schema.Action, oldData, newData map[string]any, actor string) error {
	oldJSON, err := marshalSnapshot(oldData)
	if err != nil {
		return fmt.Errorf("failed to marshal old data: %w", err)
	}
	newJSON, err := marshalSnapshot(newData)
	if err != nil {
		return fmt.Errorf("failed to marshal new data: %w", err)
	}

	query := `
	INSERT INTO change_log (table_name, record_id, group_id, action,
	                        old_data, new_data, actor, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = l.conn.ExecContext(ctx, query,
		string(table), recordID, groupID, string(action),
		oldJSON, newJSON, actor, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append change log entry: %w", err)
	}
	return nil
}

// DeletionsSince returns the ids of records deleted at or after the cutoff,
// grouped by table, restricted to the given groups.
func (l *Log) DeletionsSince(ctx context.Context, groupIDs []string, cutoff time.Time) (map[schema.Table][]string, error) {
	deletions := make(map[schema.Table][]string)
	if len(groupIDs) == 0 {
		return deletions, nil
	}

	query := `
	SELECT DISTINCT table_name, record_id
	FROM change_log
	WHERE action = 'delete'
	  AND created_at >= ?
	  AND group_id IN (` + placeholders(len(groupIDs)) + `)
	ORDER BY table_name, record_id`

	args := make([]interface{}, 0, len(groupIDs)+1)
	args = append(args, cutoff.UTC().Format(time.RFC3339))
	for _, g := range groupIDs {
		args = append(args, g)
	}

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deletions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, recordID string
		if err := rows.Scan(&table, &recordID); err != nil {
			return nil, fmt.Errorf("failed to scan deletion: %w", err)
		}
		deletions[schema.Table(table)] = append(deletions[schema.Table(table)], recordID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deletions: %w", err)
	}
	return deletions, nil
}

// EntriesFor returns the audit trail for one record, oldest first.
func (l *Log) EntriesFor(ctx context.Context, table schema.Table, recordID string) ([]Entry, error) {
	query := `
	SELECT id, table_name, record_id, group_id, action, old_data, new_data,
	       actor, created_at
	FROM change_log
	WHERE table_name = ? AND record_id = ?
	ORDER BY id ASC`

	rows, err := l.conn.QueryContext(ctx, query, string(table), recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var tableName, action, createdAt string
		var oldJSON, newJSON sql.NullString

		err := rows.Scan(&e.ID, &tableName, &e.RecordID, &e.GroupID,
			&action, &oldJSON, &newJSON, &e.Actor, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change log entry: %w", err)
		}

		e.Table = schema.Table(tableName)
		e.Action = schema.Action(action)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.At = t
		}
		if e.OldData, err = unmarshalSnapshot(oldJSON); err != nil {
			return nil, err
		}
		if e.NewData, err = unmarshalSnapshot(newJSON); err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change log: %w", err)
	}
	return entries, nil
}

func marshalSnapshot(data map[string]any) (sql.NullString, error) {
	if data == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalSnapshot(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(ns.String), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return data, nil
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
