// Package queue provides the durable per-user pending-change queue.
//
// The queue is a holding area for mutations that could not be reconciled
// synchronously — a client that cannot reach the sync endpoint hands its
// changes to the queue, and a background worker (or an explicit drain call)
// later pushes them through the same apply logic the reconciliation engine
// uses.
//
// Drain is FIFO by enqueue order within one call, which preserves causality
// for entries touching the same record. Drain is NOT safe to run
// concurrently for the same user: two drains could apply the same update
// against different version baselines. The damage is bounded — the store's
// version check turns the race into a spurious conflict rather than silent
// corruption — but callers should still serialize drains per user.
//
// There is no automatic backoff scheduling here; retry cadence is the
// concern of whatever schedules Drain.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/notedeck/notedeck/internal/schema"
)

// Entry statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusConflicted = "conflicted"
)

// Applier applies a single pending change for a user. The reconciliation
// engine implements it.
type Applier interface {
	ApplyChange(ctx context.Context, userID string, change schema.PendingChange) schema.ProcessedChange
}

// Entry is one queued change with its processing state.
type Entry struct {
	ID         int64                `json:"id"`
	UserID     string               `json:"userId"`
	Change     schema.PendingChange `json:"change"`
	Status     string               `json:"status"`
	RetryCount int                  `json:"retryCount"`
	LastError  string               `json:"lastError,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed  int `json:"processed"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Conflicted int `json:"conflicted"`
}

// Queue is a durable, per-user FIFO of unreconciled changes backed by the
// pending_queue table.
type Queue struct {
	conn    *sql.DB
	applier Applier
	logger  *log.Logger
}

// New creates a Queue over an open database connection. The pending_queue
// table must already exist (see store.InitSchema). If logger is nil, a
// default logger writing to stderr is used.
func New(conn *sql.DB, applier Applier, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{conn: conn, applier: applier, logger: logger}
}

// Enqueue persists a change with status pending and retry count 0.
func (q *Queue) Enqueue(ctx context.Context, userID string, change schema.PendingChange) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if err := change.Validate(); err != nil {
		return fmt.Errorf("invalid change: %w", err)
	}

	payload, err := json.Marshal(change.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
	INSERT INTO pending_queue (user_id, change_id, table_name, record_id,
	                           action, payload, client_version, client_timestamp,
	                           status, retry_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)
	`
	_, err = q.conn.ExecContext(ctx, query,
		userID, change.ID, string(change.Table), change.RecordID,
		string(change.Action), string(payload), nullableVersion(change.ClientVersion),
		nullableTime(change.ClientTimestamp),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue change %s: %w", change.ID, err)
	}

	q.logger.Printf("Enqueued change %s for user %s (%s %s)",
		change.ID, userID, change.Action, change.Table)
	return nil
}

// Drain processes the user's pending and previously failed entries in
// enqueue order, applying each through the engine's apply path. Entries
// stranded in processing by an interrupted drain are picked up too; since
// drains are serialized per user, a processing entry at load time can only
// be a leftover, never live work.
//
// Outcomes map to statuses: success → completed, conflict → conflicted
// (retained for user resolution, never auto-retried), error → failed with
// the retry count incremented and the message recorded. A failure never
// stops the pass.
func (q *Queue) Drain(ctx context.Context, userID string) (*DrainResult, error) {
	entries, err := q.load(ctx, userID, StatusPending, StatusFailed, StatusProcessing)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{}
	for _, entry := range entries {
		result.Processed++

		if err := q.setStatus(ctx, entry.ID, StatusProcessing, ""); err != nil {
			q.logger.Printf("Warning: failed to mark entry %d processing: %v", entry.ID, err)
		}

		outcome := q.applier.ApplyChange(ctx, userID, entry.Change)
		switch outcome.Status {
		case schema.StatusSuccess:
			result.Completed++
			if err := q.setStatus(ctx, entry.ID, StatusCompleted, ""); err != nil {
				q.logger.Printf("Warning: failed to mark entry %d completed: %v", entry.ID, err)
			}
		case schema.StatusConflict:
			result.Conflicted++
			if err := q.setStatus(ctx, entry.ID, StatusConflicted, "version conflict"); err != nil {
				q.logger.Printf("Warning: failed to mark entry %d conflicted: %v", entry.ID, err)
			}
		default:
			result.Failed++
			if err := q.markFailed(ctx, entry.ID, outcome.Error); err != nil {
				q.logger.Printf("Warning: failed to mark entry %d failed: %v", entry.ID, err)
			}
		}
	}

	q.logger.Printf("Drained %d entries for user %s: completed=%d failed=%d conflicted=%d",
		result.Processed, userID, result.Completed, result.Failed, result.Conflicted)
	return result, nil
}

// List returns the user's entries with the given statuses (all if none
// given), in enqueue order.
func (q *Queue) List(ctx context.Context, userID string, statuses ...string) ([]Entry, error) {
	return q.load(ctx, userID, statuses...)
}

// Remove deletes an entry, typically after the user resolved a conflict.
func (q *Queue) Remove(ctx context.Context, entryID int64) error {
	_, err := q.conn.ExecContext(ctx, `DELETE FROM pending_queue WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry %d: %w", entryID, err)
	}
	return nil
}

// UsersWithPending returns the ids of users that have drainable entries.
// Used by the background worker to decide whose queues to drain.
func (q *Queue) UsersWithPending(ctx context.Context) ([]string, error) {
	rows, err := q.conn.QueryContext(ctx, `
	SELECT DISTINCT user_id FROM pending_queue
	WHERE status IN ('pending', 'failed', 'processing')
	ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users with pending entries: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// Stats returns per-status entry counts for the user.
func (q *Queue) Stats(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := q.conn.QueryContext(ctx, `
	SELECT status, COUNT(*) FROM pending_queue
	WHERE user_id = ?
	GROUP BY status`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue stats: %w", err)
	}
	return stats, nil
}

// load fetches entries for a user filtered by status, in enqueue order.
func (q *Queue) load(ctx context.Context, userID string, statuses ...string) ([]Entry, error) {
	query := `
	SELECT id, user_id, change_id, table_name, record_id, action, payload,
	       client_version, client_timestamp, status, retry_count, last_error,
	       created_at, updated_at
	FROM pending_queue
	WHERE user_id = ?`
	args := []interface{}{userID}

	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += " ORDER BY id ASC"

	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var tableName, action string
		var recordID, payload, lastError, clientTimestamp sql.NullString
		var clientVersion sql.NullInt64
		var createdAt, updatedAt string

		err := rows.Scan(&e.ID, &e.UserID, &e.Change.ID, &tableName,
			&recordID, &action, &payload, &clientVersion, &clientTimestamp,
			&e.Status, &e.RetryCount, &lastError, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}

		e.Change.Table = schema.Table(tableName)
		e.Change.Action = schema.Action(action)
		e.Change.RecordID = recordID.String
		e.LastError = lastError.String
		if clientVersion.Valid {
			v := clientVersion.Int64
			e.Change.ClientVersion = &v
		}
		if clientTimestamp.Valid {
			if t, err := time.Parse(time.RFC3339, clientTimestamp.String); err == nil {
				e.Change.ClientTimestamp = t
			}
		}
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Change.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload for entry %d: %w", e.ID, err)
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			e.UpdatedAt = t
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}

// setStatus updates an entry's status and error message.
func (q *Queue) setStatus(ctx context.Context, entryID int64, status, lastError string) error {
	_, err := q.conn.ExecContext(ctx, `
	UPDATE pending_queue SET status = ?, last_error = ?, updated_at = ?
	WHERE id = ?`,
		status, nullableString(lastError), time.Now().UTC().Format(time.RFC3339), entryID)
	return err
}

// markFailed records a failure and increments the retry counter.
func (q *Queue) markFailed(ctx context.Context, entryID int64, message string) error {
	_, err := q.conn.ExecContext(ctx, `
	UPDATE pending_queue
	SET status = 'failed', retry_count = retry_count + 1,
	    last_error = ?, updated_at = ?
	WHERE id = ?`,
		nullableString(message), time.Now().UTC().Format(time.RFC3339), entryID)
	return err
}

func nullableVersion(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
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
