package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notedeck/notedeck/internal/schema"
)

// Get retrieves a single record by id from the given table.
//
// The returned record carries its resolved GroupID: for comments and
// assignments the group is inherited from the parent note.
// Returns schema.ErrNotFound if no such record exists.
func (db *DB) Get(ctx context.Context, table schema.Table, id string) (*schema.Record, error) {
	query, scan, err := selectByID(table)
	if err != nil {
		return nil, err
	}

	rec, err := scan(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record %s: %w", table, id, err)
	}
	return rec, nil
}

// CreateVersioned inserts a new record with version 1 and both timestamps
// set to now. The record's soft fields are validated against the target
// table before the insert.
func (db *DB) CreateVersioned(ctx context.Context, table schema.Table, rec *schema.Record) (*schema.Record, error) {
	now := time.Now().UTC().Truncate(time.Second)
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	switch table {
	case schema.TableNotes:
		return db.createNote(ctx, rec)
	case schema.TableComments:
		return db.createComment(ctx, rec)
	case schema.TableAssignments:
		return db.createAssignment(ctx, rec)
	default:
		return nil, fmt.Errorf("unsupported table %q", table)
	}
}

func (db *DB) createNote(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	note := &schema.Note{
		ID:        rec.ID,
		GroupID:   rec.GroupID,
		AuthorID:  rec.Field("authorId"),
		Title:     rec.Field("title"),
		Content:   rec.Field("content"),
		Status:    rec.Field("status"),
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if note.Status == "" {
		note.Status = schema.NoteStatusOpen
	}
	note.ContentHash = schema.ContentHash(note.Content)
	if err := note.Validate(); err != nil {
		return nil, fmt.Errorf("invalid note: %w", err)
	}

	query := `
	INSERT INTO notes (id, group_id, author_id, title, content, status,
	                   content_hash, version, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		note.ID, note.GroupID, note.AuthorID, note.Title, note.Content,
		note.Status, note.ContentHash, note.Version,
		formatTime(note.CreatedAt), formatTime(note.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}
	return db.Get(ctx, schema.TableNotes, note.ID)
}

func (db *DB) createComment(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	comment := &schema.Comment{
		ID:        rec.ID,
		NoteID:    rec.Field("noteId"),
		AuthorID:  rec.Field("authorId"),
		Content:   rec.Field("content"),
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	comment.ContentHash = schema.ContentHash(comment.Content)
	if err := comment.Validate(); err != nil {
		return nil, fmt.Errorf("invalid comment: %w", err)
	}

	query := `
	INSERT INTO comments (id, note_id, author_id, content, content_hash,
	                      version, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		comment.ID, comment.NoteID, comment.AuthorID, comment.Content,
		comment.ContentHash, comment.Version,
		formatTime(comment.CreatedAt), formatTime(comment.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert comment: %w", err)
	}
	return db.Get(ctx, schema.TableComments, comment.ID)
}

func (db *DB) createAssignment(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	assignment := &schema.Assignment{
		ID:         rec.ID,
		NoteID:     rec.Field("noteId"),
		AssigneeID: rec.Field("assigneeId"),
		AssignedBy: rec.Field("assignedBy"),
		Version:    rec.Version,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if err := assignment.Validate(); err != nil {
		return nil, fmt.Errorf("invalid assignment: %w", err)
	}

	query := `
	INSERT INTO assignments (id, note_id, assignee_id, assigned_by,
	                         version, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		assignment.ID, assignment.NoteID, assignment.AssigneeID,
		assignment.AssignedBy, assignment.Version,
		formatTime(assignment.CreatedAt), formatTime(assignment.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}
	return db.Get(ctx, schema.TableAssignments, assignment.ID)
}

// updatableColumns maps client payload keys to columns, per table.
// Keys absent here are silently ignored so clients may echo full objects.
var updatableColumns = map[schema.Table]map[string]string{
	schema.TableNotes: {
		"title":   "title",
		"content": "content",
		"status":  "status",
	},
	schema.TableComments: {
		"content": "content",
	},
	schema.TableAssignments: {
		"assigneeId": "assignee_id",
	},
}

// UpdateVersioned applies the given payload fields to the record iff its
// current version equals expectedVersion, incrementing the version by
// exactly 1 and bumping updated_at in the same statement. Each changed field
// is validated against the table's constraints before the write, so an
// update can never persist a value the create path would reject.
//
// The write is a single conditional UPDATE with the affected-row count
// checked; there is no read-then-write window. When zero rows are affected
// the record is re-read to distinguish schema.ErrNotFound from
// schema.ErrVersionConflict.
//
// Returns the refreshed record on success.
func (db *DB) UpdateVersioned(ctx context.Context, table schema.Table, id string, fields map[string]any, expectedVersion int64) (*schema.Record, error) {
	columns, ok := updatableColumns[table]
	if !ok {
		return nil, fmt.Errorf("unsupported table %q", table)
	}

	var sets []string
	var args []interface{}
	touchedContent := false

	for key, col := range columns {
		v, present := fields[key]
		if !present {
			continue
		}
		s, isString := v.(string)
		if !isString {
			return nil, fmt.Errorf("field %q must be a string", key)
		}
		if err := schema.ValidateFieldValue(table, key, s); err != nil {
			return nil, fmt.Errorf("invalid %s update: %w", table, err)
		}
		sets = append(sets, col+" = ?")
		args = append(args, s)
		if key == "content" {
			touchedContent = true
		}
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("payload contains no updatable fields for %s", table)
	}

	if touchedContent {
		content, _ := schema.StringField(fields, "content")
		sets = append(sets, "content_hash = ?")
		args = append(args, schema.ContentHash(content))
	}

	sets = append(sets, "version = version + 1", "updated_at = ?")
	args = append(args, formatTime(time.Now()))

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND version = ?",
		table, strings.Join(sets, ", "))
	args = append(args, id, expectedVersion)

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s record %s: %w", table, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		// Either the record is gone or a concurrent writer advanced the
		// version between our read and this write.
		if _, err := db.Get(ctx, table, id); err != nil {
			return nil, err
		}
		return nil, schema.ErrVersionConflict
	}

	return db.Get(ctx, table, id)
}

// Delete removes a record. Returns whether a row was actually deleted;
// deleting a nonexistent record is not an error (idempotent delete).
func (db *DB) Delete(ctx context.Context, table schema.Table, id string) (bool, error) {
	if !table.Valid() {
		return false, fmt.Errorf("unsupported table %q", table)
	}
	res, err := db.conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s record %s: %w", table, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// ListUpdatedSince returns every record in the given groups whose cutoff
// column is at or after the cutoff instant. Notes and comments cut on
// updated_at; assignments cut on created_at.
func (db *DB) ListUpdatedSince(ctx context.Context, table schema.Table, groupIDs []string, cutoff time.Time) ([]*schema.Record, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	var query string
	switch table {
	case schema.TableNotes:
		query = `
		SELECT n.id, n.group_id, n.author_id, n.title, n.content, n.status,
		       n.content_hash, n.version, n.created_at, n.updated_at
		FROM notes n
		WHERE n.group_id IN (` + placeholders(len(groupIDs)) + `)
		  AND n.updated_at >= ?
		ORDER BY n.updated_at ASC, n.id ASC`
	case schema.TableComments:
		query = `
		SELECT c.id, n.group_id, c.note_id, c.author_id, c.content,
		       c.content_hash, c.version, c.created_at, c.updated_at
		FROM comments c
		JOIN notes n ON n.id = c.note_id
		WHERE n.group_id IN (` + placeholders(len(groupIDs)) + `)
		  AND c.updated_at >= ?
		ORDER BY c.updated_at ASC, c.id ASC`
	case schema.TableAssignments:
		query = `
		SELECT a.id, n.group_id, a.note_id, a.assignee_id, a.assigned_by,
		       a.version, a.created_at, a.updated_at
		FROM assignments a
		JOIN notes n ON n.id = a.note_id
		WHERE n.group_id IN (` + placeholders(len(groupIDs)) + `)
		  AND a.created_at >= ?
		ORDER BY a.created_at ASC, a.id ASC`
	default:
		return nil, fmt.Errorf("unsupported table %q", table)
	}

	args := make([]interface{}, 0, len(groupIDs)+1)
	for _, g := range groupIDs {
		args = append(args, g)
	}
	args = append(args, formatTime(cutoff))

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s since cutoff: %w", table, err)
	}
	defer rows.Close()

	var records []*schema.Record
	for rows.Next() {
		rec, err := scanRecord(table, rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s records: %w", table, err)
	}
	return records, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// selectByID returns the single-record query and scanner for a table.
func selectByID(table schema.Table) (string, func(rowScanner) (*schema.Record, error), error) {
	switch table {
	case schema.TableNotes:
		return `
		SELECT n.id, n.group_id, n.author_id, n.title, n.content, n.status,
		       n.content_hash, n.version, n.created_at, n.updated_at
		FROM notes n WHERE n.id = ?`, scanNote, nil
	case schema.TableComments:
		return `
		SELECT c.id, n.group_id, c.note_id, c.author_id, c.content,
		       c.content_hash, c.version, c.created_at, c.updated_at
		FROM comments c JOIN notes n ON n.id = c.note_id
		WHERE c.id = ?`, scanComment, nil
	case schema.TableAssignments:
		return `
		SELECT a.id, n.group_id, a.note_id, a.assignee_id, a.assigned_by,
		       a.version, a.created_at, a.updated_at
		FROM assignments a JOIN notes n ON n.id = a.note_id
		WHERE a.id = ?`, scanAssignment, nil
	default:
		return "", nil, fmt.Errorf("unsupported table %q", table)
	}
}

// scanRecord dispatches to the per-table scanner.
func scanRecord(table schema.Table, row rowScanner) (*schema.Record, error) {
	switch table {
	case schema.TableNotes:
		return scanNote(row)
	case schema.TableComments:
		return scanComment(row)
	case schema.TableAssignments:
		return scanAssignment(row)
	default:
		return nil, fmt.Errorf("unsupported table %q", table)
	}
}

func scanNote(row rowScanner) (*schema.Record, error) {
	var rec schema.Record
	var authorID, title, content, status, contentHash string
	var createdAt, updatedAt string

	err := row.Scan(&rec.ID, &rec.GroupID, &authorID, &title, &content,
		&status, &contentHash, &rec.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.Fields = map[string]any{
		"groupId":     rec.GroupID,
		"authorId":    authorID,
		"title":       title,
		"content":     content,
		"status":      status,
		"contentHash": contentHash,
	}
	return &rec, nil
}

func scanComment(row rowScanner) (*schema.Record, error) {
	var rec schema.Record
	var noteID, authorID, content, contentHash string
	var createdAt, updatedAt string

	err := row.Scan(&rec.ID, &rec.GroupID, &noteID, &authorID, &content,
		&contentHash, &rec.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.Fields = map[string]any{
		"groupId":     rec.GroupID,
		"noteId":      noteID,
		"authorId":    authorID,
		"content":     content,
		"contentHash": contentHash,
	}
	return &rec, nil
}

func scanAssignment(row rowScanner) (*schema.Record, error) {
	var rec schema.Record
	var noteID, assigneeID, assignedBy string
	var createdAt, updatedAt string

	err := row.Scan(&rec.ID, &rec.GroupID, &noteID, &assigneeID, &assignedBy,
		&rec.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.Fields = map[string]any{
		"groupId":    rec.GroupID,
		"noteId":     noteID,
		"assigneeId": assigneeID,
		"assignedBy": assignedBy,
	}
	return &rec, nil
}
