package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Table identifies a syncable entity table.
type Table string

const (
	// TableNotes is the notes table.
	TableNotes Table = "notes"

	// TableComments is the comments table.
	TableComments Table = "comments"

	// TableAssignments is the assignments table.
	TableAssignments Table = "assignments"
)

// SyncableTables lists every table that participates in delta sync,
// in the order deltas are computed.
var SyncableTables = []Table{TableNotes, TableComments, TableAssignments}

// Valid reports whether t names a known syncable table.
func (t Table) Valid() bool {
	switch t {
	case TableNotes, TableComments, TableAssignments:
		return true
	}
	return false
}

// Action identifies a mutation kind submitted by a client.
type Action string

const (
	// ActionCreate inserts a new record.
	ActionCreate Action = "create"

	// ActionUpdate modifies an existing record, guarded by version.
	ActionUpdate Action = "update"

	// ActionDelete removes a record. Deletes are idempotent.
	ActionDelete Action = "delete"
)

// Valid reports whether a names a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Sentinel errors shared by the store, change log, and engine.
var (
	// ErrNotFound indicates the referenced record does not exist in the
	// caller's visible scope. Out-of-scope records report the same error
	// so existence never leaks across groups.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict indicates a conditional write lost the race:
	// the record's version no longer matches the expected version.
	ErrVersionConflict = errors.New("version conflict")
)

// Record is the flat, table-agnostic view of a syncable entity.
//
// The reconciliation engine operates on Records so that its apply and delta
// logic is identical for every table; the store is responsible for mapping
// Records to and from typed rows. Fields holds the entity's soft fields
// (title, content, status, note_id, ...) keyed by their wire names.
type Record struct {
	ID        string
	GroupID   string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Fields    map[string]any
}

// MarshalJSON flattens the record into a single JSON object: the identity
// and version columns merged with the soft fields.
func (r *Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+5)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["id"] = r.ID
	flat["version"] = r.Version
	flat["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339)
	flat["updatedAt"] = r.UpdatedAt.UTC().Format(time.RFC3339)
	return json.Marshal(flat)
}

// Field returns the named soft field as a string, or "" if absent.
func (r *Record) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	s, _ := r.Fields[name].(string)
	return s
}

// StringField extracts a string-valued field from an untyped payload.
// Returns the value and whether the key was present with a string value.
func StringField(payload map[string]any, key string) (string, bool) {
	if payload == nil {
		return "", false
	}
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ValidateFieldValue checks one updatable field value against the target
// table's constraints. An update payload merges into a record that was valid
// when created, so validating each changed field keeps the merged record
// valid without requiring a read before the conditional write.
func ValidateFieldValue(table Table, key, value string) error {
	switch table {
	case TableNotes:
		switch key {
		case "title":
			if value == "" {
				return fmt.Errorf("title is required")
			}
			if len(value) > 500 {
				return fmt.Errorf("title must be 500 characters or less (got %d)", len(value))
			}
		case "status":
			if !ValidNoteStatus(value) {
				return fmt.Errorf("invalid status %q", value)
			}
		}
	case TableComments:
		if key == "content" && value == "" {
			return fmt.Errorf("content is required")
		}
	case TableAssignments:
		if key == "assigneeId" && value == "" {
			return fmt.Errorf("assignee id is required")
		}
	}
	return nil
}

// ValidateTarget checks that the table/action pair names a supported
// mutation target.
func ValidateTarget(table Table, action Action) error {
	if !table.Valid() {
		return fmt.Errorf("unsupported table %q", table)
	}
	if !action.Valid() {
		return fmt.Errorf("unsupported action %q", action)
	}
	return nil
}
