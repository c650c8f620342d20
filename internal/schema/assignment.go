package schema

import (
	"fmt"
	"time"
)

// Assignment records that a user is responsible for a note. Like comments,
// assignments inherit their sync scope from the parent note's group.
//
// Assignments are effectively immutable after creation apart from reassigning
// the assignee, so delta queries cut on CreatedAt rather than UpdatedAt.
type Assignment struct {
	ID         string    `json:"id"`
	NoteID     string    `json:"noteId"`
	AssigneeID string    `json:"assigneeId"`
	AssignedBy string    `json:"assignedBy"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Validate checks field values before an assignment is persisted.
func (a *Assignment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.NoteID == "" {
		return fmt.Errorf("note id is required")
	}
	if a.AssigneeID == "" {
		return fmt.Errorf("assignee id is required")
	}
	if a.AssignedBy == "" {
		return fmt.Errorf("assigned_by is required")
	}
	if a.Version < 1 {
		return fmt.Errorf("version must be at least 1 (got %d)", a.Version)
	}
	return nil
}

// AssignmentUpdatableFields are the payload keys a client may modify on an
// assignment.
var AssignmentUpdatableFields = map[string]bool{
	"assigneeId": true,
}
