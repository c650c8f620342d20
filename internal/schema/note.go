package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Note statuses. Clients may only write one of these values.
const (
	NoteStatusOpen     = "open"
	NoteStatusInWork   = "in_progress"
	NoteStatusDone     = "done"
	NoteStatusArchived = "archived"
)

// Note is a team note/task owned by a group.
//
// Title, Content, and Status are the client-writable soft fields.
// ContentHash is an integrity fingerprint over Content maintained on every
// write; it is not consulted by conflict detection, which is version-based.
type Note struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"groupId"`
	AuthorID    string    `json:"authorId"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Status      string    `json:"status"`
	ContentHash string    `json:"contentHash,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks field values before a note is persisted.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.GroupID == "" {
		return fmt.Errorf("group id is required")
	}
	if n.AuthorID == "" {
		return fmt.Errorf("author id is required")
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(n.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(n.Title))
	}
	if !ValidNoteStatus(n.Status) {
		return fmt.Errorf("invalid status %q", n.Status)
	}
	if n.Version < 1 {
		return fmt.Errorf("version must be at least 1 (got %d)", n.Version)
	}
	return nil
}

// ValidNoteStatus reports whether s is a client-writable note status.
func ValidNoteStatus(s string) bool {
	switch s {
	case NoteStatusOpen, NoteStatusInWork, NoteStatusDone, NoteStatusArchived:
		return true
	}
	return false
}

// NoteUpdatableFields are the payload keys a client may modify on a note.
var NoteUpdatableFields = map[string]bool{
	"title":   true,
	"content": true,
	"status":  true,
}

// ContentHash returns the hex-encoded sha256 of the given content.
// Maintained as an optional integrity field on notes and comments.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
