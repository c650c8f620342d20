package schema

import (
	"fmt"
	"time"
)

// Comment is a discussion entry attached to a note. Comments inherit their
// sync scope from the parent note's group.
type Comment struct {
	ID          string    `json:"id"`
	NoteID      string    `json:"noteId"`
	AuthorID    string    `json:"authorId"`
	Content     string    `json:"content"`
	ContentHash string    `json:"contentHash,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks field values before a comment is persisted.
func (c *Comment) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.NoteID == "" {
		return fmt.Errorf("note id is required")
	}
	if c.AuthorID == "" {
		return fmt.Errorf("author id is required")
	}
	if c.Content == "" {
		return fmt.Errorf("content is required")
	}
	if c.Version < 1 {
		return fmt.Errorf("version must be at least 1 (got %d)", c.Version)
	}
	return nil
}

// CommentUpdatableFields are the payload keys a client may modify on a comment.
var CommentUpdatableFields = map[string]bool{
	"content": true,
}
