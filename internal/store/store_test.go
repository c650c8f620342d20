package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/notedeck/notedeck/internal/schema"
)

// setupDB opens a fresh database in a temp dir with schema and one group.
func setupDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}

	ctx := context.Background()
	if err := db.CreateGroup(ctx, "g1", "Engineering"); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	if err := db.AddMember(ctx, "g1", "alice"); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}

	return db
}

// createNote inserts a note and returns the stored record.
func createNote(t *testing.T, db *DB, id, groupID, title string) *schema.Record {
	t.Helper()

	rec, err := db.CreateVersioned(context.Background(), schema.TableNotes, &schema.Record{
		ID:      id,
		GroupID: groupID,
		Fields: map[string]any{
			"authorId": "alice",
			"title":    title,
			"content":  "body of " + title,
		},
	})
	if err != nil {
		t.Fatalf("Failed to create note: %v", err)
	}
	return rec
}

func TestCreateVersionedStartsAtVersionOne(t *testing.T) {
	db := setupDB(t)

	rec := createNote(t, db, "n1", "g1", "first")
	if rec.Version != 1 {
		t.Errorf("new record version = %d, want 1", rec.Version)
	}
	if rec.Field("status") != schema.NoteStatusOpen {
		t.Errorf("default status = %q, want %q", rec.Field("status"), schema.NoteStatusOpen)
	}
	if rec.Field("contentHash") != schema.ContentHash("body of first") {
		t.Error("content hash not maintained on create")
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("timestamps not initialized together: created=%v updated=%v", rec.CreatedAt, rec.UpdatedAt)
	}
}

func TestCreateVersionedValidates(t *testing.T) {
	db := setupDB(t)

	_, err := db.CreateVersioned(context.Background(), schema.TableNotes, &schema.Record{
		ID:      "n-bad",
		GroupID: "g1",
		Fields:  map[string]any{"authorId": "alice"}, // no title
	})
	if err == nil {
		t.Fatal("note without title accepted")
	}
}

func TestGetNotFound(t *testing.T) {
	db := setupDB(t)

	_, err := db.Get(context.Background(), schema.TableNotes, "missing")
	if !errors.Is(err, schema.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateVersionedIncrementsByOne(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	createNote(t, db, "n1", "g1", "first")

	updated, err := db.UpdateVersioned(ctx, schema.TableNotes, "n1",
		map[string]any{"title": "renamed"}, 1)
	if err != nil {
		t.Fatalf("UpdateVersioned failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version after update = %d, want 2", updated.Version)
	}
	if updated.Field("title") != "renamed" {
		t.Errorf("title = %q, want %q", updated.Field("title"), "renamed")
	}

	// Untouched fields survive.
	if updated.Field("content") != "body of first" {
		t.Errorf("content changed unexpectedly: %q", updated.Field("content"))
	}
}

func TestUpdateVersionedStaleVersionConflicts(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	createNote(t, db, "n1", "g1", "first")

	if _, err := db.UpdateVersioned(ctx, schema.TableNotes, "n1",
		map[string]any{"title": "second"}, 1); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// Same expected version again: the row has moved on.
	_, err := db.UpdateVersioned(ctx, schema.TableNotes, "n1",
		map[string]any{"title": "third"}, 1)
	if !errors.Is(err, schema.ErrVersionConflict) {
		t.Errorf("stale update error = %v, want ErrVersionConflict", err)
	}

	// The losing write must not have advanced anything.
	rec, err := db.Get(ctx, schema.TableNotes, "n1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("version after failed update = %d, want 2", rec.Version)
	}
	if rec.Field("title") != "second" {
		t.Errorf("title after failed update = %q, want %q", rec.Field("title"), "second")
	}
}

func TestUpdateVersionedMissingRecord(t *testing.T) {
	db := setupDB(t)

	_, err := db.UpdateVersioned(context.Background(), schema.TableNotes, "ghost",
		map[string]any{"title": "x"}, 1)
	if !errors.Is(err, schema.ErrNotFound) {
		t.Errorf("update of missing record error = %v, want ErrNotFound", err)
	}
}

func TestUpdateVersionedRecomputesContentHash(t *testing.T) {
	db := setupDB(t)

	updatedNote := createNote(t, db, "n1", "g1", "first")
	rec, err := db.UpdateVersioned(context.Background(), schema.TableNotes, "n1",
		map[string]any{"content": "rewritten"}, updatedNote.Version)
	if err != nil {
		t.Fatalf("UpdateVersioned failed: %v", err)
	}
	if rec.Field("contentHash") != schema.ContentHash("rewritten") {
		t.Error("content hash not recomputed on content update")
	}
}

func TestUpdateVersionedIgnoresUnknownFields(t *testing.T) {
	db := setupDB(t)

	createNote(t, db, "n1", "g1", "first")

	rec, err := db.UpdateVersioned(context.Background(), schema.TableNotes, "n1",
		map[string]any{"title": "renamed", "authorId": "mallory", "version": "99"}, 1)
	if err != nil {
		t.Fatalf("UpdateVersioned failed: %v", err)
	}
	if rec.Field("authorId") != "alice" {
		t.Errorf("authorId overwritten: %q", rec.Field("authorId"))
	}
	if rec.Version != 2 {
		t.Errorf("version = %d, want 2", rec.Version)
	}
}

func TestUpdateVersionedValidatesFieldValues(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	createNote(t, db, "n1", "g1", "first")

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"unknown status", map[string]any{"status": "definitely-not-a-status"}},
		{"empty title", map[string]any{"title": ""}},
		{"oversized title", map[string]any{"title": string(make([]byte, 501))}},
		{"bad status alongside good title", map[string]any{"title": "fine", "status": "paused"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.UpdateVersioned(ctx, schema.TableNotes, "n1", tt.payload, 1); err == nil {
				t.Error("invalid payload accepted")
			}
		})
	}

	// A rejected update must leave the record fully untouched.
	rec, err := db.Get(ctx, schema.TableNotes, "n1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("version after rejected updates = %d, want 1", rec.Version)
	}
	if rec.Field("title") != "first" || rec.Field("status") != schema.NoteStatusOpen {
		t.Errorf("record mutated by rejected update: title=%q status=%q",
			rec.Field("title"), rec.Field("status"))
	}
}

func TestUpdateVersionedValidatesCommentContent(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	createNote(t, db, "n1", "g1", "parent")

	if _, err := db.CreateVersioned(ctx, schema.TableComments, &schema.Record{
		ID:     "c1",
		Fields: map[string]any{"noteId": "n1", "authorId": "alice", "content": "original"},
	}); err != nil {
		t.Fatalf("Failed to create comment: %v", err)
	}

	if _, err := db.UpdateVersioned(ctx, schema.TableComments, "c1",
		map[string]any{"content": ""}, 1); err == nil {
		t.Error("empty comment content accepted")
	}
}

func TestUpdateVersionedRejectsEmptyPayload(t *testing.T) {
	db := setupDB(t)
	createNote(t, db, "n1", "g1", "first")

	_, err := db.UpdateVersioned(context.Background(), schema.TableNotes, "n1",
		map[string]any{"unknown": "x"}, 1)
	if err == nil {
		t.Fatal("payload with no updatable fields accepted")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	createNote(t, db, "n1", "g1", "first")

	deleted, err := db.Delete(ctx, schema.TableNotes, "n1")
	if err != nil || !deleted {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", deleted, err)
	}

	deleted, err = db.Delete(ctx, schema.TableNotes, "n1")
	if err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if deleted {
		t.Error("second Delete reported a deleted row")
	}
}

func TestCommentInheritsGroupFromNote(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	createNote(t, db, "n1", "g1", "parent")

	rec, err := db.CreateVersioned(ctx, schema.TableComments, &schema.Record{
		ID: "c1",
		Fields: map[string]any{
			"noteId":   "n1",
			"authorId": "alice",
			"content":  "looks good",
		},
	})
	if err != nil {
		t.Fatalf("Failed to create comment: %v", err)
	}

	got, err := db.Get(ctx, schema.TableComments, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.GroupID != "g1" {
		t.Errorf("comment group = %q, want g1 (inherited from note)", got.GroupID)
	}
}

func TestListUpdatedSince(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	createNote(t, db, "n1", "g1", "first")
	createNote(t, db, "n2", "g1", "second")

	records, err := db.ListUpdatedSince(ctx, schema.TableNotes, []string{"g1"}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("ListUpdatedSince failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	// A future cutoff excludes everything.
	records, err = db.ListUpdatedSince(ctx, schema.TableNotes, []string{"g1"},
		time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListUpdatedSince failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("future cutoff returned %d records, want 0", len(records))
	}
}

func TestListUpdatedSinceScopesByGroup(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	if err := db.CreateGroup(ctx, "g2", "Design"); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	createNote(t, db, "n1", "g1", "ours")
	createNote(t, db, "n2", "g2", "theirs")

	records, err := db.ListUpdatedSince(ctx, schema.TableNotes, []string{"g1"}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("ListUpdatedSince failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "n1" {
		t.Errorf("got %d records, want only n1", len(records))
	}

	// No groups means no visibility, not all visibility.
	records, err = db.ListUpdatedSince(ctx, schema.TableNotes, nil, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("ListUpdatedSince failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("empty scope returned %d records, want 0", len(records))
	}
}

func TestMembershipsOf(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	if err := db.CreateGroup(ctx, "g2", "Design"); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	if err := db.AddMember(ctx, "g2", "alice"); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}

	groups, err := db.MembershipsOf(ctx, "alice")
	if err != nil {
		t.Fatalf("MembershipsOf failed: %v", err)
	}
	if len(groups) != 2 {
		t.Errorf("alice has %d groups, want 2", len(groups))
	}

	groups, err = db.MembershipsOf(ctx, "stranger")
	if err != nil {
		t.Fatalf("MembershipsOf failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("stranger has %d groups, want 0", len(groups))
	}
}

func TestAddMemberIdempotent(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := db.AddMember(ctx, "g1", "alice"); err != nil {
		t.Fatalf("repeated AddMember failed: %v", err)
	}
	groups, err := db.MembershipsOf(ctx, "alice")
	if err != nil {
		t.Fatalf("MembershipsOf failed: %v", err)
	}
	if len(groups) != 1 {
		t.Errorf("alice has %d memberships, want 1", len(groups))
	}
}
