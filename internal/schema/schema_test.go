package schema

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPendingChangeValidate(t *testing.T) {
	v := int64(3)

	tests := []struct {
		name    string
		change  PendingChange
		wantErr bool
	}{
		{
			name: "valid create",
			change: PendingChange{
				ID:     "c1",
				Table:  TableNotes,
				Action: ActionCreate,
				Payload: map[string]any{
					"groupId": "g1", "title": "hello",
				},
			},
		},
		{
			name: "valid update",
			change: PendingChange{
				ID: "c2", Table: TableNotes, RecordID: "n1",
				Action: ActionUpdate, ClientVersion: &v,
				Payload: map[string]any{"title": "renamed"},
			},
		},
		{
			name: "valid delete without payload",
			change: PendingChange{
				ID: "c3", Table: TableComments, RecordID: "cm1",
				Action: ActionDelete,
			},
		},
		{
			name:    "missing change id",
			change:  PendingChange{Table: TableNotes, Action: ActionDelete, RecordID: "n1"},
			wantErr: true,
		},
		{
			name:    "unknown table",
			change:  PendingChange{ID: "c4", Table: "users", Action: ActionDelete, RecordID: "u1"},
			wantErr: true,
		},
		{
			name:    "unknown action",
			change:  PendingChange{ID: "c5", Table: TableNotes, Action: "upsert", RecordID: "n1"},
			wantErr: true,
		},
		{
			name:    "update without record id",
			change:  PendingChange{ID: "c6", Table: TableNotes, Action: ActionUpdate, Payload: map[string]any{"title": "x"}},
			wantErr: true,
		},
		{
			name:    "create without payload",
			change:  PendingChange{ID: "c7", Table: TableNotes, Action: ActionCreate},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNoteValidate(t *testing.T) {
	valid := func() *Note {
		return &Note{
			ID: "n1", GroupID: "g1", AuthorID: "alice",
			Title: "standup notes", Status: NoteStatusOpen, Version: 1,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid note rejected: %v", err)
	}

	n := valid()
	n.Title = ""
	if err := n.Validate(); err == nil {
		t.Error("empty title accepted")
	}

	n = valid()
	n.Title = string(make([]byte, 501))
	if err := n.Validate(); err == nil {
		t.Error("oversized title accepted")
	}

	n = valid()
	n.Status = "paused"
	if err := n.Validate(); err == nil {
		t.Error("unknown status accepted")
	}

	n = valid()
	n.Version = 0
	if err := n.Validate(); err == nil {
		t.Error("version 0 accepted")
	}
}

func TestOutcomeConstructors(t *testing.T) {
	v := int64(2)
	change := PendingChange{
		ID: "c1", Table: TableNotes, RecordID: "n1",
		Action: ActionUpdate, ClientVersion: &v,
		Payload: map[string]any{"title": "mine"},
	}

	success := SuccessOutcome(change, "n1", 3)
	if success.Status != StatusSuccess || success.Version != 3 || success.RecordID != "n1" {
		t.Errorf("unexpected success outcome: %+v", success)
	}

	server := &Record{ID: "n1", Version: 5, Fields: map[string]any{"title": "theirs"}}
	conflict := ConflictOutcome(change, server)
	if conflict.Status != StatusConflict {
		t.Fatalf("unexpected status %q", conflict.Status)
	}
	if conflict.Conflict == nil {
		t.Fatal("conflict data missing")
	}
	if conflict.Conflict.ServerRecord.Version != 5 {
		t.Errorf("server record version = %d, want 5", conflict.Conflict.ServerRecord.Version)
	}
	if conflict.Conflict.ClientPayload["title"] != "mine" {
		t.Error("client payload not preserved")
	}
	if conflict.Conflict.ClientVersion == nil || *conflict.Conflict.ClientVersion != 2 {
		t.Error("client version not preserved")
	}

	failure := ErrorOutcome(change, errors.New("boom"))
	if failure.Status != StatusError || failure.Error != "boom" {
		t.Errorf("unexpected error outcome: %+v", failure)
	}
}

func TestRecordMarshalFlattens(t *testing.T) {
	rec := &Record{
		ID:        "n1",
		GroupID:   "g1",
		Version:   4,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2025, 1, 2, 3, 4, 6, 0, time.UTC),
		Fields:    map[string]any{"title": "hello", "status": NoteStatusOpen},
	}

	data, err := rec.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}

	for _, want := range []string{`"id":"n1"`, `"version":4`, `"title":"hello"`, `"updatedAt":"2025-01-02T03:04:06Z"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("marshaled record missing %s: %s", want, data)
		}
	}
}

func TestContentHashStable(t *testing.T) {
	a := ContentHash("hello")
	b := ContentHash("hello")
	if a != b {
		t.Error("hash not deterministic")
	}
	if a == ContentHash("hello!") {
		t.Error("distinct contents hash equal")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}
