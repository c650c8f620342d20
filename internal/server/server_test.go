package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/notedeck/notedeck/internal/changelog"
	"github.com/notedeck/notedeck/internal/engine"
	"github.com/notedeck/notedeck/internal/queue"
	"github.com/notedeck/notedeck/internal/schema"
	"github.com/notedeck/notedeck/internal/store"
)

// setupServer builds a server over a fresh database with group g1 and
// member alice.
func setupServer(t *testing.T) *Server {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
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

	logger := log.New(io.Discard, "", 0)
	eng := engine.New(db, db, changelog.New(db.RawDB()), logger)
	q := queue.New(db.RawDB(), eng, logger)

	srv := New(eng, q, &Config{Port: 0, Logger: logger})
	t.Cleanup(func() { srv.cancel() })
	return srv
}

func TestMissingUserHeaderIsUnauthorized(t *testing.T) {
	srv := setupServer(t)

	for _, handle := range []http.HandlerFunc{
		srv.handleInitialSync, srv.handleDeltaSync,
		srv.handleEnqueue, srv.handleDrain, srv.handleQueueStats,
	} {
		rec := httptest.NewRecorder()
		handle(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	}
}

func TestDeltaSyncEndToEnd(t *testing.T) {
	srv := setupServer(t)

	body := `{
		"clientChanges": [{
			"id": "c1",
			"tableName": "notes",
			"action": "create",
			"payload": {"groupId": "g1", "title": "from the wire"}
		}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(body))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	srv.handleDeltaSync(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var result engine.SyncResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.SyncToken == "" {
		t.Error("no sync token in response")
	}
	if len(result.ProcessedChanges) != 1 || result.ProcessedChanges[0].Status != schema.StatusSuccess {
		t.Fatalf("unexpected outcomes: %+v", result.ProcessedChanges)
	}
	if len(result.ServerChanges[schema.TableNotes]) != 1 {
		t.Errorf("created note missing from delta")
	}
}

func TestDeltaSyncRejectsBadBody(t *testing.T) {
	srv := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader("{not json"))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	srv.handleDeltaSync(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestInitialSyncWithTableFilter(t *testing.T) {
	srv := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sync?tables=notes,comments", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	srv.handleInitialSync(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var result engine.SyncResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if _, ok := result.ServerChanges[schema.TableNotes]; !ok {
		t.Error("notes missing from filtered sync")
	}
	if _, ok := result.ServerChanges[schema.TableAssignments]; ok {
		t.Error("assignments present despite filter")
	}
}

func TestInitialSyncRejectsUnknownTable(t *testing.T) {
	srv := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sync?tables=users", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	srv.handleInitialSync(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestEnqueueAndDrainOverHTTP(t *testing.T) {
	srv := setupServer(t)

	enqueue := `{
		"id": "c1",
		"tableName": "notes",
		"action": "create",
		"payload": {"groupId": "g1", "title": "parked"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/queue", strings.NewReader(enqueue))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	srv.handleEnqueue(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, body = %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/queue/drain", nil)
	req.Header.Set("X-User-ID", "alice")
	rec = httptest.NewRecorder()

	srv.handleDrain(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("drain status = %d, body = %s", rec.Code, rec.Body)
	}

	var result queue.DrainResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode drain result: %v", err)
	}
	if result.Processed != 1 || result.Completed != 1 {
		t.Errorf("drain result = %+v, want 1 completed", result)
	}
}

func TestEnqueueRejectsInvalidChange(t *testing.T) {
	srv := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/queue", strings.NewReader(`{"id": "c1"}`))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	srv.handleEnqueue(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupServer(t)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v", body["status"])
	}
}
