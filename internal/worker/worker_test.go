package worker

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/notedeck/notedeck/internal/queue"
	"github.com/notedeck/notedeck/internal/schema"
	"github.com/notedeck/notedeck/internal/store"
)

// countingApplier records applied change ids, safely across goroutines.
type countingApplier struct {
	mu      sync.Mutex
	applied []string
}

func (a *countingApplier) ApplyChange(ctx context.Context, userID string, change schema.PendingChange) schema.ProcessedChange {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, change.ID)
	return schema.SuccessOutcome(change, change.RecordID, 2)
}

func (a *countingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

func setupQueue(t *testing.T, applier queue.Applier) *queue.Queue {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}

	return queue.New(db.RawDB(), applier, log.New(io.Discard, "", 0))
}

func enqueueUpdate(t *testing.T, q *queue.Queue, user, id string) {
	t.Helper()

	v := int64(1)
	err := q.Enqueue(context.Background(), user, schema.PendingChange{
		ID:            id,
		Table:         schema.TableNotes,
		RecordID:      "n1",
		Action:        schema.ActionUpdate,
		ClientVersion: &v,
		Payload:       map[string]any{"title": "edit"},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

func TestWorkerDrainsAllUsers(t *testing.T) {
	applier := &countingApplier{}
	q := setupQueue(t, applier)
	enqueueUpdate(t, q, "alice", "a1")
	enqueueUpdate(t, q, "bob", "b1")

	w := New(q, &Config{
		Interval: 10 * time.Millisecond,
		Logger:   log.New(io.Discard, "", 0),
	})
	w.Start(context.Background())
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for applier.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("worker drained %d changes, want 2", applier.count())
		case <-time.After(10 * time.Millisecond):
		}
	}

	users, err := q.UsersWithPending(context.Background())
	if err != nil {
		t.Fatalf("UsersWithPending failed: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("users still pending after drain: %v", users)
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	q := setupQueue(t, &countingApplier{})

	ctx, cancel := context.WithCancel(context.Background())
	w := New(q, &Config{
		Interval: 10 * time.Millisecond,
		Logger:   log.New(io.Discard, "", 0),
	})
	w.Start(ctx)

	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

func TestConfigDefaults(t *testing.T) {
	w := New(setupQueue(t, &countingApplier{}), nil)
	if w.config.Interval <= 0 {
		t.Error("nil config did not apply a default interval")
	}
	if w.config.Logger == nil {
		t.Error("nil config did not apply a default logger")
	}
}
