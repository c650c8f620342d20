package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notedeck/notedeck/internal/schema"
)

// errNotFound is the message reported for both truly missing records and
// records outside the caller's groups, so existence never leaks across
// group boundaries.
var errNotFound = errors.New("record not found")

// forceWriteAttempts bounds conditional-write retries for updates that are
// still acceptable after a re-read (force writes, or client versions ahead
// of the server) but keep losing the race to concurrent writers.
const forceWriteAttempts = 3

// applyChange applies one pending change within the caller's resolved scope.
// All failure modes are captured in the returned outcome; this function
// never lets one change's failure disturb its siblings.
func (e *engine) applyChange(ctx context.Context, userID string, scope map[string]bool, change schema.PendingChange) (outcome schema.ProcessedChange) {
	// A storage panic from one malformed change must not take down the
	// whole batch.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("Recovered applying change %s: %v", change.ID, r)
			outcome = schema.ErrorOutcome(change, fmt.Errorf("internal error applying change"))
		}
	}()

	if err := change.Validate(); err != nil {
		return schema.ErrorOutcome(change, err)
	}

	switch change.Action {
	case schema.ActionCreate:
		return e.applyCreate(ctx, userID, scope, change)
	case schema.ActionUpdate:
		return e.applyUpdate(ctx, userID, scope, change)
	case schema.ActionDelete:
		return e.applyDelete(ctx, userID, scope, change)
	default:
		return schema.ErrorOutcome(change, fmt.Errorf("unsupported action %q", change.Action))
	}
}

// applyCreate constructs a new entity in the caller's scope at version 1.
// Authorship is always assigned to the authenticated user, never taken from
// the payload.
func (e *engine) applyCreate(ctx context.Context, userID string, scope map[string]bool, change schema.PendingChange) schema.ProcessedChange {
	groupID, err := e.resolveCreateScope(ctx, scope, change)
	if err != nil {
		return schema.ErrorOutcome(change, err)
	}

	fields := make(map[string]any, len(change.Payload)+2)
	for k, v := range change.Payload {
		fields[k] = v
	}
	switch change.Table {
	case schema.TableAssignments:
		fields["assignedBy"] = userID
	default:
		fields["authorId"] = userID
	}

	rec := &schema.Record{
		ID:      e.newID(),
		GroupID: groupID,
		Fields:  fields,
	}

	created, err := e.store.CreateVersioned(ctx, change.Table, rec)
	if err != nil {
		return schema.ErrorOutcome(change, err)
	}

	if err := e.log.Record(ctx, change.Table, created.ID, created.GroupID,
		schema.ActionCreate, nil, snapshot(created), userID); err != nil {
		return schema.ErrorOutcome(change, fmt.Errorf("change applied but not recorded: %w", err))
	}

	return schema.SuccessOutcome(change, created.ID, created.Version)
}

// applyUpdate loads the current record, detects version conflicts, and
// applies the changed fields through the store's conditional write.
//
// Conflict rule: reject iff serverVersion > clientVersion. An absent client
// version is force-write.
func (e *engine) applyUpdate(ctx context.Context, userID string, scope map[string]bool, change schema.PendingChange) schema.ProcessedChange {
	current, err := e.getInScope(ctx, scope, change.Table, change.RecordID)
	if err != nil {
		return schema.ErrorOutcome(change, err)
	}

	if change.ClientVersion != nil && *change.ClientVersion < current.Version {
		return schema.ConflictOutcome(change, current)
	}

	for attempt := 0; ; attempt++ {
		updated, err := e.store.UpdateVersioned(ctx, change.Table, change.RecordID,
			change.Payload, current.Version)
		if err == nil {
			if err := e.log.Record(ctx, change.Table, updated.ID, updated.GroupID,
				schema.ActionUpdate, snapshot(current), snapshot(updated), userID); err != nil {
				return schema.ErrorOutcome(change, fmt.Errorf("change applied but not recorded: %w", err))
			}
			return schema.SuccessOutcome(change, updated.ID, updated.Version)
		}

		if !errors.Is(err, schema.ErrVersionConflict) {
			if errors.Is(err, schema.ErrNotFound) {
				// Deleted between read and write.
				return schema.ErrorOutcome(change, errNotFound)
			}
			return schema.ErrorOutcome(change, err)
		}

		// A concurrent writer advanced the version between our read and
		// the conditional write. Re-read and re-evaluate the policy.
		current, err = e.getInScope(ctx, scope, change.Table, change.RecordID)
		if err != nil {
			return schema.ErrorOutcome(change, err)
		}
		if change.ClientVersion != nil && *change.ClientVersion < current.Version {
			return schema.ConflictOutcome(change, current)
		}
		if attempt+1 >= forceWriteAttempts {
			return schema.ErrorOutcome(change,
				fmt.Errorf("gave up after %d contended write attempts", forceWriteAttempts))
		}
	}
}

// applyDelete removes the record if present. Deleting a record that no
// longer exists (or was never visible) reports success: the client's intent
// is already satisfied.
func (e *engine) applyDelete(ctx context.Context, userID string, scope map[string]bool, change schema.PendingChange) schema.ProcessedChange {
	current, err := e.getInScope(ctx, scope, change.Table, change.RecordID)
	if errors.Is(err, errNotFound) {
		return schema.SuccessOutcome(change, change.RecordID, 0)
	}
	if err != nil {
		return schema.ErrorOutcome(change, err)
	}

	if _, err := e.store.Delete(ctx, change.Table, change.RecordID); err != nil {
		return schema.ErrorOutcome(change, err)
	}

	if err := e.log.Record(ctx, change.Table, current.ID, current.GroupID,
		schema.ActionDelete, snapshot(current), nil, userID); err != nil {
		return schema.ErrorOutcome(change, fmt.Errorf("change applied but not recorded: %w", err))
	}

	return schema.SuccessOutcome(change, change.RecordID, 0)
}

// getInScope loads a record and enforces the authorization boundary.
// Records outside the caller's groups report errNotFound.
func (e *engine) getInScope(ctx context.Context, scope map[string]bool, table schema.Table, id string) (*schema.Record, error) {
	rec, err := e.store.Get(ctx, table, id)
	if errors.Is(err, schema.ErrNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if !scope[rec.GroupID] {
		return nil, errNotFound
	}
	return rec, nil
}

// resolveCreateScope determines the owning group for a create and verifies
// the caller belongs to it. Notes carry the group directly; comments and
// assignments inherit it from the parent note.
func (e *engine) resolveCreateScope(ctx context.Context, scope map[string]bool, change schema.PendingChange) (string, error) {
	if change.Table == schema.TableNotes {
		groupID, ok := schema.StringField(change.Payload, "groupId")
		if !ok || groupID == "" {
			return "", fmt.Errorf("group id is required to create a note")
		}
		if !scope[groupID] {
			return "", fmt.Errorf("group not found")
		}
		return groupID, nil
	}

	noteID, ok := schema.StringField(change.Payload, "noteId")
	if !ok || noteID == "" {
		return "", fmt.Errorf("note id is required to create a %s", change.Table)
	}
	note, err := e.getInScope(ctx, scope, schema.TableNotes, noteID)
	if err != nil {
		return "", err
	}
	return note.GroupID, nil
}

// snapshot flattens a record into the map form stored in change log entries.
func snapshot(rec *schema.Record) map[string]any {
	if rec == nil {
		return nil
	}
	flat := make(map[string]any, len(rec.Fields)+4)
	for k, v := range rec.Fields {
		flat[k] = v
	}
	flat["id"] = rec.ID
	flat["version"] = rec.Version
	flat["createdAt"] = rec.CreatedAt.UTC().Format(time.RFC3339)
	flat["updatedAt"] = rec.UpdatedAt.UTC().Format(time.RFC3339)
	return flat
}
