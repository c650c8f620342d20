package engine

import (
	"context"
	"time"

	"github.com/notedeck/notedeck/internal/schema"
)

// RecordStore is the versioned persistence the engine reconciles against.
// *store.DB implements it.
type RecordStore interface {
	// Get retrieves a record by id, with its group scope resolved.
	// Returns schema.ErrNotFound if absent.
	Get(ctx context.Context, table schema.Table, id string) (*schema.Record, error)

	// CreateVersioned inserts a new record at version 1.
	CreateVersioned(ctx context.Context, table schema.Table, rec *schema.Record) (*schema.Record, error)

	// UpdateVersioned applies fields iff the record's version equals
	// expectedVersion, incrementing it by exactly 1 atomically.
	// Returns schema.ErrVersionConflict if the conditional write misses.
	UpdateVersioned(ctx context.Context, table schema.Table, id string, fields map[string]any, expectedVersion int64) (*schema.Record, error)

	// Delete removes a record; reports whether a row existed.
	Delete(ctx context.Context, table schema.Table, id string) (bool, error)

	// ListUpdatedSince returns records in the given groups changed at or
	// after the cutoff.
	ListUpdatedSince(ctx context.Context, table schema.Table, groupIDs []string, cutoff time.Time) ([]*schema.Record, error)
}

// Memberships resolves a user's authorization scope.
type Memberships interface {
	MembershipsOf(ctx context.Context, userID string) ([]string, error)
}

// ChangeLog is the append-only mutation recorder and deletion-delta source.
// *changelog.Log implements it.
type ChangeLog interface {
	Record(ctx context.Context, table schema.Table, recordID, groupID string, action schema.Action, oldData, newData map[string]any, actor string) error
	DeletionsSince(ctx context.Context, groupIDs []string, cutoff time.Time) (map[schema.Table][]string, error)
}

// DeltaSyncRequest is a client's reconciliation submission.
type DeltaSyncRequest struct {
	// SyncToken is the opaque cursor from the previous sync. Absent or
	// malformed tokens degrade to a full resync.
	SyncToken string `json:"syncToken,omitempty"`

	// ClientChanges are the pending mutations, in the order the client
	// performed them. Order is preserved during apply.
	ClientChanges []schema.PendingChange `json:"clientChanges,omitempty"`

	// Tables restricts the delta to the named tables. Empty means all
	// syncable tables.
	Tables []schema.Table `json:"tables,omitempty"`
}

// SyncResult is the single atomic response of a reconciliation call.
type SyncResult struct {
	// SyncToken is the new cursor, encoding the response assembly time.
	SyncToken string `json:"syncToken"`

	// ServerTime is the instant the token encodes.
	ServerTime time.Time `json:"serverTime"`

	// ProcessedChanges holds one outcome per submitted change, in
	// submission order. Nil for initial syncs.
	ProcessedChanges []schema.ProcessedChange `json:"processedChanges,omitempty"`

	// ServerChanges are the records changed since the cutoff, by table.
	ServerChanges map[schema.Table][]*schema.Record `json:"serverChanges"`

	// Deletions are the ids of records deleted since the cutoff, by table.
	Deletions map[schema.Table][]string `json:"deletions"`
}

// Engine reconciles client mutations with authoritative server state.
type Engine interface {
	// GetInitialSync returns the full state (or the delta since lastToken)
	// visible to the user, with a fresh token.
	GetInitialSync(ctx context.Context, userID, lastToken string, tables []schema.Table) (*SyncResult, error)

	// ProcessDeltaSync applies the request's pending changes and returns
	// per-change outcomes plus the server-side delta.
	//
	// Per-change failures are captured in the outcomes; an error return
	// means the delta itself could not be computed, in which case no
	// partial response is produced.
	ProcessDeltaSync(ctx context.Context, userID string, req DeltaSyncRequest) (*SyncResult, error)

	// ApplyChange applies a single pending change for the user, outside a
	// sync exchange. Used by the pending-change queue's drain path.
	ApplyChange(ctx context.Context, userID string, change schema.PendingChange) schema.ProcessedChange
}
