package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/notedeck/notedeck/internal/schema"
	"github.com/notedeck/notedeck/internal/synctoken"
)

// engine implements the Engine interface.
type engine struct {
	store   RecordStore
	members Memberships
	log     ChangeLog
	logger  *log.Logger

	// test seams
	now   func() time.Time
	newID func() string
}

// New creates a new reconciliation Engine.
//
// The store must have its schema initialized before use. If logger is nil,
// a default logger writing to stderr is used.
//
// Example:
//
//	db, err := store.Open(".notedeck/notedeck.db")
//	if err != nil {
//	    return err
//	}
//	if err := db.InitSchema(); err != nil {
//	    return err
//	}
//	eng := engine.New(db, db, changelog.New(db.RawDB()), nil)
func New(store RecordStore, members Memberships, changeLog ChangeLog, logger *log.Logger) Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &engine{
		store:   store,
		members: members,
		log:     changeLog,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// GetInitialSync implements Engine.GetInitialSync.
func (e *engine) GetInitialSync(ctx context.Context, userID, lastToken string, tables []schema.Table) (*SyncResult, error) {
	return e.ProcessDeltaSync(ctx, userID, DeltaSyncRequest{
		SyncToken: lastToken,
		Tables:    tables,
	})
}

// ProcessDeltaSync implements Engine.ProcessDeltaSync.
func (e *engine) ProcessDeltaSync(ctx context.Context, userID string, req DeltaSyncRequest) (*SyncResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	groups, err := e.members.MembershipsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve memberships for %s: %w", userID, err)
	}
	scope := toSet(groups)

	cutoff := synctoken.Decode(req.SyncToken)
	e.logger.Printf("Sync for user=%s groups=%d changes=%d %s",
		userID, len(groups), len(req.ClientChanges), synctoken.String(cutoff))

	// Apply pending changes strictly in submission order; each in
	// isolation. A client may create a record and update it in the same
	// batch, so reordering would break causality.
	var outcomes []schema.ProcessedChange
	for _, change := range req.ClientChanges {
		outcome := e.applyChange(ctx, userID, scope, change)
		if outcome.Status != schema.StatusSuccess {
			e.logger.Printf("Change %s on %s: %s", change.ID, change.Table, outcome.Status)
		}
		outcomes = append(outcomes, outcome)
	}

	// Delta failures are batch-fatal: a response without a valid delta
	// would make the client assume nothing changed server-side.
	serverChanges, deletions, err := e.computeDelta(ctx, groups, cutoff, req.Tables)
	if err != nil {
		return nil, err
	}

	serverTime := e.now().UTC().Truncate(time.Second)
	return &SyncResult{
		SyncToken:        synctoken.Encode(serverTime),
		ServerTime:       serverTime,
		ProcessedChanges: outcomes,
		ServerChanges:    serverChanges,
		Deletions:        deletions,
	}, nil
}

// ApplyChange implements Engine.ApplyChange.
func (e *engine) ApplyChange(ctx context.Context, userID string, change schema.PendingChange) schema.ProcessedChange {
	groups, err := e.members.MembershipsOf(ctx, userID)
	if err != nil {
		return schema.ErrorOutcome(change, fmt.Errorf("failed to resolve memberships: %w", err))
	}
	return e.applyChange(ctx, userID, toSet(groups), change)
}

// computeDelta fetches every record in scope changed at or after the cutoff,
// plus the ids of records deleted since then.
func (e *engine) computeDelta(ctx context.Context, groups []string, cutoff time.Time, tables []schema.Table) (map[schema.Table][]*schema.Record, map[schema.Table][]string, error) {
	if len(tables) == 0 {
		tables = schema.SyncableTables
	}

	serverChanges := make(map[schema.Table][]*schema.Record, len(tables))
	for _, table := range tables {
		if !table.Valid() {
			return nil, nil, fmt.Errorf("unsupported table %q in delta request", table)
		}
		records, err := e.store.ListUpdatedSince(ctx, table, groups, cutoff)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to compute %s delta: %w", table, err)
		}
		if records == nil {
			records = []*schema.Record{}
		}
		serverChanges[table] = records
	}

	// On a full resync the client has no prior state to invalidate, so
	// historical deletions carry no information.
	if synctoken.IsEpoch(cutoff) {
		return serverChanges, map[schema.Table][]string{}, nil
	}

	deletions, err := e.log.DeletionsSince(ctx, groups, cutoff)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute deletion delta: %w", err)
	}
	return serverChanges, deletions, nil
}

// toSet converts a group id slice to a membership set.
func toSet(groups []string) map[string]bool {
	set := make(map[string]bool, len(groups))
	for _, g := range groups {
		set[g] = true
	}
	return set
}
