package schema

import (
	"fmt"
	"time"
)

// PendingChange is a single mutation accumulated on a client while offline
// or between syncs.
//
// ID is client-assigned and stable across retries so the client can correlate
// outcomes with its local queue. RecordID is the server id for updates and
// deletes; for creates it is the client-generated placeholder the client uses
// to map the server-assigned id back onto its local record. ClientVersion is
// the version the client believes the record is at — required for updates,
// meaningless for creates. An absent ClientVersion on an update requests
// force-write semantics.
type PendingChange struct {
	ID              string         `json:"id"`
	Table           Table          `json:"tableName"`
	RecordID        string         `json:"recordId,omitempty"`
	Action          Action         `json:"action"`
	Payload         map[string]any `json:"payload,omitempty"`
	ClientTimestamp time.Time      `json:"clientTimestamp,omitzero"`
	ClientVersion   *int64         `json:"clientVersion,omitempty"`
}

// Validate checks the change is structurally sound before it is applied.
// Payload contents are validated later, against the target table.
func (c *PendingChange) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("change id is required")
	}
	if err := ValidateTarget(c.Table, c.Action); err != nil {
		return err
	}
	if c.Action != ActionCreate && c.RecordID == "" {
		return fmt.Errorf("record id is required for %s", c.Action)
	}
	if c.Action == ActionCreate && len(c.Payload) == 0 {
		return fmt.Errorf("payload is required for create")
	}
	return nil
}

// ChangeStatus is the outcome category of a processed change.
type ChangeStatus string

const (
	// StatusSuccess means the change was applied; RecordID and Version
	// carry the resulting state.
	StatusSuccess ChangeStatus = "success"

	// StatusConflict means the change was rejected because the server's
	// version is newer than the client's base version. Both sides' data
	// are returned so the user can decide how to merge.
	StatusConflict ChangeStatus = "conflict"

	// StatusError means the change could not be applied (not found,
	// malformed, storage failure). No version was advanced.
	StatusError ChangeStatus = "error"
)

// ConflictData carries both sides of a rejected concurrent edit.
type ConflictData struct {
	// ServerRecord is the server's current full record.
	ServerRecord *Record `json:"serverRecord"`

	// ClientPayload is the payload the client attempted to apply.
	ClientPayload map[string]any `json:"clientPayload"`

	// ClientVersion is the version the client based its edit on.
	ClientVersion *int64 `json:"clientVersion,omitempty"`
}

// ProcessedChange is the per-change outcome returned to the client.
// Exactly one of the status-specific fields is populated.
type ProcessedChange struct {
	ChangeID string       `json:"changeId"`
	Table    Table        `json:"tableName"`
	Status   ChangeStatus `json:"status"`

	// RecordID is the server-assigned (create) or confirmed (update/delete)
	// record id. Set on success.
	RecordID string `json:"recordId,omitempty"`

	// Version is the record's version after the change. Set on success for
	// creates and updates.
	Version int64 `json:"version,omitempty"`

	// Conflict holds both sides of the edit. Set when Status is conflict.
	Conflict *ConflictData `json:"conflict,omitempty"`

	// Error is a descriptive message. Set when Status is error.
	Error string `json:"error,omitempty"`
}

// SuccessOutcome builds a success outcome for the given change.
func SuccessOutcome(change PendingChange, recordID string, version int64) ProcessedChange {
	return ProcessedChange{
		ChangeID: change.ID,
		Table:    change.Table,
		Status:   StatusSuccess,
		RecordID: recordID,
		Version:  version,
	}
}

// ConflictOutcome builds a conflict outcome carrying both sides of the edit.
func ConflictOutcome(change PendingChange, server *Record) ProcessedChange {
	return ProcessedChange{
		ChangeID: change.ID,
		Table:    change.Table,
		Status:   StatusConflict,
		RecordID: change.RecordID,
		Conflict: &ConflictData{
			ServerRecord:  server,
			ClientPayload: change.Payload,
			ClientVersion: change.ClientVersion,
		},
	}
}

// ErrorOutcome builds an error outcome with a descriptive message.
func ErrorOutcome(change PendingChange, err error) ProcessedChange {
	return ProcessedChange{
		ChangeID: change.ID,
		Table:    change.Table,
		Status:   StatusError,
		RecordID: change.RecordID,
		Error:    err.Error(),
	}
}
