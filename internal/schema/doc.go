// Package schema defines the syncable entity model for notedeck.
//
// Every syncable entity (note, comment, assignment) carries a monotonically
// increasing version counter and created/updated timestamps. The version is
// the sole concurrency-control mechanism in the sync subsystem: a successful
// update always increments it by exactly 1 relative to the version it was
// applied against, and two updates can never commit against the same prior
// version.
//
// The package also defines the wire-level types exchanged with clients during
// reconciliation:
//
//   - PendingChange: a mutation accumulated on the client while offline
//   - ProcessedChange: the per-change outcome (success, conflict, error)
//   - Record: the flat, table-agnostic view of an entity used by the
//     reconciliation engine and the delta responses
//
// Client payloads are treated as untyped bags of fields appropriate to the
// target table; ApplyPayload on each entity type is the single place where a
// payload is folded into typed fields.
package schema
