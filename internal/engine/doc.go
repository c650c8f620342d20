// Package engine implements the delta reconciliation engine, the core of
// notedeck's offline-first synchronization.
//
// A reconciliation call accepts a user's pending local mutations plus their
// last-known sync token, applies each mutation against server state with
// conflict detection, and computes the server-side delta (creations, updates,
// deletions since that token) to send back.
//
// Processing model:
//
//  1. Resolve the caller's group memberships; every read and write is
//     confined to those groups. Client-supplied group ids are never trusted.
//  2. Apply each pending change independently, in submission order. A failing
//     change is reported in its outcome and never aborts its siblings —
//     partial-batch success is the norm.
//  3. Compute the server-side delta from the decoded token cutoff.
//  4. Derive deletions since the cutoff from the change log.
//  5. Issue a new token encoding "now" — the moment the response is
//     assembled, not the time of the newest source row — so a concurrent
//     write landing during delta computation is never missed. The cost is a
//     one-token overlap: some already-seen rows may be re-sent.
//
// Conflict policy: an update is rejected (flagged conflict, never applied)
// iff the server's current version is strictly greater than the client's
// declared base version. An absent client version requests force-write
// semantics. Conflicts are never auto-resolved; the outcome carries both
// sides' data so the user can merge.
//
// The engine is stateless: all collaborators (record store, membership
// lookup, change log) are injected, and no mutable state lives outside the
// storage layer.
package engine
