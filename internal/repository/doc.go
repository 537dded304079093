// Package repository defines the persistence contract for the device roster.
//
// The roster is three append-or-replace tables plus telemetry history:
//
//   - devices: one row per known device, keyed by node_id
//   - commit_history: append-only snapshots of the whole roster, written
//     before each commit; only the newest is reachable through undo
//   - audit_log: append-only event trail of add, remove, commit and undo
//   - node_telemetry: best-effort samples captured after commits
//
// Only ApplyAllocation and RestoreLatestSnapshot rewrite roles in bulk, and
// each runs inside a single transaction.
//
// The sqlite subpackage provides the implementation.
package repository
