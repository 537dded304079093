// Package domain defines the roster types shared by every layer.
//
// DeviceRecord is one roster row keyed by node id: a serial port name, a
// radio hardware address or a network host. Roles are PRIMARY, SECONDARY,
// CLIENT or UNASSIGNED; at most one device is PRIMARY after a commit.
//
// Validation, commit, undo and manual mutations report their results as
// values (ValidationResult, CommitOutcome, UndoResult, MutationResult)
// carrying a FailureKind rather than as Go errors.
//
// CommitSnapshot and AuditEntry are append-only history. TelemetrySample
// rows accumulate per device.
//
// The package has no storage or transport dependencies.
package domain
