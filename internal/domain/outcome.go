package domain

import "time"

// Warning is a non-fatal problem hit by a best-effort sub-operation
type Warning struct {
	Device  string `json:"device,omitempty"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// CommitOutcome is the result of a commit request, dry-run or applied
type CommitOutcome struct {
	Committed   bool         `json:"committed"`
	DryRun      bool         `json:"dry_run"`
	Allocation  Allocation   `json:"allocation"`
	Assignments []Assignment `json:"assignments"`
	Attempts    []Attempt    `json:"attempts,omitempty"`
	Available   []string     `json:"available"`
	SnapshotID  int64        `json:"snapshot_id,omitempty"`
	Upserted    int          `json:"upserted"`
	Error       string       `json:"error,omitempty"`
	Kind        FailureKind  `json:"kind,omitempty"`
	Warnings    []Warning    `json:"warnings,omitempty"`
}

// Warn records a non-fatal warning on the outcome
func (o *CommitOutcome) Warn(device, step, message string) {
	o.Warnings = append(o.Warnings, Warning{Device: device, Step: step, Message: message})
}

// Fail marks the outcome as not committed with the given reason
func (o *CommitOutcome) Fail(kind FailureKind, reason string) {
	o.Committed = false
	o.Kind = kind
	o.Error = reason
}

// UndoResult is the result of restoring the latest commit snapshot
type UndoResult struct {
	OK         bool        `json:"ok"`
	Reason     string      `json:"reason"`
	Kind       FailureKind `json:"kind,omitempty"`
	SnapshotID int64       `json:"snapshot_id,omitempty"`
	RestoredAt *time.Time  `json:"snapshot_created_at,omitempty"`
	Restored   int         `json:"restored"`
}

// MutationResult reports the outcome of a manual add or remove
type MutationResult struct {
	OK     bool        `json:"ok"`
	Reason string      `json:"reason"`
	Kind   FailureKind `json:"kind,omitempty"`
}
