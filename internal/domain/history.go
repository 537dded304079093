package domain

import "time"

// CommitSnapshot is a full copy of the roster captured immediately before a commit.
// Snapshots are append-only; only the most recent one is reachable through undo.
type CommitSnapshot struct {
	ID        int64          `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Summary   string         `json:"summary"`
	Devices   []DeviceRecord `json:"devices"`
}

// AuditEntry is one append-only audit log row
type AuditEntry struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit event names
const (
	AuditDeviceAdded      = "device_added"
	AuditDeviceRemoved    = "device_removed"
	AuditAllocationUpsert = "allocation_upsert"
	AuditAllocationCommit = "allocation_committed"
	AuditCommitUndone     = "commit_undone"
)

// TelemetrySample is one historical telemetry datapoint for a device
type TelemetrySample struct {
	NodeID     string         `json:"node_id"`
	RecordedAt time.Time      `json:"recorded_at"`
	Latitude   *float64       `json:"latitude,omitempty"`
	Longitude  *float64       `json:"longitude,omitempty"`
	Altitude   *float64       `json:"altitude,omitempty"`
	Battery    *float64       `json:"battery,omitempty"`
	Env        map[string]any `json:"env,omitempty"`
}

// Empty reports whether the sample carries no measurements
func (s TelemetrySample) Empty() bool {
	return s.Latitude == nil && s.Longitude == nil && s.Altitude == nil &&
		s.Battery == nil && len(s.Env) == 0
}
