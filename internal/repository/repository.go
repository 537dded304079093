package repository

import (
	"context"
	"errors"

	"meshroster/internal/domain"
)

var (
	// ErrNotFound is returned when a device or record does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when adding a device whose node_id already exists
	ErrDuplicate = errors.New("already exists")
	// ErrNoHistory is returned by undo when no commit snapshot has been recorded
	ErrNoHistory = errors.New("no commit history available")
)

// Repository defines roster data access
type Repository interface {
	// Read operations
	ListDevices(ctx context.Context) ([]domain.DeviceRecord, error)
	GetDevice(ctx context.Context, nodeID string) (*domain.DeviceRecord, error)
	Positions(ctx context.Context) ([]domain.Position, error)

	// Manual roster edits, each audited
	AddDevice(ctx context.Context, device *domain.DeviceRecord) error
	RemoveDevice(ctx context.Context, nodeID string) error

	// ApplyAllocation snapshots the roster, upserts every assignment and
	// writes the audit trail in one transaction. The returned snapshot holds
	// the roster as it was before the upserts.
	ApplyAllocation(ctx context.Context, alloc domain.Allocation, assignments []domain.Assignment) (*domain.CommitSnapshot, error)

	// RestoreLatestSnapshot replaces the roster with the most recent
	// snapshot in one transaction. The snapshot is kept.
	RestoreLatestSnapshot(ctx context.Context) (*domain.CommitSnapshot, error)

	// History
	ListSnapshots(ctx context.Context, limit int) ([]domain.CommitSnapshot, error)
	ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)

	// Telemetry
	RecordTelemetry(ctx context.Context, sample domain.TelemetrySample) error
	LatestTelemetry(ctx context.Context, nodeID string) (*domain.TelemetrySample, error)
	TelemetryHistory(ctx context.Context, nodeID string, limit int) ([]domain.TelemetrySample, error)

	// Close releases resources
	Close() error
}
