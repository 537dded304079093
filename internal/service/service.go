package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshroster/internal/domain"
	"meshroster/internal/engine"
	"meshroster/internal/identity"
	"meshroster/internal/probe"
	"meshroster/internal/repository"
)

// Scanner supplies candidate device identifiers; adapter.MultiScanner implements it
type Scanner interface {
	Scan(ctx context.Context) ([]string, error)
}

// DeviceValidator decides device reachability; engine.Validator implements it
type DeviceValidator interface {
	Validate(ctx context.Context, deviceID, expected string) domain.ValidationResult
}

// RosterService coordinates validation, allocation, commit and undo.
// commitMu serializes roster rewrites and is never held across a probe.
type RosterService struct {
	repo      repository.Repository
	validator DeviceValidator
	info      engine.InfoSource
	scanner   Scanner
	eventBus  *EventBus
	logger    *zap.Logger
	now       func() time.Time

	commitMu sync.Mutex
}

// Option configures a RosterService
type Option func(*RosterService)

// WithScanner sets the candidate source used when a request names no candidates
func WithScanner(s Scanner) Option {
	return func(svc *RosterService) {
		svc.scanner = s
	}
}

// WithEventBus sets the bus roster changes are published on
func WithEventBus(bus *EventBus) Option {
	return func(svc *RosterService) {
		svc.eventBus = bus
	}
}

// WithClock replaces the clock used for telemetry timestamps
func WithClock(now func() time.Time) Option {
	return func(svc *RosterService) {
		svc.now = now
	}
}

// NewRosterService creates the service. info is consulted for discovery
// reports and post-commit telemetry.
func NewRosterService(repo repository.Repository, validator DeviceValidator, info engine.InfoSource, logger *zap.Logger, opts ...Option) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RosterService{
		repo:      repo,
		validator: validator,
		info:      info,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ListDevices returns the current roster
func (s *RosterService) ListDevices(ctx context.Context) ([]domain.DeviceRecord, error) {
	return s.repo.ListDevices(ctx)
}

// GetDevice returns one device
func (s *RosterService) GetDevice(ctx context.Context, nodeID string) (*domain.DeviceRecord, error) {
	return s.repo.GetDevice(ctx, nodeID)
}

// AddDeviceRequest describes a manual roster addition
type AddDeviceRequest struct {
	NodeID         string `json:"node_id"`
	DisplayName    string `json:"display_name,omitempty"`
	Role           string `json:"role,omitempty"`
	ConnectionKind string `json:"connection_kind,omitempty"`
}

// AddDevice adds a device by hand. Duplicates are rejected.
func (s *RosterService) AddDevice(ctx context.Context, req AddDeviceRequest) domain.MutationResult {
	if req.NodeID == "" {
		return domain.MutationResult{Reason: "node_id is required"}
	}

	kind := domain.ConnectionKind(req.ConnectionKind)
	if !kind.Valid() {
		kind = identity.KindOf(req.NodeID)
	}
	device := domain.NewDeviceRecord(req.NodeID, kind, domain.ParseRole(req.Role))
	if req.DisplayName != "" {
		device.DisplayName = req.DisplayName
	}

	s.commitMu.Lock()
	err := s.repo.AddDevice(ctx, device)
	s.commitMu.Unlock()

	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return domain.MutationResult{Reason: fmt.Sprintf("device %s already exists", req.NodeID)}
	case err != nil:
		s.logger.Error("add device failed", zap.String("device", req.NodeID), zap.Error(err))
		return domain.MutationResult{Reason: err.Error(), Kind: domain.FailureStorage}
	}

	s.logger.Info("device added",
		zap.String("device", device.NodeID),
		zap.String("role", string(device.Role)),
		zap.String("kind", string(device.ConnectionKind)))
	s.eventBus.Publish(Event{Type: EventDeviceAdded, Payload: device})
	return domain.MutationResult{OK: true, Reason: "device added"}
}

// RemoveDevice deletes a device by node_id
func (s *RosterService) RemoveDevice(ctx context.Context, nodeID string) domain.MutationResult {
	s.commitMu.Lock()
	err := s.repo.RemoveDevice(ctx, nodeID)
	s.commitMu.Unlock()

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.MutationResult{Reason: fmt.Sprintf("device %s not found", nodeID)}
	case err != nil:
		s.logger.Error("remove device failed", zap.String("device", nodeID), zap.Error(err))
		return domain.MutationResult{Reason: err.Error(), Kind: domain.FailureStorage}
	}

	s.logger.Info("device removed", zap.String("device", nodeID))
	s.eventBus.Publish(Event{Type: EventDeviceRemoved, Payload: map[string]string{"node_id": nodeID}})
	return domain.MutationResult{OK: true, Reason: "device removed"}
}

// Validate checks one device. It never touches the roster.
func (s *RosterService) Validate(ctx context.Context, deviceID, expected string) domain.ValidationResult {
	if deviceID == "" {
		return domain.ValidationResult{Reason: "missing device"}
	}
	return s.validator.Validate(ctx, deviceID, expected)
}

// History returns commit snapshots newest first
func (s *RosterService) History(ctx context.Context, limit int) ([]domain.CommitSnapshot, error) {
	return s.repo.ListSnapshots(ctx, limit)
}

// Audit returns audit log entries newest first
func (s *RosterService) Audit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return s.repo.ListAudit(ctx, limit)
}

// LatestTelemetry returns the newest telemetry sample for a device
func (s *RosterService) LatestTelemetry(ctx context.Context, nodeID string) (*domain.TelemetrySample, error) {
	return s.repo.LatestTelemetry(ctx, nodeID)
}

// TelemetryHistory returns telemetry samples for a device newest first
func (s *RosterService) TelemetryHistory(ctx context.Context, nodeID string, limit int) ([]domain.TelemetrySample, error) {
	return s.repo.TelemetryHistory(ctx, nodeID, limit)
}

// Positions returns the latest known device positions
func (s *RosterService) Positions(ctx context.Context) ([]domain.Position, error) {
	return s.repo.Positions(ctx)
}

// captureTelemetry fetches and stores one sample for deviceID.
// Errors are returned for the caller to turn into warnings.
func (s *RosterService) captureTelemetry(ctx context.Context, deviceID string) error {
	if s.info == nil {
		return fmt.Errorf("no probe configured")
	}
	entry, err := s.info.Get(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	node, ok := probe.EntryFor(entry.Parsed, deviceID)
	if !ok {
		return fmt.Errorf("no node entry in probe output")
	}
	sample := probe.ExtractTelemetry(deviceID, node, s.now().UTC())
	if sample.Empty() {
		return fmt.Errorf("no telemetry readings in probe output")
	}
	if err := s.repo.RecordTelemetry(ctx, sample); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	s.eventBus.Publish(Event{Type: EventTelemetryRecorded, Payload: sample})
	return nil
}
