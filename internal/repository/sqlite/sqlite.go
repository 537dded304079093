package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"meshroster/internal/domain"
	"meshroster/internal/repository"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - devices, commit_history, audit_log, node_telemetry
const currentSchemaVersion = 1

// Repository implements repository.Repository using SQLite
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.Repository = (*Repository)(nil)

// Option configures a Repository
type Option func(*Repository)

// WithNow replaces the clock used for created_at and audit timestamps
func WithNow(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// New opens (creating if needed) the SQLite database at dbPath.
// ":memory:" gives a private in-memory database.
func New(dbPath string, opts ...Option) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db, now: time.Now}
	for _, opt := range opts {
		opt(repo)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}

// applyPragmas sets required SQLite configuration
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (r *Repository) migrate() error {
	if _, err := r.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := r.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := r.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ============================================================================
// Devices
// ============================================================================

// ListDevices returns every device ordered by node_id
func (r *Repository) ListDevices(ctx context.Context) ([]domain.DeviceRecord, error) {
	return listDevices(ctx, r.db)
}

func listDevices(ctx context.Context, q querier) ([]domain.DeviceRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	devices := []domain.DeviceRecord{}
	for rows.Next() {
		var row deviceRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", row.NodeID, err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return devices, nil
}

// GetDevice retrieves a single device by node_id
func (r *Repository) GetDevice(ctx context.Context, nodeID string) (*domain.DeviceRecord, error) {
	var row deviceRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE node_id = ?`, nodeID,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", nodeID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	d, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func insertDevice(ctx context.Context, q querier, d *domain.DeviceRecord) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 16), ", ")
	_, err := q.ExecContext(ctx,
		`INSERT INTO devices (`+deviceColumns+`) VALUES (`+placeholders+`)`,
		deviceInsertArgs(d)...)
	if err != nil {
		return fmt.Errorf("failed to insert device %s: %w", d.NodeID, err)
	}
	return nil
}

func deviceExists(ctx context.Context, q querier, nodeID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE node_id = ?`, nodeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check device: %w", err)
	}
	return n > 0, nil
}

// AddDevice inserts a new device and audits it. Returns ErrDuplicate if
// the node_id is already present.
func (r *Repository) AddDevice(ctx context.Context, device *domain.DeviceRecord) error {
	if device.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if !device.Role.Valid() {
		device.Role = domain.RoleUnassigned
	}
	if !device.ConnectionKind.Valid() {
		device.ConnectionKind = domain.ConnectionRadio
	}
	if device.DisplayName == "" {
		device.DisplayName = device.NodeID
	}
	if device.LastUpdated.IsZero() {
		device.LastUpdated = r.now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := deviceExists(ctx, tx, device.NodeID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("device %s: %w", device.NodeID, repository.ErrDuplicate)
	}

	if err := insertDevice(ctx, tx, device); err != nil {
		return err
	}
	details := fmt.Sprintf("%s role=%s kind=%s", device.NodeID, device.Role, device.ConnectionKind)
	if err := r.audit(ctx, tx, domain.AuditDeviceAdded, details); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RemoveDevice deletes a device and audits it. Returns ErrNotFound if absent.
func (r *Repository) RemoveDevice(ctx context.Context, nodeID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE node_id = ?`, nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %s: %w", nodeID, repository.ErrNotFound)
	}
	if err := r.audit(ctx, tx, domain.AuditDeviceRemoved, nodeID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Positions returns the latest known position of every device that has one
func (r *Repository) Positions(ctx context.Context) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, display_name, latitude, longitude, altitude, battery, last_updated
		FROM devices
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY node_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := []domain.Position{}
	for rows.Next() {
		var (
			p                 domain.Position
			altitude, battery sql.NullFloat64
			updated           string
		)
		if err := rows.Scan(&p.NodeID, &p.DisplayName, &p.Latitude, &p.Longitude, &altitude, &battery, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Altitude = nullToFloatPtr(altitude)
		p.Battery = nullToFloatPtr(battery)
		if p.LastUpdated, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parse last_updated: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ============================================================================
// Commit and undo
// ============================================================================

// ApplyAllocation snapshots the roster, then upserts each assignment in
// order with one audit entry per upsert and one for the whole allocation.
// Nothing is retained if any step fails.
func (r *Repository) ApplyAllocation(ctx context.Context, alloc domain.Allocation, assignments []domain.Assignment) (*domain.CommitSnapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	before, err := listDevices(ctx, tx)
	if err != nil {
		return nil, err
	}

	snapshotJSON, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	summaryJSON, err := json.Marshal(alloc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allocation: %w", err)
	}

	now := r.now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO commit_history (created_at, summary, devices) VALUES (?, ?, ?)`,
		formatTime(now), string(summaryJSON), string(snapshotJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot id: %w", err)
	}

	for _, a := range assignments {
		action, err := upsertAssignment(ctx, tx, a, now)
		if err != nil {
			return nil, err
		}
		details := fmt.Sprintf("%s %s role=%s kind=%s", action, a.NodeID, a.Role, a.ConnectionKind)
		if err := r.audit(ctx, tx, domain.AuditAllocationUpsert, details); err != nil {
			return nil, err
		}
	}

	details := fmt.Sprintf("snapshot=%d upserts=%d allocation=%s", snapshotID, len(assignments), summaryJSON)
	if err := r.audit(ctx, tx, domain.AuditAllocationCommit, details); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &domain.CommitSnapshot{
		ID:        snapshotID,
		CreatedAt: now,
		Summary:   string(summaryJSON),
		Devices:   before,
	}, nil
}

// upsertAssignment updates an existing row in place or inserts a new one.
// A display name already set on the row is kept.
func upsertAssignment(ctx context.Context, q querier, a domain.Assignment, now time.Time) (string, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE devices SET
			role = ?,
			connection_kind = ?,
			display_name = COALESCE(NULLIF(display_name, ''), ?),
			last_updated = ?
		WHERE node_id = ?
	`, string(a.Role), string(a.ConnectionKind), a.DisplayName, formatTime(now), a.NodeID)
	if err != nil {
		return "", fmt.Errorf("failed to update device %s: %w", a.NodeID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return "updated", nil
	}

	d := &domain.DeviceRecord{
		NodeID:         a.NodeID,
		DisplayName:    a.DisplayName,
		Role:           a.Role,
		ConnectionKind: a.ConnectionKind,
		LastUpdated:    now,
	}
	if d.DisplayName == "" {
		d.DisplayName = a.NodeID
	}
	if err := insertDevice(ctx, q, d); err != nil {
		return "", err
	}
	return "inserted", nil
}

// RestoreLatestSnapshot deletes every device and re-inserts the records of
// the most recent snapshot verbatim
func (r *Repository) RestoreLatestSnapshot(ctx context.Context) (*domain.CommitSnapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snap, err := scanSnapshot(tx.QueryRowContext(ctx, `
		SELECT id, created_at, summary, devices
		FROM commit_history
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNoHistory
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return nil, fmt.Errorf("failed to clear devices: %w", err)
	}
	for i := range snap.Devices {
		if err := insertDevice(ctx, tx, &snap.Devices[i]); err != nil {
			return nil, err
		}
	}

	details := fmt.Sprintf("restored snapshot %d from %s (%d devices)",
		snap.ID, formatTime(snap.CreatedAt), len(snap.Devices))
	if err := r.audit(ctx, tx, domain.AuditCommitUndone, details); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return snap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*domain.CommitSnapshot, error) {
	var (
		snap               domain.CommitSnapshot
		created, rawDevice string
	)
	if err := row.Scan(&snap.ID, &created, &snap.Summary, &rawDevice); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	var err error
	if snap.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse snapshot created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(rawDevice), &snap.Devices); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %d: %w", snap.ID, err)
	}
	if snap.Devices == nil {
		snap.Devices = []domain.DeviceRecord{}
	}
	return &snap, nil
}

// ListSnapshots returns snapshots newest first. limit <= 0 returns all.
func (r *Repository) ListSnapshots(ctx context.Context, limit int) ([]domain.CommitSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, summary, devices
		FROM commit_history
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []domain.CommitSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, rows.Err()
}

// ============================================================================
// Audit
// ============================================================================

func (r *Repository) audit(ctx context.Context, q querier, event, details string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO audit_log (event, details, created_at) VALUES (?, ?, ?)`,
		event, details, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("failed to write audit entry %s: %w", event, err)
	}
	return nil
}

// ListAudit returns audit entries newest first. limit <= 0 returns all.
func (r *Repository) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event, details, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			e       domain.AuditEntry
			created string
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.Details, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse audit created_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ============================================================================
// Telemetry
// ============================================================================

// RecordTelemetry stores one sample and copies its readings onto the
// device row when the device exists
func (r *Repository) RecordTelemetry(ctx context.Context, sample domain.TelemetrySample) error {
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = r.now()
	}
	envJSON, err := marshalToNull(sample.Env)
	if err != nil {
		return fmt.Errorf("marshal env: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO node_telemetry (`+telemetryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sample.NodeID,
		formatTime(sample.RecordedAt),
		floatPtrToNull(sample.Latitude),
		floatPtrToNull(sample.Longitude),
		floatPtrToNull(sample.Altitude),
		floatPtrToNull(sample.Battery),
		envJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE devices SET
			latitude = COALESCE(?, latitude),
			longitude = COALESCE(?, longitude),
			altitude = COALESCE(?, altitude),
			battery = COALESCE(?, battery),
			last_updated = ?
		WHERE node_id = ?
	`,
		floatPtrToNull(sample.Latitude),
		floatPtrToNull(sample.Longitude),
		floatPtrToNull(sample.Altitude),
		floatPtrToNull(sample.Battery),
		formatTime(sample.RecordedAt),
		sample.NodeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update device telemetry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LatestTelemetry returns the newest sample for a device
func (r *Repository) LatestTelemetry(ctx context.Context, nodeID string) (*domain.TelemetrySample, error) {
	var row telemetryRow
	err := r.db.QueryRowContext(ctx, `
		SELECT `+telemetryColumns+`
		FROM node_telemetry
		WHERE node_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, nodeID).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("telemetry for %s: %w", nodeID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	s, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TelemetryHistory returns samples for a device newest first
func (r *Repository) TelemetryHistory(ctx context.Context, nodeID string, limit int) ([]domain.TelemetrySample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+telemetryColumns+`
		FROM node_telemetry
		WHERE node_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, nodeID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry history: %w", err)
	}
	defer rows.Close()

	samples := []domain.TelemetrySample{}
	for rows.Next() {
		var row telemetryRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit"
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
