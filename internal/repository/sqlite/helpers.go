package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"meshroster/internal/domain"
)

// timeLayout is fixed-width so TEXT columns sort chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullToFloatPtr converts sql.NullFloat64 to *float64
func nullToFloatPtr(nf sql.NullFloat64) *float64 {
	if nf.Valid {
		v := nf.Float64
		return &v
	}
	return nil
}

// floatPtrToNull converts *float64 to sql.NullFloat64
func floatPtrToNull(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// nullToIntPtr converts sql.NullInt64 to *int
func nullToIntPtr(ni sql.NullInt64) *int {
	if ni.Valid {
		v := int(ni.Int64)
		return &v
	}
	return nil
}

// intPtrToNull converts *int to sql.NullInt64
func intPtrToNull(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// formatTime renders t in UTC with a fixed-width layout
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a value written by formatTime
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// timePtrToNull converts *time.Time to a nullable TEXT value
func timePtrToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullToTimePtr parses a nullable TEXT timestamp
func nullToTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals interface to nullable JSON string
// Returns empty NullString for nil or empty maps
func marshalToNull(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}

	// Handle empty maps - don't store "{}"
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ============================================================================
// Schema Evolution Guide
// ============================================================================
//
// To add a new column to the devices table:
// 1. Add field to deviceRow struct (below)
// 2. Update scanArgs() - APPEND to end to match column order
// 3. Update deviceColumns constant - APPEND to end
// 4. Update toDomain() and deviceInsertArgs()
// 5. Add the column to schema.sql and a migration in migrate()
//
// CRITICAL: Column order must match between deviceColumns, scanArgs()
// and deviceInsertArgs().

// ============================================================================
// Device Row Scanner
// ============================================================================

// deviceRow holds all columns from a device query for scanning
type deviceRow struct {
	NodeID         string
	DisplayName    string
	ShortName      sql.NullString
	HWModel        sql.NullString
	Role           string
	ConnectionKind string
	LastHeard      sql.NullString
	SNR            sql.NullFloat64
	RSSI           sql.NullFloat64
	HopsAway       sql.NullInt64
	Battery        sql.NullFloat64
	Uptime         sql.NullFloat64
	Latitude       sql.NullFloat64
	Longitude      sql.NullFloat64
	Altitude       sql.NullFloat64
	LastUpdated    string
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match deviceColumns order exactly
func (r *deviceRow) scanArgs() []interface{} {
	return []interface{}{
		&r.NodeID,         // 1
		&r.DisplayName,    // 2
		&r.ShortName,      // 3
		&r.HWModel,        // 4
		&r.Role,           // 5
		&r.ConnectionKind, // 6
		&r.LastHeard,      // 7
		&r.SNR,            // 8
		&r.RSSI,           // 9
		&r.HopsAway,       // 10
		&r.Battery,        // 11
		&r.Uptime,         // 12
		&r.Latitude,       // 13
		&r.Longitude,      // 14
		&r.Altitude,       // 15
		&r.LastUpdated,    // 16
	}
}

// toDomain converts the scanned row to a domain.DeviceRecord
func (r *deviceRow) toDomain() (domain.DeviceRecord, error) {
	d := domain.DeviceRecord{
		NodeID:         r.NodeID,
		DisplayName:    r.DisplayName,
		ShortName:      nullToString(r.ShortName),
		HardwareModel:  nullToString(r.HWModel),
		Role:           domain.ParseRole(r.Role),
		ConnectionKind: domain.ConnectionKind(r.ConnectionKind),
		SNR:            nullToFloatPtr(r.SNR),
		RSSI:           nullToFloatPtr(r.RSSI),
		HopsAway:       nullToIntPtr(r.HopsAway),
		Battery:        nullToFloatPtr(r.Battery),
		Uptime:         nullToFloatPtr(r.Uptime),
		Latitude:       nullToFloatPtr(r.Latitude),
		Longitude:      nullToFloatPtr(r.Longitude),
		Altitude:       nullToFloatPtr(r.Altitude),
	}

	lastHeard, err := nullToTimePtr(r.LastHeard)
	if err != nil {
		return d, fmt.Errorf("parse last_heard: %w", err)
	}
	d.LastHeard = lastHeard

	d.LastUpdated, err = parseTime(r.LastUpdated)
	if err != nil {
		return d, fmt.Errorf("parse last_updated: %w", err)
	}
	return d, nil
}

// deviceColumns is the SELECT and INSERT column list for device queries
const deviceColumns = `node_id, display_name, short_name, hw_model, role, connection_kind,
	last_heard, snr, rssi, hops_away, battery, uptime,
	latitude, longitude, altitude, last_updated`

// deviceInsertArgs prepares arguments for a device INSERT in deviceColumns order
func deviceInsertArgs(d *domain.DeviceRecord) []interface{} {
	return []interface{}{
		d.NodeID,
		d.DisplayName,
		stringToNull(d.ShortName),
		stringToNull(d.HardwareModel),
		string(d.Role),
		string(d.ConnectionKind),
		timePtrToNull(d.LastHeard),
		floatPtrToNull(d.SNR),
		floatPtrToNull(d.RSSI),
		intPtrToNull(d.HopsAway),
		floatPtrToNull(d.Battery),
		floatPtrToNull(d.Uptime),
		floatPtrToNull(d.Latitude),
		floatPtrToNull(d.Longitude),
		floatPtrToNull(d.Altitude),
		formatTime(d.LastUpdated),
	}
}

// ============================================================================
// Telemetry Row Scanner
// ============================================================================

// telemetryRow holds all columns from a node_telemetry query
type telemetryRow struct {
	NodeID     string
	RecordedAt string
	Latitude   sql.NullFloat64
	Longitude  sql.NullFloat64
	Altitude   sql.NullFloat64
	Battery    sql.NullFloat64
	EnvJSON    sql.NullString
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match telemetryColumns order exactly:
// node_id, recorded_at, latitude, longitude, altitude, battery, env_json
func (r *telemetryRow) scanArgs() []interface{} {
	return []interface{}{
		&r.NodeID,
		&r.RecordedAt,
		&r.Latitude,
		&r.Longitude,
		&r.Altitude,
		&r.Battery,
		&r.EnvJSON,
	}
}

func (r *telemetryRow) toDomain() (domain.TelemetrySample, error) {
	s := domain.TelemetrySample{
		NodeID:    r.NodeID,
		Latitude:  nullToFloatPtr(r.Latitude),
		Longitude: nullToFloatPtr(r.Longitude),
		Altitude:  nullToFloatPtr(r.Altitude),
		Battery:   nullToFloatPtr(r.Battery),
	}
	var err error
	if s.RecordedAt, err = parseTime(r.RecordedAt); err != nil {
		return s, fmt.Errorf("parse recorded_at: %w", err)
	}
	if err := unmarshalJSONField(r.EnvJSON, &s.Env); err != nil {
		return s, fmt.Errorf("unmarshal env: %w", err)
	}
	return s, nil
}

const telemetryColumns = `node_id, recorded_at, latitude, longitude, altitude, battery, env_json`
