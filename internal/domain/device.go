package domain

import "time"

// Role is the operational role a device holds in the roster
type Role string

const (
	RoleUnassigned Role = "UNASSIGNED"
	RolePrimary    Role = "PRIMARY"
	RoleSecondary  Role = "SECONDARY"
	RoleClient     Role = "CLIENT"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUnassigned, RolePrimary, RoleSecondary, RoleClient:
		return true
	}
	return false
}

// ParseRole converts a string to a Role, defaulting to UNASSIGNED
func ParseRole(s string) Role {
	r := Role(s)
	if r.Valid() {
		return r
	}
	return RoleUnassigned
}

// ConnectionKind describes how the host reaches a device
type ConnectionKind string

const (
	ConnectionSerial  ConnectionKind = "serial"
	ConnectionRadio   ConnectionKind = "radio"
	ConnectionNetwork ConnectionKind = "network"
)

// Valid reports whether k is one of the known connection kinds
func (k ConnectionKind) Valid() bool {
	switch k {
	case ConnectionSerial, ConnectionRadio, ConnectionNetwork:
		return true
	}
	return false
}

// DeviceRecord is one row of the roster.
// NodeID is the unique business key (serial port name, hardware address or host).
type DeviceRecord struct {
	NodeID         string         `json:"node_id" yaml:"node_id"`
	DisplayName    string         `json:"display_name" yaml:"display_name"`
	ShortName      string         `json:"short_name,omitempty" yaml:"short_name,omitempty"`
	HardwareModel  string         `json:"hw_model,omitempty" yaml:"hw_model,omitempty"`
	Role           Role           `json:"role" yaml:"role"`
	ConnectionKind ConnectionKind `json:"connection_kind" yaml:"connection_kind"`
	LastHeard      *time.Time     `json:"last_heard,omitempty" yaml:"last_heard,omitempty"`

	// Link quality
	SNR      *float64 `json:"snr,omitempty" yaml:"snr,omitempty"`
	RSSI     *float64 `json:"rssi,omitempty" yaml:"rssi,omitempty"`
	HopsAway *int     `json:"hops_away,omitempty" yaml:"hops_away,omitempty"`

	// Device metrics
	Battery *float64 `json:"battery,omitempty" yaml:"battery,omitempty"`
	Uptime  *float64 `json:"uptime,omitempty" yaml:"uptime,omitempty"`

	// Latest position reported through telemetry
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty" yaml:"altitude,omitempty"`

	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
}

// NewDeviceRecord creates a record with the given identity and role
func NewDeviceRecord(nodeID string, kind ConnectionKind, role Role) *DeviceRecord {
	return &DeviceRecord{
		NodeID:         nodeID,
		DisplayName:    nodeID,
		Role:           role,
		ConnectionKind: kind,
		LastUpdated:    time.Now().UTC(),
	}
}

// HasPosition reports whether the record carries a latitude/longitude pair
func (d *DeviceRecord) HasPosition() bool {
	return d.Latitude != nil && d.Longitude != nil
}

// Position is the latest known location of a device
type Position struct {
	NodeID      string    `json:"node_id"`
	DisplayName string    `json:"display_name"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Altitude    *float64  `json:"altitude,omitempty"`
	Battery     *float64  `json:"battery,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}
