package domain

import "encoding/json"

// FailureKind classifies why an operation did not succeed
type FailureKind string

const (
	// FailureToolUnavailable - the external probe binary is missing
	FailureToolUnavailable FailureKind = "tool_unavailable"
	// FailureUnreachable - the probe ran but nothing answered
	FailureUnreachable FailureKind = "unreachable"
	// FailureIdentityMismatch - a device answered but the expected token was absent
	FailureIdentityMismatch FailureKind = "identity_mismatch"
	// FailureStorage - snapshot, mutation or restore failed and was rolled back
	FailureStorage FailureKind = "storage_error"
	// FailureNoHistory - undo requested with no snapshots recorded
	FailureNoHistory FailureKind = "no_history"
)

// ValidationResult is produced fresh by every validation; it is never persisted
type ValidationResult struct {
	OK      bool        `json:"ok"`
	Reason  string      `json:"reason"`
	Kind    FailureKind `json:"kind,omitempty"`
	Device  string      `json:"device"`
	Variant string      `json:"variant,omitempty"`
	Raw     string      `json:"raw"`
	Parsed  *ProbeInfo  `json:"parsed"`
}

// ProbeInfoKind tells which shape a parsed probe result took
type ProbeInfoKind string

const (
	ProbeInfoNodes ProbeInfoKind = "nodes"
	ProbeInfoInfo  ProbeInfoKind = "info"
	ProbeInfoRaw   ProbeInfoKind = "raw"
)

// ProbeInfo is the structured form of raw probe output.
// Exactly one of Nodes, Info or Raw is meaningful, selected by Kind.
type ProbeInfo struct {
	Kind  ProbeInfoKind
	Nodes map[string]any
	Info  any
	Raw   string
}

// MarshalJSON encodes the info under a single "nodes", "info" or "raw" key
func (p ProbeInfo) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case ProbeInfoNodes:
		nodes := p.Nodes
		if nodes == nil {
			nodes = map[string]any{}
		}
		return json.Marshal(map[string]any{"nodes": nodes})
	case ProbeInfoInfo:
		return json.Marshal(map[string]any{"info": p.Info})
	default:
		return json.Marshal(map[string]any{"raw": p.Raw})
	}
}

// HasContent reports whether the info carries anything worth reporting
func (p ProbeInfo) HasContent() bool {
	switch p.Kind {
	case ProbeInfoNodes:
		return len(p.Nodes) > 0
	case ProbeInfoInfo:
		return p.Info != nil
	default:
		return p.Raw != ""
	}
}

// NodeSummary is a concise view of one mesh node entry reported by the probe
type NodeSummary struct {
	ID        string   `json:"id"`
	LongName  string   `json:"long_name,omitempty"`
	ShortName string   `json:"short_name,omitempty"`
	MACAddr   string   `json:"macaddr,omitempty"`
	HWModel   string   `json:"hw_model,omitempty"`
	SNR       *float64 `json:"snr,omitempty"`
	HopsAway  *int     `json:"hops_away,omitempty"`
	LastHeard *int64   `json:"last_heard,omitempty"`
}

// RadioMatch links a scanned radio candidate to the mesh node reporting the same hardware address
type RadioMatch struct {
	Candidate string `json:"candidate"`
	NodeID    string `json:"node_id"`
	LongName  string `json:"long_name,omitempty"`
}

// DiscoveryReport is a read-only view of what the scanners and the probe can see
type DiscoveryReport struct {
	Candidates []string      `json:"candidates"`
	Probe      *ProbeInfo    `json:"probe,omitempty"`
	ProbeError string        `json:"probe_error,omitempty"`
	Nodes      []NodeSummary `json:"nodes"`
	Matches    []RadioMatch  `json:"matches"`
	Warnings   []Warning     `json:"warnings,omitempty"`
}
