package domain

// AllocationMode selects how the planner chooses the primary device
type AllocationMode string

const (
	// AllocationAuto picks the first available device in discovery order
	AllocationAuto AllocationMode = "auto"
	// AllocationManual uses the caller-supplied primary
	AllocationManual AllocationMode = "manual"
)

// Valid reports whether m is auto or manual
func (m AllocationMode) Valid() bool {
	return m == AllocationAuto || m == AllocationManual
}

// ParseAllocationMode converts a string to a mode, defaulting to auto
func ParseAllocationMode(s string) AllocationMode {
	if AllocationMode(s) == AllocationManual {
		return AllocationManual
	}
	return AllocationAuto
}

// Allocation is the planner's role decision
type Allocation struct {
	Mode        AllocationMode `json:"mode"`
	Primary     string         `json:"primary"`
	Secondaries []string       `json:"secondaries"`
}

// Empty reports whether the allocation names no devices
func (a Allocation) Empty() bool {
	return a.Primary == "" && len(a.Secondaries) == 0
}

// Assignment is one device's role within an allocation
type Assignment struct {
	NodeID         string         `json:"node_id"`
	Role           Role           `json:"role"`
	ConnectionKind ConnectionKind `json:"connection_kind"`
	DisplayName    string         `json:"display_name"`
}

// Assignments lists the allocation's devices, primary first, then secondaries.
// kindOf infers the connection kind for each identifier.
func (a Allocation) Assignments(kindOf func(string) ConnectionKind) []Assignment {
	out := make([]Assignment, 0, len(a.Secondaries)+1)
	if a.Primary != "" {
		out = append(out, Assignment{
			NodeID:         a.Primary,
			Role:           RolePrimary,
			ConnectionKind: kindOf(a.Primary),
			DisplayName:    a.Primary,
		})
	}
	for _, id := range a.Secondaries {
		if id == "" {
			continue
		}
		out = append(out, Assignment{
			NodeID:         id,
			Role:           RoleSecondary,
			ConnectionKind: kindOf(id),
			DisplayName:    id,
		})
	}
	return out
}

// Attempt records whether one candidate passed validation during a discovery pass
type Attempt struct {
	Device  string      `json:"device"`
	OK      bool        `json:"ok"`
	Reason  string      `json:"reason"`
	Kind    FailureKind `json:"kind,omitempty"`
	Variant string      `json:"variant,omitempty"`
	Raw     string      `json:"raw,omitempty"`
}
