package engine

import "meshroster/internal/domain"

// Plan assigns roles among available devices.
//
// In auto mode the first available device is primary, so the caller's
// discovery order is the tie-break. In manual mode manualPrimary is primary
// whether or not it was validated; an empty manualPrimary falls back to auto.
// Repeated ids are planned once and the primary never appears as a secondary.
func Plan(available []string, mode domain.AllocationMode, manualPrimary string) domain.Allocation {
	alloc := domain.Allocation{Mode: domain.AllocationAuto, Secondaries: []string{}}

	switch {
	case mode == domain.AllocationManual && manualPrimary != "":
		alloc.Mode = domain.AllocationManual
		alloc.Primary = manualPrimary
	case len(available) > 0:
		alloc.Primary = available[0]
	default:
		return alloc
	}

	seen := map[string]bool{alloc.Primary: true}
	for _, id := range available {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		alloc.Secondaries = append(alloc.Secondaries, id)
	}
	return alloc
}
