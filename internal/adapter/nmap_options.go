package adapter

import "time"

// NmapOption is a functional option for configuring NmapScanner
type NmapOption func(*NmapScanner)

// WithTimeout bounds a whole scan across all targets
func WithTimeout(d time.Duration) NmapOption {
	return func(n *NmapScanner) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithPortRange sets the ports to scan. Invalid ranges are ignored.
// Format: "4403" or "4403,4404-4410"
func WithPortRange(ports string) NmapOption {
	return func(n *NmapScanner) {
		if validated, err := parsePorts(ports); err == nil {
			n.portRange = validated
		}
	}
}

// WithSkipHostDiscovery treats every host as online (-Pn).
// Useful for networks that block ICMP
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(n *NmapScanner) {
		n.skipHostDiscovery = skip
	}
}

// WithTargets replaces the target list
func WithTargets(targets []string) NmapOption {
	return func(n *NmapScanner) {
		n.targets = targets
	}
}
