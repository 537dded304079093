// Package identity normalizes device addresses.
//
// Probe tools are inconsistent about how they format hardware addresses, so a
// single address is expanded into every spelling worth trying.
package identity

import (
	"net"
	"regexp"
	"strings"

	"meshroster/internal/domain"
)

// SchemePrefix is prepended to radio addresses for tools that expect a scheme
const SchemePrefix = "ble:"

var (
	windowsPort = regexp.MustCompile(`(?i)^COM\d+$`)
	separators  = strings.NewReplacer(":", "", "-", "")
)

// IsSerialPort reports whether id names a local serial endpoint
func IsSerialPort(id string) bool {
	if windowsPort.MatchString(id) {
		return true
	}
	return strings.HasPrefix(id, "/dev/tty") || strings.HasPrefix(id, "/dev/cu.")
}

// Variants expands a hardware address into ordered, de-duplicated spellings.
// The original is always first. Anything not shaped like a hardware address
// (serial ports, hosts, IPs, host:port) is returned as a single-element list.
func Variants(addr string) []string {
	if !IsHardwareAddress(addr) {
		return []string{addr}
	}

	bare := separators.Replace(addr)
	upper := strings.ToUpper(bare)

	candidates := []string{
		addr,
		upper,
		strings.ToLower(bare),
		colonize(upper),
		SchemePrefix + addr,
		SchemePrefix + bare,
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// IsHardwareAddress reports whether addr is hex digits split by ':' or '-',
// optionally behind the "ble:" scheme
func IsHardwareAddress(addr string) bool {
	if !strings.ContainsAny(addr, ":-") || IsSerialPort(addr) || IsNetworkHost(addr) {
		return false
	}
	bare := separators.Replace(strings.TrimPrefix(strings.ToLower(addr), SchemePrefix))
	if bare == "" {
		return false
	}
	for _, r := range bare {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// colonize joins s into ':'-separated pairs; a trailing odd character stands alone
func colonize(s string) string {
	if s == "" {
		return ""
	}
	pairs := make([]string, 0, (len(s)+1)/2)
	for i := 0; i < len(s); i += 2 {
		end := i + 2
		if end > len(s) {
			end = len(s)
		}
		pairs = append(pairs, s[i:end])
	}
	return strings.Join(pairs, ":")
}

// CompactMAC returns addr uppercased with ':' and '-' removed and any scheme prefix dropped.
// Used to correlate radio candidates with mesh node hardware addresses.
func CompactMAC(addr string) string {
	addr = strings.TrimPrefix(strings.ToLower(addr), SchemePrefix)
	return strings.ToUpper(separators.Replace(addr))
}

// IsNetworkHost reports whether id looks like an IP address or hostname
// reachable over TCP rather than a radio or serial address
func IsNetworkHost(id string) bool {
	if id == "" || IsSerialPort(id) {
		return false
	}
	if net.ParseIP(id) != nil {
		return true
	}
	if host, _, err := net.SplitHostPort(id); err == nil && host != "" {
		return net.ParseIP(host) != nil || looksLikeHostname(host)
	}
	if strings.ContainsAny(id, ":-") && !strings.Contains(id, ".") {
		// hardware address
		return false
	}
	return looksLikeHostname(id)
}

func looksLikeHostname(s string) bool {
	if !strings.Contains(s, ".") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}

// KindOf infers how a device identifier is reached
func KindOf(id string) domain.ConnectionKind {
	switch {
	case IsSerialPort(id):
		return domain.ConnectionSerial
	case IsNetworkHost(id):
		return domain.ConnectionNetwork
	default:
		return domain.ConnectionRadio
	}
}
