package adapter

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	// MeshServiceType is the service advertised by network-attached radios
	MeshServiceType = "_meshtastic._tcp"

	// ServiceDomain is the mDNS browse domain
	ServiceDomain = "local."

	// DefaultBrowseTimeout bounds one mDNS browse
	DefaultBrowseTimeout = 5 * time.Second

	// MeshAPIPort is the radio TCP API port
	MeshAPIPort = 4403
)

// MDNSScanner browses the local link for radio advertisements
type MDNSScanner struct {
	service string
	timeout time.Duration
	logger  *zap.Logger
}

// NewMDNSScanner creates a scanner browsing MeshServiceType.
// A non-positive timeout selects DefaultBrowseTimeout.
func NewMDNSScanner(timeout time.Duration, logger *zap.Logger) *MDNSScanner {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MDNSScanner{
		service: MeshServiceType,
		timeout: timeout,
		logger:  logger,
	}
}

// Name returns the scanner name
func (s *MDNSScanner) Name() string {
	return "mdns"
}

// Scan browses until the timeout and returns one host:port per responder
func (s *MDNSScanner) Scan(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan []string, 1)
	go func() {
		results <- s.collect(ctx, entries)
	}()

	if err := resolver.Browse(ctx, s.service, ServiceDomain, entries); err != nil {
		cancel()
		<-results
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	return dedupe(<-results), nil
}

// collect reads responders until entries closes or ctx is done
func (s *MDNSScanner) collect(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) []string {
	var found []string
	for {
		select {
		case <-ctx.Done():
			return found
		case entry, ok := <-entries:
			if !ok {
				return found
			}
			id := parseServiceEntry(entry)
			if id == "" {
				continue
			}
			s.logger.Debug("mDNS responder", zap.String("instance", entry.Instance), zap.String("id", id))
			found = append(found, id)
		}
	}
}

// parseServiceEntry returns "ip:port" for an entry, preferring IPv4.
// Entries without an address yield "".
func parseServiceEntry(entry *zeroconf.ServiceEntry) string {
	if entry == nil {
		return ""
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return ""
	}

	port := entry.Port
	if port == 0 {
		port = MeshAPIPort
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
