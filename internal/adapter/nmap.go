package adapter

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"go.uber.org/zap"
)

// NmapScanner sweeps network ranges for hosts exposing the radio TCP API
type NmapScanner struct {
	targets           []string
	timeout           time.Duration
	portRange         string
	skipHostDiscovery bool
	logger            *zap.Logger
}

// NewNmapScanner creates a scanner over targets (CIDR ranges, IPs or hostnames)
func NewNmapScanner(targets []string, logger *zap.Logger, opts ...NmapOption) *NmapScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &NmapScanner{
		targets:   targets,
		timeout:   2 * time.Minute,
		portRange: strconv.Itoa(MeshAPIPort),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the scanner name
func (n *NmapScanner) Name() string {
	return "nmap"
}

// Scan runs one nmap pass per target and returns "ip:port" for every open port.
// A target that fails is logged and skipped.
func (n *NmapScanner) Scan(ctx context.Context) ([]string, error) {
	targets, err := expandTargets(n.targets)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var found []string
	failed := 0
	for _, target := range targets {
		ids, err := n.scanTarget(ctx, target)
		if err != nil {
			n.logger.Warn("nmap target failed", zap.String("target", target), zap.Error(err))
			failed++
			continue
		}
		found = append(found, ids...)
	}
	if failed == len(targets) {
		return nil, fmt.Errorf("all %d nmap targets failed", failed)
	}

	n.logger.Info("nmap scan complete", zap.Int("targets", len(targets)), zap.Int("found", len(found)))
	return dedupe(found), nil
}

// scanTarget performs nmap scan on a single target
func (n *NmapScanner) scanTarget(ctx context.Context, target string) ([]string, error) {
	opts := []nmap.Option{
		nmap.WithTargets(target),
		nmap.WithPorts(n.portRange),
		nmap.WithOpenOnly(),
	}
	if n.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	n.logger.Debug("nmap scanning", zap.String("target", target), zap.String("ports", n.portRange))
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		n.logger.Debug("nmap warnings", zap.String("target", target), zap.Strings("warnings", *warnings))
	}

	return processResults(result)
}

// processResults turns open ports on live hosts into candidate identifiers
func processResults(result *nmap.Run) ([]string, error) {
	if result == nil {
		return nil, fmt.Errorf("nil scan result")
	}

	var ids []string
	for _, host := range result.Hosts {
		if len(host.Addresses) == 0 || host.Status.State != "up" {
			continue
		}

		var ip string
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" {
				ip = addr.Addr
				break
			}
		}
		if ip == "" {
			ip = host.Addresses[0].Addr
		}

		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			ids = append(ids, net.JoinHostPort(ip, strconv.Itoa(int(port.ID))))
		}
	}
	return ids, nil
}

// expandTargets validates CIDR targets and keeps the rest as given
func expandTargets(targets []string) ([]string, error) {
	var expanded []string
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if strings.Contains(target, "/") {
			_, ipNet, err := net.ParseCIDR(target)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %s: %w", target, err)
			}
			expanded = append(expanded, ipNet.String())
		} else {
			expanded = append(expanded, target)
		}
	}
	return expanded, nil
}

// parsePorts validates a port list such as "4403" or "4403,4404-4410"
func parsePorts(portRange string) (string, error) {
	if strings.TrimSpace(portRange) == "" {
		return "", fmt.Errorf("empty port range")
	}
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return "", fmt.Errorf("invalid port range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil || start < 1 || start > 65535 {
				return "", fmt.Errorf("invalid port number: %s", rangeParts[0])
			}
			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil || end < 1 || end > 65535 || end < start {
				return "", fmt.Errorf("invalid port number: %s", rangeParts[1])
			}
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return "", fmt.Errorf("invalid port number: %s", part)
		}
	}
	return portRange, nil
}
