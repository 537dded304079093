package service

import (
	"context"

	"go.uber.org/zap"

	"meshroster/internal/domain"
	"meshroster/internal/identity"
	"meshroster/internal/probe"
)

// Discover reports scanner candidates, the default device's probe output,
// a summary of every mesh node it knows and which radio candidates match
// those nodes by hardware address. Nothing is validated or persisted.
func (s *RosterService) Discover(ctx context.Context) *domain.DiscoveryReport {
	report := &domain.DiscoveryReport{
		Candidates: []string{},
		Nodes:      []domain.NodeSummary{},
		Matches:    []domain.RadioMatch{},
	}

	if s.scanner != nil {
		candidates, err := s.scanner.Scan(ctx)
		if err != nil {
			report.Warnings = append(report.Warnings, domain.Warning{Step: "scan", Message: err.Error()})
			s.logger.Warn("candidate scan failed", zap.Error(err))
		}
		if candidates != nil {
			report.Candidates = candidates
		}
	}

	if s.info == nil {
		return report
	}
	entry, err := s.info.Get(ctx, "")
	if err != nil {
		report.ProbeError = err.Error()
		s.logger.Warn("discovery probe failed", zap.Error(err))
		return report
	}
	parsed := entry.Parsed
	report.Probe = &parsed

	if nodes := probe.Summarize(parsed); nodes != nil {
		report.Nodes = nodes
	}
	report.Matches = correlate(report.Candidates, report.Nodes)

	s.logger.Debug("discovery finished",
		zap.Int("candidates", len(report.Candidates)),
		zap.Int("nodes", len(report.Nodes)),
		zap.Int("matches", len(report.Matches)))
	return report
}

// correlate pairs radio candidates with nodes reporting the same compact MAC
func correlate(candidates []string, nodes []domain.NodeSummary) []domain.RadioMatch {
	byMAC := make(map[string]domain.NodeSummary, len(nodes))
	for _, n := range nodes {
		if n.MACAddr != "" {
			byMAC[identity.CompactMAC(n.MACAddr)] = n
		}
	}

	matches := []domain.RadioMatch{}
	for _, c := range candidates {
		if identity.KindOf(c) != domain.ConnectionRadio {
			continue
		}
		if n, ok := byMAC[identity.CompactMAC(c)]; ok {
			matches = append(matches, domain.RadioMatch{Candidate: c, NodeID: n.ID, LongName: n.LongName})
		}
	}
	return matches
}
