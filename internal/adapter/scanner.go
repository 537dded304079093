package adapter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// CandidateScanner produces device identifiers worth validating
type CandidateScanner interface {
	Name() string
	Scan(ctx context.Context) ([]string, error)
}

// MultiScanner runs a list of scanners in order
type MultiScanner struct {
	scanners []CandidateScanner
	logger   *zap.Logger
}

// NewMultiScanner creates a scanner that merges the results of scanners.
// Nil entries are ignored.
func NewMultiScanner(logger *zap.Logger, scanners ...CandidateScanner) *MultiScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MultiScanner{logger: logger}
	for _, s := range scanners {
		if s != nil {
			m.scanners = append(m.scanners, s)
		}
	}
	return m
}

// Name returns the scanner name
func (m *MultiScanner) Name() string {
	return "multi"
}

// Len returns the number of configured scanners
func (m *MultiScanner) Len() int {
	return len(m.scanners)
}

// Scan runs every scanner and returns the de-duplicated candidates in
// first-seen order. A failing scanner is logged and skipped. An error is
// returned only when every scanner failed or ctx was cancelled.
func (m *MultiScanner) Scan(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	candidates := make([]string, 0)
	var errs []error

	for _, s := range m.scanners {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}

		found, err := s.Scan(ctx)
		if err != nil {
			m.logger.Warn("scanner failed",
				zap.String("scanner", s.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}

		added := 0
		for _, id := range found {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			candidates = append(candidates, id)
			added++
		}
		m.logger.Debug("scanner finished",
			zap.String("scanner", s.Name()),
			zap.Int("found", len(found)),
			zap.Int("new", added))
	}

	if len(errs) > 0 && len(errs) == len(m.scanners) {
		return candidates, errors.Join(errs...)
	}
	return candidates, nil
}

// StaticScanner returns a fixed list of identifiers
type StaticScanner struct {
	ids []string
}

// NewStaticScanner creates a scanner over ids
func NewStaticScanner(ids []string) *StaticScanner {
	return &StaticScanner{ids: append([]string(nil), ids...)}
}

// Name returns the scanner name
func (s *StaticScanner) Name() string {
	return "static"
}

// Scan returns a copy of the configured identifiers
func (s *StaticScanner) Scan(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.ids...), nil
}
