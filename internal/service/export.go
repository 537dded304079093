package service

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"meshroster/internal/codec"
	"meshroster/internal/domain"
)

// ExportRoster writes the current roster to w in format ("json" or "yaml")
func (s *RosterService) ExportRoster(ctx context.Context, format string, w io.Writer) error {
	c, err := codec.ForFormat(format)
	if err != nil {
		return err
	}
	devices, err := s.repo.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	return c.Export(codec.NewDocument(devices, s.now()), w)
}

// ImportRoster adds every device of a roster document through AddDevice.
// Devices already present are reported as failed results, not errors.
func (s *RosterService) ImportRoster(ctx context.Context, format string, r io.Reader) ([]domain.MutationResult, error) {
	c, err := codec.ForFormat(format)
	if err != nil {
		return nil, err
	}
	doc, err := c.Parse(r)
	if err != nil {
		return nil, err
	}

	results := make([]domain.MutationResult, 0, len(doc.Devices))
	for _, d := range doc.Devices {
		res := s.AddDevice(ctx, AddDeviceRequest{
			NodeID:         d.NodeID,
			DisplayName:    d.DisplayName,
			Role:           string(d.Role),
			ConnectionKind: string(d.ConnectionKind),
		})
		if !res.OK {
			res.Reason = d.NodeID + ": " + res.Reason
		}
		results = append(results, res)
	}
	s.logger.Info("roster imported", zap.String("format", c.Format()), zap.Int("devices", len(doc.Devices)))
	return results, nil
}
