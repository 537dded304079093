package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"meshroster/internal/domain"
	"meshroster/internal/service"
)

func newDiscoverCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Report candidate devices and the mesh nodes they can see",
		Long: `Run the configured scanners, probe the default device once and list
the mesh nodes it reports. Radio candidates whose hardware address matches a
node are paired up. Nothing is validated or written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.svc.Discover(cmd.Context())
			return opts.print(cmd.OutOrStdout(), report, func(w io.Writer) {
				fmt.Fprintf(w, "Candidates (%d):\n", len(report.Candidates))
				for _, c := range report.Candidates {
					fmt.Fprintf(w, "  %s\n", c)
				}
				if report.ProbeError != "" {
					fmt.Fprintf(w, "\nProbe failed: %s\n", report.ProbeError)
				}
				fmt.Fprintf(w, "\nMesh nodes (%d):\n", len(report.Nodes))
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, n := range report.Nodes {
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", n.ID, n.LongName, n.MACAddr, n.HWModel)
				}
				tw.Flush()
				for _, m := range report.Matches {
					fmt.Fprintf(w, "\n%s is node %s (%s)", m.Candidate, m.NodeID, m.LongName)
				}
				if len(report.Matches) > 0 {
					fmt.Fprintln(w)
				}
				printWarnings(w, report.Warnings)
			})
		},
	}
}

func newValidateCmd(opts *globalOptions) *cobra.Command {
	var expected string
	cmd := &cobra.Command{
		Use:   "validate <device>",
		Short: "Check that one device answers the probe",
		Example: `  meshroster validate /dev/ttyUSB0
  meshroster validate AA:BB:CC:DD:EE:FF --expected '!a1b2c3d4'
  meshroster validate 192.168.1.40:4403`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.svc.Validate(cmd.Context(), args[0], expected)
			if err := opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				status := "FAIL"
				if res.OK {
					status = "OK"
				}
				fmt.Fprintf(w, "%s %s: %s\n", status, args[0], res.Reason)
				if res.Variant != "" && res.Variant != args[0] {
					fmt.Fprintf(w, "  answered as %s\n", res.Variant)
				}
			}); err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("%s not validated (%s)", args[0], kindOr(res.Kind, "failed"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&expected, "expected", "", "Identifier the device output must contain")
	return cmd
}

func newCommitCmd(opts *globalOptions) *cobra.Command {
	var (
		mode    string
		primary string
		apply   bool
	)
	cmd := &cobra.Command{
		Use:   "commit [candidate...]",
		Short: "Validate candidates, plan roles and optionally apply them",
		Long: `Validate each candidate in order, pick a PRIMARY and SECONDARY devices
among those that answered and, with --apply, write the plan to the roster.
Without candidates the configured scanners supply them.

The roster is snapshotted before every applied commit; 'meshroster undo'
restores it.`,
		Example: `  # Plan only
  meshroster commit /dev/ttyUSB0 AA:BB:CC:DD:EE:FF

  # Apply with a fixed primary
  meshroster commit --apply --mode manual --primary /dev/ttyUSB0 /dev/ttyUSB0 COM5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			req := service.CommitRequest{
				Candidates:    args,
				Mode:          domain.ParseAllocationMode(a.cfg.Allocation.Mode),
				ManualPrimary: a.cfg.Allocation.ManualPrimary,
				AutoCommit:    a.cfg.Allocation.AutoCommit,
			}
			if cmd.Flags().Changed("mode") {
				req.Mode = domain.AllocationMode(mode)
			}
			if !req.Mode.Valid() {
				return fmt.Errorf("--mode must be auto or manual, got %q", req.Mode)
			}
			if cmd.Flags().Changed("primary") {
				req.ManualPrimary = primary
			}
			if cmd.Flags().Changed("apply") {
				req.AutoCommit = apply
			}

			outcome := a.svc.Commit(cmd.Context(), req)
			if err := opts.print(cmd.OutOrStdout(), outcome, func(w io.Writer) {
				printOutcome(w, outcome)
			}); err != nil {
				return err
			}
			if outcome.Error != "" {
				return errors.New(outcome.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "auto", "Allocation mode: auto or manual")
	cmd.Flags().StringVar(&primary, "primary", "", "PRIMARY device for manual mode")
	cmd.Flags().BoolVar(&apply, "apply", false, "Write the plan to the roster (default: allocation.auto_commit)")
	return cmd
}

func printOutcome(w io.Writer, o *domain.CommitOutcome) {
	for _, at := range o.Attempts {
		status := "ok  "
		if !at.OK {
			status = "fail"
		}
		fmt.Fprintf(w, "%s %s: %s\n", status, at.Device, at.Reason)
	}
	fmt.Fprintf(w, "\nMode: %s\n", o.Allocation.Mode)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, as := range o.Assignments {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", as.Role, as.NodeID, as.ConnectionKind)
	}
	tw.Flush()
	if len(o.Assignments) == 0 {
		fmt.Fprintln(w, "  (no devices answered)")
	}

	switch {
	case o.Committed:
		fmt.Fprintf(w, "\nCommitted: %d upserts, snapshot %d\n", o.Upserted, o.SnapshotID)
	case o.DryRun:
		fmt.Fprintln(w, "\nDry run: roster unchanged (use --apply to write)")
	default:
		fmt.Fprintf(w, "\nNot committed: %s\n", o.Error)
	}
	printWarnings(w, o.Warnings)
}

func newUndoCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Restore the roster from the latest commit snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.svc.Undo(cmd.Context())
			if err := opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				if res.OK {
					fmt.Fprintf(w, "Restored %d devices from snapshot %d (%s)\n",
						res.Restored, res.SnapshotID, res.RestoredAt.Format(time.RFC3339))
				}
			}); err != nil {
				return err
			}
			if !res.OK {
				return errors.New(res.Reason)
			}
			return nil
		},
	}
}

func newDeviceCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage roster devices by hand",
	}
	cmd.AddCommand(newDeviceListCmd(opts), newDeviceAddCmd(opts), newDeviceRemoveCmd(opts), newDeviceImportCmd(opts))
	return cmd
}

func newDeviceListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List roster devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			devices, err := a.svc.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), devices, func(w io.Writer) {
				if len(devices) == 0 {
					fmt.Fprintln(w, "Roster is empty.")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NODE\tNAME\tROLE\tKIND\tBATTERY\tUPDATED")
				for _, d := range devices {
					battery := "-"
					if d.Battery != nil {
						battery = fmt.Sprintf("%.0f%%", *d.Battery)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						d.NodeID, d.DisplayName, d.Role, d.ConnectionKind, battery,
						d.LastUpdated.Format(time.RFC3339))
				}
				tw.Flush()
			})
		},
	}
}

func newDeviceAddCmd(opts *globalOptions) *cobra.Command {
	var req service.AddDeviceRequest
	cmd := &cobra.Command{
		Use:   "add <node-id>",
		Short: "Add a device to the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			req.NodeID = args[0]
			req.Role = strings.ToUpper(req.Role)
			return mutation(cmd, opts, a.svc.AddDevice(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "Display name (default: node id)")
	cmd.Flags().StringVar(&req.Role, "role", "", "Role: primary, secondary, client (default: unassigned)")
	cmd.Flags().StringVar(&req.ConnectionKind, "kind", "", "Connection kind: serial, radio, network (default: inferred)")
	return cmd
}

func newDeviceRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <node-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a device from the roster",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()
			return mutation(cmd, opts, a.svc.RemoveDevice(cmd.Context(), args[0]))
		},
	}
}

func newDeviceImportCmd(opts *globalOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Add every device of an exported roster file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(args[0]), ".")
			}
			results, err := a.svc.ImportRoster(cmd.Context(), format, f)
			if err != nil {
				return err
			}
			added := 0
			for _, r := range results {
				if r.OK {
					added++
				}
			}
			return opts.print(cmd.OutOrStdout(), results, func(w io.Writer) {
				for _, r := range results {
					if !r.OK {
						fmt.Fprintf(w, "skipped %s\n", r.Reason)
					}
				}
				fmt.Fprintf(w, "Imported %d of %d devices\n", added, len(results))
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "json or yaml (default: from file extension)")
	return cmd
}

func mutation(cmd *cobra.Command, opts *globalOptions, res domain.MutationResult) error {
	if err := opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
		if res.OK {
			fmt.Fprintln(w, res.Reason)
		}
	}); err != nil {
		return err
	}
	if !res.OK {
		return errors.New(res.Reason)
	}
	return nil
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List commit snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			snaps, err := a.svc.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), snaps, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tDEVICES\tSUMMARY")
				for _, s := range snaps {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", s.ID, s.CreatedAt.Format(time.RFC3339), len(s.Devices), s.Summary)
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum snapshots to list (0 = all)")
	return cmd
}

func newAuditCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.svc.Audit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), entries, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Event, e.Details)
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to list (0 = all)")
	return cmd
}

func newTelemetryCmd(opts *globalOptions) *cobra.Command {
	var (
		history bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "telemetry <node-id>",
		Short: "Show stored telemetry for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			var samples []domain.TelemetrySample
			if history {
				samples, err = a.svc.TelemetryHistory(cmd.Context(), args[0], limit)
			} else {
				var s *domain.TelemetrySample
				s, err = a.svc.LatestTelemetry(cmd.Context(), args[0])
				if s != nil {
					samples = []domain.TelemetrySample{*s}
				}
			}
			if err != nil {
				return fmt.Errorf("telemetry for %s: %w", args[0], err)
			}
			return opts.print(cmd.OutOrStdout(), samples, func(w io.Writer) {
				for _, s := range samples {
					fmt.Fprintf(w, "%s  battery=%s lat=%s lon=%s alt=%s\n",
						s.RecordedAt.Format(time.RFC3339), fmtFloat(s.Battery),
						fmtFloat(s.Latitude), fmtFloat(s.Longitude), fmtFloat(s.Altitude))
				}
			})
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "List all samples instead of the latest")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum samples with --history (0 = all)")
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the roster as JSON or YAML",
		Example: `  meshroster export --format yaml
  meshroster export --format json --output roster.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.svc.ExportRoster(cmd.Context(), format, w)
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func printWarnings(w io.Writer, warnings []domain.Warning) {
	for _, wn := range warnings {
		if wn.Device != "" {
			fmt.Fprintf(w, "warning: %s %s: %s\n", wn.Step, wn.Device, wn.Message)
		} else {
			fmt.Fprintf(w, "warning: %s: %s\n", wn.Step, wn.Message)
		}
	}
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}

func kindOr(k domain.FailureKind, def string) string {
	if k == "" {
		return def
	}
	return string(k)
}
