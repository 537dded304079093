package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"meshroster/internal/config"
	"meshroster/internal/logging"
	"meshroster/internal/version"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configPath string
	logLevel   string
	dbPath     string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "meshroster",
		Short: "Mesh radio roster manager",
		Long: `Keeps a roster of mesh radio devices.

Candidates are validated through the meshtastic CLI, roles are planned among
the devices that answer, and every commit snapshots the previous roster so it
can be restored with 'undo'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (default: $MESHROSTER_CONFIG, ./meshroster.yaml, XDG, /etc)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: config, else silent)")
	pf.StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")
	pf.BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(
		newServeCmd(opts),
		newDiscoverCmd(opts),
		newValidateCmd(opts),
		newCommitCmd(opts),
		newUndoCmd(opts),
		newDeviceCmd(opts),
		newHistoryCmd(opts),
		newAuditCmd(opts),
		newTelemetryCmd(opts),
		newExportCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file and applies flag overrides
func (o *globalOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, _, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, _, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// open loads config and builds the application stack
func (o *globalOptions) open() (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logger)
}

// print writes v as JSON when --json is set, otherwise calls human
func (o *globalOptions) print(w io.Writer, v any, human func(w io.Writer)) error {
	if o.jsonOut || human == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "meshroster %s\n", version.Full())
		},
	}
}
