package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	CallType  string
	BatchFile string
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	CallType   string
	ServerURL  string
	APITimeout time.Duration
	Limit      int
}

// TemplateFlags holds flags for the template command.
type TemplateFlags struct {
	Profile string
	Script  string
	Output  string
	Force   bool
}

// buildRoot assembles the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	statusFlags := &StatusFlags{}
	templateFlags := &TemplateFlags{}

	owfillCommand := command{flags: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createInitDBCommand(owfillCommand),
		createRunCommand(owfillCommand, runFlags),
		createServeCommand(owfillCommand),
		createStatusCommand(owfillCommand, statusFlags),
		createTemplateCommand(owfillCommand, templateFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "owfill",
		Short: "Historical weather backfill for OpenWeather",
		Long: `Owfill detects gaps in locally stored OpenWeather history and fills
them one remote call at a time, pacing requests against a daily quota
and auditing every call and store attempt.

Examples:
  owfill initdb --config=owfill.toml
  owfill run --call-type=timemachine --config=owfill.toml
  owfill run --call-type=day_summary --batch=data/batch_files/day_summary/retry.json
  owfill serve owfill.toml          # Cron daemon plus dashboard API
  owfill status --config=owfill.toml --call-type=timemachine
  owfill status --server=http://remote:8080/api  # Remote status`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createInitDBCommand creates the initdb subcommand
func createInitDBCommand(owfillCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create tables and seed call templates",
		Long: `Create the audit and observation tables in the configured stores and
seed the default call templates. Safe to run repeatedly.

Examples:
  owfill initdb --config=owfill.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return owfillCommand.InitDB()
		},
	}
}

// createRunCommand creates the run subcommand
func createRunCommand(owfillCommand command, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one catch-up fill",
		Long: `Run one fill for a call type: detect missing keys in the configured
history window, materialize a batch file, and fetch each key under
governor control. With --batch an existing batch file is consumed
instead and gap detection is skipped.

Examples:
  owfill run --call-type=timemachine --config=owfill.toml
  owfill run --call-type=day_summary --batch=data/batch_files/day_summary/retry.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return owfillCommand.Run(RunFlags{
				CallType:  runFlags.CallType,
				BatchFile: runFlags.BatchFile,
			})
		},
	}

	cmd.Flags().StringVar(&runFlags.CallType, "call-type", "", "call type: timemachine or day_summary (required)")
	cmd.Flags().StringVar(&runFlags.BatchFile, "batch", "", "existing batch file to consume (skips gap detection)")

	if err := cmd.MarkFlagRequired("call-type"); err != nil {
		panic(err)
	}

	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(owfillCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the continuous catch-up daemon",
		Long: `Run fills on the configured cron schedules until interrupted,
optionally serving the read-only dashboard API and Prometheus metrics.

Examples:
  owfill serve --config=owfill.toml
  owfill serve owfill.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return owfillCommand.Serve(args)
		},
	}
}

// createStatusCommand creates the status subcommand
func createStatusCommand(owfillCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracking state and recent activity",
		Long: `Show the tracking rows external monitors watch, plus recent call and
store-outcome audits for a single call type. Reads the audit store
directly, or a running daemon when --server is given.

Examples:
  owfill status --config=owfill.toml                     # All tracking rows
  owfill status --config=owfill.toml --call-type=timemachine
  owfill status --server=http://remote:8080/api          # Remote overview`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return owfillCommand.Status(StatusFlags{
				CallType:   statusFlags.CallType,
				ServerURL:  statusFlags.ServerURL,
				APITimeout: statusFlags.APITimeout,
				Limit:      statusFlags.Limit,
			})
		},
	}

	cmd.Flags().StringVar(&statusFlags.CallType, "call-type", "", "call type (optional)")
	cmd.Flags().StringVar(&statusFlags.ServerURL, "server", "", "running daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().IntVar(&statusFlags.Limit, "limit", 10, "recent rows to show per table")

	return cmd
}

// createTemplateCommand creates the template command
func createTemplateCommand(owfillCommand command, templateFlags *TemplateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Create a starter config file",
		Long: `Create a starter TOML configuration for a new deployment. The
generated file loads as-is once the credential placeholders are set.

Supported profiles:
  minimal  - One-shot fills: stores, location, budgets, API credential
  daemon   - Adds file logging, dashboard API, metrics, cron schedules
  mirror   - Adds the ClickHouse audit mirror on top of daemon

Examples:
  owfill template --profile=minimal
  owfill template --profile=daemon --output=./owfill.toml
  owfill template --profile=mirror --script=owfill-prod --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return owfillCommand.Template(TemplateFlags{
				Profile: templateFlags.Profile,
				Script:  templateFlags.Script,
				Output:  templateFlags.Output,
				Force:   templateFlags.Force,
			})
		},
	}

	cmd.Flags().StringVar(&templateFlags.Profile, "profile", "", "config profile (required): minimal, daemon, mirror")
	cmd.Flags().StringVar(&templateFlags.Script, "script", "", "script name for tracking rows (defaults to owfill)")
	cmd.Flags().StringVar(&templateFlags.Output, "output", "", "output file path (defaults to script.toml)")
	cmd.Flags().BoolVar(&templateFlags.Force, "force", false, "overwrite existing config file")

	if err := cmd.MarkFlagRequired("profile"); err != nil {
		panic(err)
	}

	return cmd
}
