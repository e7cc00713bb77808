// Package cli implements the trafficgen command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olympisai/trafficgen/internal/logging"
)

var version = "0.1.0"

// ErrThresholdsFailed is returned when a run completes but at least one
// threshold did not hold.
var ErrThresholdsFailed = errors.New("thresholds failed")

// app carries state shared by all subcommands.
type app struct {
	logCfg logging.Config
	logger *zap.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{logCfg: logging.DefaultConfig()}

	cmd := &cobra.Command{
		Use:     "trafficgen",
		Short:   "Synthetic traffic generator for the store API",
		Version: version,
		Long: `trafficgen drives a pool of virtual users against the store API,
following a staged ramp of worker counts.

Two scenarios are built in:
  load    dashboard reads with an occasional store creation
  stress  back-to-back store creation

Results are checked per named request and summarized at the end; thresholds
turn a run into a pass/fail gate.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCfg.FilePath != "" && !cmd.Flags().Changed("log-output") {
				a.logCfg.Output = "both"
			}
			if w := cmd.ErrOrStderr(); w != os.Stderr {
				a.logCfg.Writer = w
			}
			logger, err := logging.New(a.logCfg)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.logCfg.Level, "log-level", a.logCfg.Level, "log level (debug, info, warn, error)")
	flags.StringVar(&a.logCfg.Format, "log-format", a.logCfg.Format, "log format (console, json)")
	flags.StringVar(&a.logCfg.Output, "log-output", a.logCfg.Output, "log destination (stderr, file, both)")
	flags.StringVar(&a.logCfg.FilePath, "log-file", "", "write logs to this file, rotated by size")
	flags.IntVar(&a.logCfg.MaxSize, "log-max-size", 100, "log file size in MB before rotation")
	flags.IntVar(&a.logCfg.MaxBackups, "log-max-backups", 3, "rotated log files to keep")
	flags.IntVar(&a.logCfg.MaxAge, "log-max-age", 7, "days to keep rotated log files")

	cmd.AddCommand(newRunCmd(a, &runOptions{}))
	cmd.AddCommand(newValidateCmd(a))
	cmd.AddCommand(newProfilesCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the command line with ctx, which is cancelled on interrupt
// by the caller.
func Execute(ctx context.Context) error {
	return ExecuteArgs(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteArgs runs the command tree with explicit args and writers.
func ExecuteArgs(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, ErrThresholdsFailed) {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return err
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrThresholdsFailed):
		return 99
	default:
		return 1
	}
}
