// Command stubapi serves an in-memory store API for trying trafficgen locally.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/olympisai/trafficgen/internal/logging"
	"github.com/olympisai/trafficgen/internal/stubapi"
)

func main() {
	var (
		addr   string
		cfg    stubapi.Config
		logCfg = logging.DefaultConfig()
	)

	cmd := &cobra.Command{
		Use:          "stubapi",
		Short:        "Serve an in-memory store API to run trafficgen against",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logCfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cfg.Logger = logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return stubapi.New(cfg).ListenAndServe(ctx, addr)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8000", "listen address")
	f.DurationVar(&cfg.Latency, "latency", 0, "delay added to every response")
	f.Float64Var(&cfg.FailureRate, "failure-rate", 0, "chance of answering 500 (0 to 1)")
	f.Int64Var(&cfg.Seed, "seed", 0, "seed for failure injection")
	f.StringVar(&logCfg.Level, "log-level", logCfg.Level, "log level (debug, info, warn, error)")
	f.StringVar(&logCfg.Format, "log-format", logCfg.Format, "log format (console, json)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
