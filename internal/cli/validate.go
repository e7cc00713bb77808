package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olympisai/trafficgen/internal/loadgen/config"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check configuration files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0

			for _, path := range args {
				cfg, err := config.LoadConfig(path)
				if err == nil {
					cfg.ApplyDefaults()
					err = cfg.Validate()
				}
				if err != nil {
					failed++
					if a.logger != nil {
						a.logger.Debug("invalid configuration", zap.String("path", path), zap.Error(err))
					}
					fmt.Fprintf(out, "✗ %s\n  %v\n", path, err)
					continue
				}

				fmt.Fprintf(out, "✓ %s: %s, %d stages (%s), peak %d VUs, %s\n",
					path, cfg.Scenario, len(cfg.Stages), config.FormatStages(cfg.Stages),
					cfg.MaxVUs(), cfg.TotalDuration())
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d configuration files are invalid", failed, len(args))
			}
			return nil
		},
	}
}
