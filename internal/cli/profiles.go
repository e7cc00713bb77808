package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/olympisai/trafficgen/internal/loadgen/config"
)

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles [NAME]",
		Short: "List the built-in profiles, or print one as YAML",
		Long: `Without arguments, list the built-in profiles. With a profile name, print
its configuration as YAML; the output is a valid starting point for
run --config.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: config.ProfileNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				cfg, err := config.LoadProfile(args[0])
				if err != nil {
					return err
				}
				data, err := config.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("failed to render profile: %w", err)
				}
				_, err = out.Write(data)
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSCENARIO\tSTAGES\tDESCRIPTION")
			for _, p := range config.Profiles() {
				cfg := p.Config()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, cfg.Scenario, config.FormatStages(cfg.Stages), p.Description)
			}
			return w.Flush()
		},
	}
}
