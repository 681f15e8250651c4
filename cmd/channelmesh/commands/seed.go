package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSeedCmd creates the `channelmesh seed` command.
func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <roster.yaml>",
		Short: "Load agents and channel members from a roster file",
		Long: `Create the agents and channel memberships listed in a YAML roster.
Agents that already exist are skipped, so a roster can be applied repeatedly.

Examples:
  channelmesh seed roster.yaml
  STORE=postgres DATABASE_URL=postgres://... channelmesh seed roster.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.seed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agents created: %d, skipped: %d, memberships: %d\n",
				res.AgentsCreated, res.AgentsSkipped, res.Members)
			return nil
		},
	}
}
