// Package commands implements the channelmesh CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "channelmesh",
		Short: "Multi-agent delegation for chat channels",
		Long: `channelmesh runs AI agents that are members of chat channels. Agents
answer when @mentioned and delegate to each other the same way.

Configuration is read from the environment (and a .env file if present).

Examples:
  channelmesh serve
  channelmesh seed roster.yaml
  channelmesh trigger --channel general --user alice "@researcher what is new?"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(version),
		newSeedCmd(),
		newTriggerCmd(),
	)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
