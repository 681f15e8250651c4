package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/channelmesh/core"
)

// newTriggerCmd creates the `channelmesh trigger` command.
func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger <message>",
		Short: "Post a message and print the agents' replies",
		Long: `Post one user message to a channel, wait for every agent it mentions
(and every agent those delegate to), then print the channel transcript.

With STORE=memory, pass --roster so the channel has agents.

Examples:
  channelmesh trigger --roster roster.yaml --channel general --user alice "@researcher summarize today"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			channelID, _ := cmd.Flags().GetString("channel")
			username, _ := cmd.Flags().GetString("user")
			roster, _ := cmd.Flags().GetString("roster")
			if roster == "" {
				roster = cfg.RosterFile
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if roster != "" {
				if _, err := a.seed(ctx, roster); err != nil {
					return fmt.Errorf("seed roster: %w", err)
				}
			}

			mesh := a.mesh(ctx, nil)
			res, err := mesh.PostMessage(ctx, channelID, username, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(res.Placeholders) == 0 {
				fmt.Fprintln(out, "no channel agent was mentioned")
				return nil
			}

			msgs, err := mesh.Messages(ctx, channelID, 200)
			if err != nil {
				return err
			}
			names := map[string]string{}
			for _, p := range res.Placeholders {
				names[p.AgentID] = p.AgentName
			}
			for _, m := range msgs {
				author := m.AuthorID
				if m.AuthorKind == core.AuthorAgent {
					if n, ok := names[m.AuthorID]; ok {
						author = n
					} else if agent, err := a.store.GetAgent(ctx, m.AuthorID); err == nil {
						author = agent.Name
					}
				}
				fmt.Fprintf(out, "[%s] %s\n", author, strings.TrimSpace(m.Content))
			}
			return nil
		},
	}

	cmd.Flags().String("channel", "general", "channel id")
	cmd.Flags().String("user", "cli", "username of the poster")
	cmd.Flags().String("roster", "", "roster YAML to seed first (defaults to ROSTER_FILE)")
	return cmd
}
