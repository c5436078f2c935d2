package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archon-ai/mcp-controlplane/internal/dispatcher"
	"github.com/archon-ai/mcp-controlplane/internal/logging"
)

// newDispatchCommand builds the "dispatch" subcommand: resolves the
// deployment mode once and prints it, useful for operators diagnosing
// which backend a deployment will land on before running "serve".
func newDispatchCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Resolve and print the deployment mode without starting the supervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Init(root.verbose)

			d := dispatcher.New(dispatcher.NewOptionsFromEnv())
			binding, err := d.Resolve(cmd.Context())
			if err != nil {
				return fmt.Errorf("resolving deployment mode: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deployment_mode=%s\n", binding.Mode)
			return nil
		},
	}
	return cmd
}
