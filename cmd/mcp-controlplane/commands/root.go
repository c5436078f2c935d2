// Package commands implements the mcp-controlplane CLI's cobra command
// tree, grounded on the teacher's cmd/docker-mcp/commands/gateway.go
// factory-function style: a root command owning shared flags, and each
// subcommand building its own Config struct bound directly to pflag
// variables.
package commands

import (
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCommand builds the mcp-controlplane root command and wires the
// serve/dispatch/exec subcommands onto it.
func NewRootCommand() *cobra.Command {
	var opts rootOptions

	root := &cobra.Command{
		Use:           "mcp-controlplane",
		Short:         "Supervises MCP server instances as container workloads",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file (optional)")
	root.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Verbose (debug) logging")

	root.AddCommand(newServeCommand(&opts))
	root.AddCommand(newDispatchCommand(&opts))
	root.AddCommand(newExecCommand(&opts))
	return root
}
