package commands

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/archon-ai/mcp-controlplane/internal/execstream"
	"github.com/archon-ai/mcp-controlplane/internal/logging"
)

// execOptions are the "exec" subcommand's own flags.
type execOptions struct {
	bearerToken string
}

// newExecCommand builds the "exec" debug subcommand: dials a pod's raw
// exec WebSocket URL directly (bypassing the Supervisor/backend.Driver
// split) and pipes the local terminal's stdin/stdout onto its stdin/stdout
// channels, the way `kubectl exec` does. Useful for an operator diagnosing
// an Exec Stream Handler without going through the HTTP bridge route.
func newExecCommand(root *rootOptions) *cobra.Command {
	var opts execOptions

	cmd := &cobra.Command{
		Use:   "exec <exec-url>",
		Short: "Attach to a pod's exec WebSocket directly, for debugging the Exec Stream Handler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(root.verbose)

			header := http.Header{}
			if opts.bearerToken != "" {
				header.Set("Authorization", "Bearer "+opts.bearerToken)
			}

			handler, err := execstream.Dial(cmd.Context(), args[0], header)
			if err != nil {
				return fmt.Errorf("dialing exec stream: %w", err)
			}
			defer handler.Close()

			go io.Copy(os.Stdout, handler.Stdout())
			go io.Copy(os.Stderr, handler.Stderr())
			if _, err := io.Copy(handler, os.Stdin); err != nil && err != io.EOF {
				return fmt.Errorf("copying stdin to exec stream: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.bearerToken, "bearer-token", "", "Bearer token for the exec endpoint's Authorization header")
	return cmd
}
