package main

import (
	"fmt"
	"os"

	"github.com/archon-ai/mcp-controlplane/cmd/mcp-controlplane/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
