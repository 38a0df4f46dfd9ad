package main

import (
	"fmt"
	"os"

	"github.com/tetherproc/tether/internal/cli"
	"github.com/tetherproc/tether/internal/supervise"
)

func main() {
	// Spawned workers re-exec this binary; nothing to run here unless a
	// registry is shared, so an empty one rejects stray spawn requests.
	supervise.Main(supervise.NewRegistry())

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
